package spec

import (
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTokensDropsSingleCharacters(t *testing.T) {
	assert.Equal(t, []string{"george", "orwell"}, Tokens("  George  a ORWELL "))
	assert.Empty(t, Tokens(""))
	assert.Empty(t, Tokens("a b c"))
}

func TestSearchIsNilWithoutTokens(t *testing.T) {
	assert.Nil(t, Search(nil, BookTitle))
	s := New(NotDeleted).And(Search(Tokens("x"), BookTitle))
	assert.Len(t, s.Where, 1)
}

func TestSearchCrossesTokensAndFields(t *testing.T) {
	e := Search([]string{"dune", "herbert"}, BookTitle, BookISBN)
	or, ok := e.(Any)
	require.True(t, ok)
	assert.Len(t, or, 4)
	assert.Contains(t, or, Expr(Where(BookISBN, Contains, "herbert")))
}

func TestForCountKeepsOnlyThePredicate(t *testing.T) {
	s := Books(QueryParameters{PageNumber: 3, PageSize: 5, SearchTerm: "dune"})
	require.True(t, s.Paged())
	require.NotEmpty(t, s.Includes)

	c := s.ForCount()
	assert.Equal(t, s.Where, c.Where)
	assert.False(t, c.Paged())
	assert.Zero(t, c.Offset)
	assert.Empty(t, c.Order)
	assert.Empty(t, c.Includes)
}

func TestBuildersDoNotShareSlices(t *testing.T) {
	base := New(NotDeleted).OrderBy(BookTitle, false)
	a := base.And(Where(BookLanguage, EqFold, "english")).OrderBy(FieldID, false)
	b := base.And(Where(BookAvailableCopies, Gt, 0))

	assert.Len(t, base.Where, 1)
	assert.Len(t, base.Order, 1)
	assert.NotEqual(t, a.Where[1], b.Where[1])
}

func TestBooksIgnoresMalformedFilters(t *testing.T) {
	s := Books(QueryParameters{Filters: map[string]string{
		"authorId":  "not-a-uuid",
		"available": "maybe",
	}})
	assert.Equal(t, All{NotDeleted}, s.Where)
}

func TestBooksSortFallsBackToNewestFirst(t *testing.T) {
	s := Books(QueryParameters{SortBy: "password"})
	assert.Equal(t, []Order{{Field: FieldCreatedAt, Desc: true}}, s.Order)

	s = Books(QueryParameters{SortBy: "Title", SortDirection: "DESC"})
	assert.Equal(t, []Order{{Field: BookTitle, Desc: true}}, s.Order)
}

func TestCheckoutsScopesAndFilters(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	patron := uuid.New()
	book := uuid.New()

	s := Checkouts(QueryParameters{
		SearchTerm: "Animal Farm",
		Filters:    map[string]string{"status": "Overdue", "bookId": book.String()},
	}, &patron, now)

	assert.Contains(t, s.Where, Expr(Where(CheckoutPatronID, Eq, patron)))
	assert.Contains(t, s.Where, Expr(Where(CheckoutBookID, Eq, book)))
	assert.Contains(t, s.Where, Overdue(now))
	assert.Contains(t, s.Where, Expr(Any{
		Where(CheckoutBookTitle, Contains, "animal farm"),
		Where(CheckoutPatronEmail, Contains, "animal farm"),
		Where(CheckoutPatronName, Contains, "animal farm"),
	}), "the whole term is matched, not split")
	assert.Equal(t, []Order{{Field: CheckoutCheckedOutAt, Desc: true}}, s.Order)
}

func TestParseQueryReadsFilters(t *testing.T) {
	q, err := url.ParseQuery("pageNumber=2&pageSize=500&sortBy=title&searchTerm=+dune+&filters[language]=French&filters[]=x&other=1")
	require.NoError(t, err)

	p := ParseQuery(q)
	assert.Equal(t, 2, p.PageNumber)
	assert.Equal(t, MaxPageSize, p.PageSize)
	assert.Equal(t, "asc", p.SortDirection)
	assert.Equal(t, "dune", p.SearchTerm)
	assert.Equal(t, map[string]string{"language": "French"}, p.Filters)

	v, ok := p.Filter("LANGUAGE")
	assert.True(t, ok)
	assert.Equal(t, "French", v)
}

func TestCacheKeyIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		filters := rapid.MapOf(rapid.StringMatching(`[a-z]{1,6}`), rapid.StringMatching(`[a-z0-9]{0,6}`)).Draw(t, "filters")
		p := QueryParameters{
			PageNumber: rapid.IntRange(1, 50).Draw(t, "page"),
			PageSize:   rapid.IntRange(1, 100).Draw(t, "size"),
			SearchTerm: rapid.StringMatching(`[a-z ]{0,10}`).Draw(t, "term"),
			Filters:    filters,
		}

		copied := make(map[string]string, len(filters))
		for k, v := range filters {
			copied[k] = v
		}
		q := p
		q.Filters = copied

		if p.CacheKey("books_") != q.CacheKey("books_") {
			t.Fatalf("equal parameters produced different keys")
		}
		q.PageNumber++
		if p.CacheKey("books_") == q.CacheKey("books_") {
			t.Fatalf("different page produced the same key")
		}
	})
}

func TestCacheKeySeparatesAmbiguousParameters(t *testing.T) {
	pairs := [][2]QueryParameters{
		{
			{Filters: map[string]string{"authorId": "a_available:true"}},
			{Filters: map[string]string{"authorId": "a", "available": "true"}},
		},
		{
			{SortBy: "title_desc"},
			{SortBy: "title", SortDirection: "desc"},
		},
		{
			{SearchTerm: "dune_x:y"},
			{SearchTerm: "dune", Filters: map[string]string{"x": "y"}},
		},
		{
			{Filters: map[string]string{"q": "dune"}},
			{SearchTerm: "dune"},
		},
	}
	for _, pair := range pairs {
		a, b := pair[0].Normalize(), pair[1].Normalize()
		assert.NotEqual(t, a.CacheKey("books_"), b.CacheKey("books_"), "%+v vs %+v", a, b)
	}
}

func TestCacheKeyIsInjective(t *testing.T) {
	text := rapid.StringMatching(`[a-z_:&=.]{0,6}`)
	params := rapid.Custom(func(t *rapid.T) QueryParameters {
		return QueryParameters{
			PageNumber:    rapid.IntRange(1, 3).Draw(t, "page"),
			PageSize:      rapid.IntRange(1, 3).Draw(t, "size"),
			SortBy:        text.Draw(t, "sort"),
			SortDirection: text.Draw(t, "dir"),
			SearchTerm:    text.Draw(t, "term"),
			Filters:       rapid.MapOf(rapid.StringMatching(`[a-z_:]{1,4}`), text).Draw(t, "filters"),
		}
	})
	rapid.Check(t, func(t *rapid.T) {
		p, q := params.Draw(t, "p"), params.Draw(t, "q")
		if p.CacheKey("books_") == q.CacheKey("books_") && !sameParameters(p, q) {
			t.Fatalf("%+v and %+v share key %s", p, q, p.CacheKey("books_"))
		}
	})
}

func sameParameters(p, q QueryParameters) bool {
	if p.PageNumber != q.PageNumber || p.PageSize != q.PageSize || p.SortBy != q.SortBy ||
		p.SortDirection != q.SortDirection || p.SearchTerm != q.SearchTerm || len(p.Filters) != len(q.Filters) {
		return false
	}
	for k, v := range p.Filters {
		if w, ok := q.Filters[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func TestPagedResultFlags(t *testing.T) {
	p := QueryParameters{PageNumber: 2, PageSize: 10}
	r := NewPagedResult[int](nil, 25, p)
	assert.Equal(t, 3, r.TotalPages)
	assert.True(t, r.HasPrevious)
	assert.True(t, r.HasNext)
	assert.NotNil(t, r.Items)

	last := NewPagedResult([]int{1}, 21, QueryParameters{PageNumber: 3, PageSize: 10})
	assert.False(t, last.HasNext)

	empty := NewPagedResult[int](nil, 0, QueryParameters{PageNumber: 1, PageSize: 10})
	assert.Zero(t, empty.TotalPages)
	assert.False(t, empty.HasNext)
}
