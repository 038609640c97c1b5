package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwise/internal/spec"
)

func TestBookListingSQL(t *testing.T) {
	s := spec.Books(spec.QueryParameters{
		PageNumber: 2,
		PageSize:   5,
		SearchTerm: "orwell",
		SortBy:     "title",
		Filters:    map[string]string{"available": "true"},
	})

	query, args, err := bookModel.selectSQL(s)
	require.NoError(t, err)

	assert.Contains(t, query, `FROM "books" AS "b" LEFT JOIN "authors" AS "a" ON ("a"."id" = "b"."author_id")`)
	assert.Contains(t, query, `"b"."deleted" IS FALSE`)
	assert.Contains(t, query, `"a"."last_name" ILIKE $`)
	assert.Contains(t, query, `EXISTS`)
	assert.Contains(t, query, `"book_categories" AS "bc"`)
	assert.Contains(t, query, `ORDER BY LOWER("b"."title") ASC NULLS LAST, "b"."id" ASC`)
	assert.Contains(t, query, "LIMIT")
	assert.Contains(t, query, "OFFSET")
	assert.Contains(t, args, "%orwell%")
	assert.NotContains(t, query, "orwell", "values travel as parameters")
}

func TestCountDropsPagingAndOrder(t *testing.T) {
	s := spec.Books(spec.QueryParameters{PageNumber: 3, PageSize: 10}).ForCount()

	query, _, err := bookModel.countSQL(s)
	require.NoError(t, err)
	assert.Contains(t, query, `SELECT COUNT(*) FROM "books" AS "b"`)
	assert.NotContains(t, query, "ORDER BY")
	assert.NotContains(t, query, "LIMIT")
}

func TestCheckoutOverdueSQL(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	patron := uuid.New()
	s := spec.Checkouts(spec.QueryParameters{
		SearchTerm: "50%",
		Filters:    map[string]string{"overdue": "true"},
	}, &patron, now)

	query, args, err := checkoutModel.selectSQL(s)
	require.NoError(t, err)

	assert.Contains(t, query, `LEFT JOIN "books" AS "bk"`)
	assert.Contains(t, query, `LEFT JOIN "patrons" AS "p"`)
	assert.Contains(t, query, `"c"."due_date" < $`)
	assert.Contains(t, query, `ORDER BY "c"."checked_out_at" DESC NULLS FIRST`)
	assert.Contains(t, args, patron.String())
	assert.Contains(t, args, now)
	assert.Contains(t, args, `%50\%%`, "like wildcards in the term are escaped")
}

func TestCategoryLookupIsCaseInsensitive(t *testing.T) {
	query, args, err := categoryModel.selectSQL(spec.CategoryByName(" Science Fiction "))
	require.NoError(t, err)
	assert.Contains(t, query, `LOWER("cat"."name") = $1`)
	assert.Equal(t, []any{"science fiction"}, args)
}

func TestInExpandsToList(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	query, args, err := authorModel.selectSQL(spec.New(spec.Where(spec.FieldID, spec.In, []uuid.UUID{a, b})))
	require.NoError(t, err)
	assert.Contains(t, query, `"a"."id" IN ($1, $2)`)
	assert.Equal(t, []any{a.String(), b.String()}, args, "uuids bind as their text form")
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	_, _, err := authorModel.selectSQL(spec.New(spec.Where("password", spec.Eq, "x")))
	assert.Error(t, err)

	_, _, err = bookModel.selectSQL(spec.New().OrderBy(spec.BookCategoryName, false))
	assert.Error(t, err)
}

func TestNotAndEmptyAny(t *testing.T) {
	s := spec.New(spec.Not{Expr: spec.Where(spec.AuthorLastName, spec.Eq, "Austen")}, spec.Any{})
	query, _, err := authorModel.selectSQL(s)
	require.NoError(t, err)
	assert.Contains(t, query, `NOT (`)
	assert.Contains(t, query, `"a"."last_name" = $1`)
	assert.Contains(t, query, "FALSE")
}
