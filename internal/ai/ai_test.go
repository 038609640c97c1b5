package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwise/internal/apperr"
	"shelfwise/internal/domain"
	"shelfwise/internal/store"
	"shelfwise/internal/store/memory"
)

// scripted answers by the first prompt substring that matches.
type scripted struct {
	mu      sync.Mutex
	answers map[string]string
	err     error
	calls   int
}

func (s *scripted) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	for k, v := range s.answers {
		if strings.Contains(prompt, k) {
			return v, nil
		}
	}
	return "", ErrEmptyCompletion
}

func TestCleanDescription(t *testing.T) {
	cases := map[string]string{
		"Here's a possible description: A dark tale.": "A dark tale.",
		`"Quoted throughout."`:                         "Quoted throughout.",
		"  Plain text.  ":                              "Plain text.",
		`""`:                                           `""`,
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanDescription(in), in)
	}
}

func TestExtractStrings(t *testing.T) {
	assert.Equal(t, []string{"Fiction", "Mystery"}, extractStrings("```json\n[\"Fiction\", \"Mystery\"]\n```"))
	assert.Equal(t, []string{"A", "B"}, extractStrings(`Sure! Here you go: ["A", " ", "B"] hope it helps`))
	assert.Nil(t, extractStrings("no array here"))
	assert.Nil(t, extractStrings(`[1, 2`))
	assert.Nil(t, extractStrings(`[{"a":1}]`))
}

func TestUnconfiguredService(t *testing.T) {
	svc := New(nil, nil)
	ctx := context.Background()
	assert.False(t, svc.IsAvailable())

	d, err := svc.GenerateDescription(ctx, "1984", "George Orwell")
	require.NoError(t, err)
	assert.Equal(t, `A book titled "1984" by George Orwell.`, d)
	assert.Nil(t, svc.Categorize(ctx, "1984", "George Orwell", "", nil))
	assert.Equal(t, "{}", svc.SmartSearch(ctx, "anything"))

	uc := NewUseCases(svc, store.New(memory.New(), nil))
	_, err = uc.Categorize(ctx, CategorizeRequest{Title: "1984", Author: "George Orwell"})
	assert.Equal(t, "AI service is not configured.", apperr.Message(err))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.False(t, uc.Status().Available)
}

func TestGenerateDescriptionFallsBack(t *testing.T) {
	svc := New(&scripted{err: errors.New("boom")}, nil)
	d, err := svc.GenerateDescription(context.Background(), "Emma", "Jane Austen")
	require.NoError(t, err)
	assert.Equal(t, `A book titled "Emma" by Jane Austen.`, d)

	svc = New(&scripted{answers: map[string]string{"Emma": `Here is the description: "A matchmaker errs."`}}, nil)
	d, err = svc.GenerateDescription(context.Background(), "Emma", "Jane Austen")
	require.NoError(t, err)
	assert.Equal(t, "A matchmaker errs.", d)
}

func TestCategorizeSplitsExistingAndNew(t *testing.T) {
	st := store.New(memory.New(), nil)
	ctx := context.Background()
	uow := st.Begin()
	uow.Categories.Add(domain.NewCategory("Fiction", ""))
	uow.Categories.Add(domain.NewCategory("Dystopia", ""))
	require.NoError(t, uow.SaveChanges(ctx))

	model := &scripted{answers: map[string]string{"Categorize": `["fiction", "Political Satire"]`}}
	uc := NewUseCases(New(model, nil), st)
	got, err := uc.Categorize(ctx, CategorizeRequest{Title: "1984", Author: "George Orwell"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Fiction"}, got.Existing)
	assert.Equal(t, []string{"Political Satire"}, got.Suggested)
}

func TestSmartSearchParsing(t *testing.T) {
	ctx := context.Background()
	model := &scripted{answers: map[string]string{"hawking": "```\n{\"author\": \"Hawking\", \"genre\": \"science\"}\n```"}}
	uc := NewUseCases(New(model, nil), store.New(memory.New(), nil))

	terms, err := uc.SmartSearch(ctx, SearchRequest{Query: "books by hawking"})
	require.NoError(t, err)
	assert.Equal(t, SearchTerms{Author: "Hawking", Genre: "science"}, *terms)

	model.answers = map[string]string{"space": "space travel"}
	terms, err = uc.SmartSearch(ctx, SearchRequest{Query: "space"})
	require.NoError(t, err)
	assert.Equal(t, "space travel", terms.Keywords)
}

func TestRecommendations(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	st := store.New(memory.New(), nil, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	uow := st.Begin()
	orwell := domain.NewAuthor("George", "Orwell", "")
	uow.Authors.Add(orwell)
	var books []*domain.Book
	for _, title := range []string{"1984", "Animal Farm", "Homage to Catalonia", "Burmese Days", "Down and Out", "Coming Up for Air", "Keep the Aspidistra Flying"} {
		b, err := domain.NewBook(title, orwell.ID, 1)
		require.NoError(t, err)
		uow.Books.Add(b)
		books = append(books, b)
	}
	patron := domain.NewPatron("reader", "Reader", "reader@example.com", "LIB-20240301-AAAAAA")
	uow.Patrons.Add(patron)
	rec := domain.NewCheckoutRecord(books[0].ID, patron.ID, now.AddDate(0, 0, -30), 14, "")
	require.NoError(t, rec.MarkReturned(now.AddDate(0, 0, -20), ""))
	uow.Checkouts.Add(rec)
	require.NoError(t, uow.SaveChanges(ctx))

	model := &scripted{answers: map[string]string{
		"From this catalog": `["animal farm", "1984", "Not Held"]`,
		"recommend 5":       `["Brave New World", "1984", "Fahrenheit 451"]`,
	}}
	uc := NewUseCases(New(model, nil), st)
	reader := domain.Actor{UserID: "reader", Role: domain.RolePatron}

	got, err := uc.Recommendations(ctx, reader)
	require.NoError(t, err)
	require.Len(t, got.FromLibrary, recommendLimit)
	assert.Equal(t, "Animal Farm", got.FromLibrary[0].Title)
	assert.Equal(t, "George Orwell", got.FromLibrary[0].Author)
	for _, b := range got.FromLibrary {
		assert.NotEqual(t, "1984", b.Title)
	}
	assert.Equal(t, []string{"Brave New World", "Fahrenheit 451"}, got.DiscoverMore)

	plain := NewUseCases(New(nil, nil), st)
	got, err = plain.Recommendations(ctx, reader)
	require.NoError(t, err)
	assert.Len(t, got.FromLibrary, recommendLimit)
	assert.Empty(t, got.DiscoverMore)

	_, err = plain.Recommendations(ctx, domain.Actor{UserID: "stranger"})
	assert.Equal(t, "Patron profile not found.", apperr.Message(err))
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	inner := &scripted{err: errors.New("upstream down")}
	c := WithBreaker(inner, "test", nil)
	for i := 0; i < 5; i++ {
		_, err := c.Complete(context.Background(), "hi")
		assert.Error(t, err)
	}
	assert.Equal(t, 3, inner.calls)
}

func TestNewCompleter(t *testing.T) {
	c, err := NewCompleter(Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewCompleter(Config{Provider: "anthropic", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewCompleter(Config{Provider: "bard", APIKey: "k"}, nil)
	assert.Error(t, err)
}
