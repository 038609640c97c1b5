package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
	"shelfwise/internal/store"
	"shelfwise/internal/store/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	// committed is read at publish time to prove the write landed first.
	committed func() bool
	sawCommit []bool
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	if p.committed != nil {
		p.sawCommit = append(p.sawCommit, p.committed())
	}
}

type failingBackend struct {
	store.Backend
	err error
}

func (f failingBackend) Apply(context.Context, []store.Change) error { return f.err }

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*store.Store, *memory.Backend, *recordingPublisher) {
	t.Helper()
	backend := memory.New()
	pub := &recordingPublisher{}
	s := store.New(backend, pub, store.WithClock(func() time.Time { return fixedNow }))
	return s, backend, pub
}

func seedBook(t *testing.T, s *store.Store, copies int) (*domain.Author, *domain.Book) {
	t.Helper()
	ctx := context.Background()

	uow := s.Begin()
	author := domain.NewAuthor("George", "Orwell", "")
	uow.Authors.Add(author)
	book, err := domain.NewBook("1984", author.ID, copies)
	require.NoError(t, err)
	uow.Books.Add(book)
	require.NoError(t, uow.SaveChanges(ctx))
	return author, book
}

func TestSaveChangesPublishesAfterCommit(t *testing.T) {
	s, backend, pub := newStore(t)
	ctx := context.Background()

	var bookID uuid.UUID
	pub.committed = func() bool {
		_, err := backend.Books().Get(ctx, bookID)
		return err == nil
	}

	uow := s.Begin()
	book, err := domain.NewBook("Animal Farm", uuid.New(), 2)
	require.NoError(t, err)
	bookID = book.ID
	require.NoError(t, book.Checkout())
	uow.Books.Add(book)

	require.Empty(t, pub.events)
	require.NoError(t, uow.SaveChanges(ctx))

	require.Len(t, pub.events, 2)
	assert.Equal(t, domain.EventBookAdded, pub.events[0].EventType())
	assert.Equal(t, domain.EventBookCheckedOut, pub.events[1].EventType())
	assert.Equal(t, []bool{true, true}, pub.sawCommit)
	assert.Zero(t, book.PendingEvents())
	assert.Equal(t, 1, book.Version)
}

func TestFailedCommitPublishesNothing(t *testing.T) {
	pub := &recordingPublisher{}
	boom := errors.New("disk on fire")
	s := store.New(failingBackend{Backend: memory.New(), err: boom}, pub)

	uow := s.Begin()
	book, err := domain.NewBook("Lost", uuid.New(), 1)
	require.NoError(t, err)
	uow.Books.Add(book)

	err = uow.SaveChanges(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, pub.events)
	assert.Equal(t, 1, book.PendingEvents())
}

func TestSaveChangesStampsAuditFields(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := store.WithActor(context.Background(), "librarian@example.com")

	uow := s.Begin()
	author := domain.NewAuthor("Ursula", "Le Guin", "")
	uow.Authors.Add(author)
	require.NoError(t, uow.SaveChanges(ctx))

	assert.Equal(t, fixedNow, author.CreatedAt)
	assert.Equal(t, "librarian@example.com", author.CreatedBy)
	assert.Nil(t, author.UpdatedAt)

	uow = s.Begin()
	loaded, err := uow.Authors.GetByID(ctx, author.ID)
	require.NoError(t, err)
	loaded.Biography = "Earthsea"
	uow.Authors.Update(loaded)
	require.NoError(t, uow.SaveChanges(store.WithActor(ctx, "admin@example.com")))

	require.NotNil(t, loaded.UpdatedAt)
	assert.Equal(t, "admin@example.com", loaded.ModifiedBy)
	assert.Equal(t, 2, loaded.Version)
}

func TestDeleteIsPolymorphic(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	uow := s.Begin()
	author := domain.NewAuthor("Jane", "Austen", "")
	category := domain.NewCategory("Classics", "")
	uow.Authors.Add(author)
	uow.Categories.Add(category)
	require.NoError(t, uow.SaveChanges(ctx))

	uow = s.Begin()
	a, err := uow.Authors.GetByID(ctx, author.ID)
	require.NoError(t, err)
	c, err := uow.Categories.GetByID(ctx, category.ID)
	require.NoError(t, err)
	uow.Authors.Delete(ctx, a)
	uow.Categories.Delete(ctx, c)
	require.NoError(t, uow.SaveChanges(ctx))

	uow = s.Begin()
	kept, err := uow.Authors.GetByID(ctx, author.ID)
	require.NoError(t, err, "soft-deleted rows stay reachable by id")
	assert.True(t, kept.IsDeleted())
	require.NotNil(t, kept.DeletedAt)

	all, err := uow.Authors.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	exists, err := uow.Authors.Exists(ctx, author.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = uow.Categories.GetByID(ctx, category.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStaleUpdateAbortsWholeChangeSet(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	author, book := seedBook(t, s, 3)

	first, second := s.Begin(), s.Begin()
	b1, err := first.Books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	b2, err := second.Books.GetByID(ctx, book.ID)
	require.NoError(t, err)

	require.NoError(t, b1.Checkout())
	first.Books.Update(b1)
	require.NoError(t, first.SaveChanges(ctx))

	require.NoError(t, b2.Checkout())
	second.Books.Update(b2)
	a, err := second.Authors.GetByID(ctx, author.ID)
	require.NoError(t, err)
	a.Biography = "should not land"
	second.Authors.Update(a)

	err = second.SaveChanges(ctx)
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)

	check := s.Begin()
	stored, err := check.Books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AvailableCopies)
	storedAuthor, err := check.Authors.GetByID(ctx, author.ID)
	require.NoError(t, err)
	assert.Empty(t, storedAuthor.Biography)
}

func TestDuplicateISBNIsRejected(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	uow := s.Begin()
	a, err := domain.NewBook("One", uuid.New(), 1)
	require.NoError(t, err)
	a.ISBN = "978-0451524935"
	b, err := domain.NewBook("Two", uuid.New(), 1)
	require.NoError(t, err)
	b.ISBN = "978-0451524935"
	uow.Books.Add(a)
	uow.Books.Add(b)

	assert.ErrorIs(t, uow.SaveChanges(ctx), store.ErrDuplicate)
}

func TestAddThenDeleteWritesNothing(t *testing.T) {
	s, _, pub := newStore(t)
	ctx := context.Background()

	uow := s.Begin()
	c := domain.NewCategory("Temp", "")
	uow.Categories.Add(c)
	uow.Categories.Delete(ctx, c)
	assert.Zero(t, uow.Pending())
	require.NoError(t, uow.SaveChanges(ctx))
	assert.Empty(t, pub.events)
}

func TestFindersUseSpecifications(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	_, book := seedBook(t, s, 2)

	uow := s.Begin()
	patron := domain.NewPatron("user-1", "Pat Reader", "pat@example.com", "LIB-20240501-AAAAAA")
	uow.Patrons.Add(patron)
	overdue := domain.NewCheckoutRecord(book.ID, patron.ID, fixedNow.AddDate(0, 0, -30), 14, "")
	uow.Checkouts.Add(overdue)
	require.NoError(t, uow.SaveChanges(ctx))

	uow = s.Begin()
	found, err := uow.Patrons.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, patron.ID, found.ID)

	active, err := uow.Checkouts.ActiveFor(ctx, book.ID, patron.ID)
	require.NoError(t, err)
	assert.Equal(t, overdue.ID, active.ID)

	late, err := uow.Checkouts.Overdue(ctx, fixedNow)
	require.NoError(t, err)
	require.Len(t, late, 1)
	require.NotNil(t, late[0].Book)
	assert.Equal(t, "1984", late[0].Book.Title)
	require.NotNil(t, late[0].Patron)

	n, err := uow.Checkouts.Count(ctx, spec.New(spec.Overdue(fixedNow)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = uow.Checkouts.ActiveFor(ctx, uuid.New(), patron.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
