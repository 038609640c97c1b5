package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
)

// Store hands out units of work over one backend.
type Store struct {
	backend   Backend
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the clock used for audit stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for commit diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

func New(backend Backend, publisher Publisher, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		publisher: publisher,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		tracer:    otel.Tracer("shelfwise/store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Backend() Backend { return s.backend }

// Now is the store clock.
func (s *Store) Now() time.Time { return s.now() }

// Begin starts a unit of work. It is not safe for concurrent use; one
// request owns one unit of work.
func (s *Store) Begin() *UnitOfWork {
	u := &UnitOfWork{store: s, tracked: make(map[uuid.UUID]int)}
	u.Books = BookRepository{newRepository(s.backend.Books(), u)}
	u.Authors = newRepository(s.backend.Authors(), u)
	u.Categories = newRepository(s.backend.Categories(), u)
	u.Patrons = PatronRepository{newRepository(s.backend.Patrons(), u)}
	u.Checkouts = CheckoutRepository{newRepository(s.backend.Checkouts(), u)}
	return u
}

// UnitOfWork stages writes across repositories and commits them together.
type UnitOfWork struct {
	Books      BookRepository
	Authors    *Repository[domain.Author]
	Categories *Repository[domain.Category]
	Patrons    PatronRepository
	Checkouts  CheckoutRepository

	store   *Store
	changes []Change
	tracked map[uuid.UUID]int
}

func (u *UnitOfWork) stage(kind ChangeKind, rec domain.Record) {
	id := rec.Base().ID
	if i, ok := u.tracked[id]; ok {
		prev := u.changes[i].Kind
		switch {
		case prev == Insert && kind == Remove:
			// never persisted, nothing to write
			u.changes[i].Record = nil
		case prev == Insert:
			u.changes[i].Record = rec
		default:
			u.changes[i] = Change{Kind: kind, Record: rec}
		}
		return
	}
	u.tracked[id] = len(u.changes)
	u.changes = append(u.changes, Change{Kind: kind, Record: rec})
}

// Pending reports how many writes are staged.
func (u *UnitOfWork) Pending() int {
	n := 0
	for _, c := range u.changes {
		if c.Record != nil {
			n++
		}
	}
	return n
}

// SaveChanges stamps audit fields, commits every staged write through the
// backend and then publishes the events staged on the written entities.
// Publishing happens strictly after the commit and never fails the call.
func (u *UnitOfWork) SaveChanges(ctx context.Context) error {
	changes := make([]Change, 0, len(u.changes))
	for _, c := range u.changes {
		if c.Record != nil {
			changes = append(changes, c)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	ctx, span := u.store.tracer.Start(ctx, "store.save_changes",
		trace.WithAttributes(attribute.Int("change.count", len(changes))),
	)
	defer span.End()

	now := u.store.now()
	actor := ActorFrom(ctx)
	for _, c := range changes {
		base := c.Record.Base()
		switch c.Kind {
		case Insert:
			if base.CreatedAt.IsZero() {
				base.StampCreated(now, actor)
			}
		case Update:
			base.StampModified(now, actor)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.store.backend.Apply(ctx, changes); err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrConcurrencyConflict) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
		}
		return fmt.Errorf("save changes: %w", err)
	}

	u.changes = nil
	u.tracked = make(map[uuid.UUID]int)

	var events []domain.Event
	for _, c := range changes {
		if p, ok := c.Record.(interface{ PullEvents() []domain.Event }); ok {
			events = append(events, p.PullEvents()...)
		}
	}
	span.SetAttributes(attribute.Int("event.count", len(events)))

	if u.store.publisher == nil {
		return nil
	}
	for _, e := range events {
		u.store.publisher.Publish(context.WithoutCancel(ctx), e)
	}
	return nil
}

// Repository is the generic CRUD view over one entity set. Reads go
// straight to the backend; writes are staged on the unit of work.
type Repository[T any] struct {
	table Table[T]
	uow   *UnitOfWork
	soft  bool
}

func newRepository[T any](table Table[T], uow *UnitOfWork) *Repository[T] {
	_, soft := any(new(T)).(domain.SoftDeletable)
	return &Repository[T]{table: table, uow: uow, soft: soft}
}

// GetByID returns the record even when it is soft-deleted, so callers can
// make referential checks.
func (r *Repository[T]) GetByID(ctx context.Context, id uuid.UUID) (*T, error) {
	return r.table.Get(ctx, id)
}

// GetAll lists every live record.
func (r *Repository[T]) GetAll(ctx context.Context) ([]*T, error) {
	return r.table.Find(ctx, r.base())
}

func (r *Repository[T]) Find(ctx context.Context, s spec.Spec) ([]*T, error) {
	return r.table.Find(ctx, s)
}

// FindOne returns the first match or ErrNotFound.
func (r *Repository[T]) FindOne(ctx context.Context, s spec.Spec) (*T, error) {
	items, err := r.table.Find(ctx, s.Page(0, 1))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (r *Repository[T]) Count(ctx context.Context, s spec.Spec) (int, error) {
	return r.table.Count(ctx, s.ForCount())
}

// CountAll counts every live record.
func (r *Repository[T]) CountAll(ctx context.Context) (int, error) {
	return r.table.Count(ctx, r.base())
}

// Exists reports whether a live record has the id.
func (r *Repository[T]) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := r.table.Count(ctx, r.base().And(spec.Where(spec.FieldID, spec.Eq, id)))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository[T]) Add(entity *T) {
	r.uow.stage(Insert, record(entity))
}

func (r *Repository[T]) Update(entity *T) {
	r.uow.stage(Update, record(entity))
}

// Delete soft-deletes entities that support it and removes the rest.
func (r *Repository[T]) Delete(ctx context.Context, entity *T) {
	rec := record(entity)
	switch e := any(entity).(type) {
	case interface{ Remove(time.Time, string) }:
		e.Remove(r.uow.store.now(), ActorFrom(ctx))
		r.uow.stage(Update, rec)
	case domain.SoftDeletable:
		e.MarkDeleted(r.uow.store.now(), ActorFrom(ctx))
		r.uow.stage(Update, rec)
	default:
		r.uow.stage(Remove, rec)
	}
}

func (r *Repository[T]) base() spec.Spec {
	if r.soft {
		return spec.New(spec.NotDeleted)
	}
	return spec.New()
}

func record[T any](entity *T) domain.Record {
	rec, ok := any(entity).(domain.Record)
	if !ok {
		panic(fmt.Sprintf("store: %T does not embed domain.Entity", entity))
	}
	return rec
}

type BookRepository struct {
	*Repository[domain.Book]
}

// GetByISBN finds a live book by ISBN.
func (r BookRepository) GetByISBN(ctx context.Context, isbn string) (*domain.Book, error) {
	return r.FindOne(ctx, spec.BookByISBN(isbn))
}

// GetWithDetails loads a book with its author and categories.
func (r BookRepository) GetWithDetails(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return r.FindOne(ctx, spec.New(spec.Where(spec.FieldID, spec.Eq, id)).
		Include(spec.IncludeAuthor, spec.IncludeCategories))
}

// ListWithAuthors lists every live book with its author.
func (r BookRepository) ListWithAuthors(ctx context.Context) ([]*domain.Book, error) {
	return r.Find(ctx, spec.AllBooks())
}

type PatronRepository struct {
	*Repository[domain.Patron]
}

func (r PatronRepository) GetByUserID(ctx context.Context, userID string) (*domain.Patron, error) {
	return r.FindOne(ctx, spec.PatronByUserID(userID))
}

func (r PatronRepository) GetByMembershipNumber(ctx context.Context, number string) (*domain.Patron, error) {
	return r.FindOne(ctx, spec.PatronByMembershipNumber(number))
}

type CheckoutRepository struct {
	*Repository[domain.CheckoutRecord]
}

// ActiveFor returns the open loan of the book to the patron, if any.
func (r CheckoutRepository) ActiveFor(ctx context.Context, bookID, patronID uuid.UUID) (*domain.CheckoutRecord, error) {
	return r.FindOne(ctx, spec.ActiveCheckout(bookID, patronID))
}

func (r CheckoutRepository) ActiveByPatron(ctx context.Context, patronID uuid.UUID) ([]*domain.CheckoutRecord, error) {
	return r.Find(ctx, spec.ActiveByPatron(patronID))
}

func (r CheckoutRepository) AllByPatron(ctx context.Context, patronID uuid.UUID) ([]*domain.CheckoutRecord, error) {
	return r.Find(ctx, spec.AllByPatron(patronID))
}

func (r CheckoutRepository) Overdue(ctx context.Context, now time.Time) ([]*domain.CheckoutRecord, error) {
	return r.Find(ctx, spec.OverdueCheckouts(now))
}

// GetWithDetails loads a record with its book and patron.
func (r CheckoutRepository) GetWithDetails(ctx context.Context, id uuid.UUID) (*domain.CheckoutRecord, error) {
	return r.FindOne(ctx, spec.New(spec.Where(spec.FieldID, spec.Eq, id)).
		Include(spec.IncludeBook, spec.IncludePatron))
}
