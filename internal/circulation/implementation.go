package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"shelfwise/internal/apperr"
	"shelfwise/internal/cache"
	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
	"shelfwise/internal/store"
)

const (
	msgNoPatron        = "Patron profile not found."
	msgBookNotFound    = "Book not found."
	msgNoCopies        = "No copies available for checkout."
	msgAlreadyOut      = "You already have this book checked out."
	msgRecordNotFound  = "Checkout record not found."
	msgNotYours        = "You can only return your own checkouts."
	msgAlreadyReturned = "This book has already been returned."
	msgStaffOnly       = "Only librarians and admins can do this."
	msgBusy            = "The book is busy. Please retry."
	msgLoanDays        = "Due days must be between 1 and 90."
)

// commitAttempts bounds how often a write re-reads after losing an
// optimistic concurrency race on the book row.
const commitAttempts = 3

// service implements the Service interface.
type service struct {
	store  *store.Store
	cache  cache.Cache
	log    *slog.Logger
	tracer trace.Tracer

	checkouts metric.Int64Counter
	returns   metric.Int64Counter
}

type Option func(*service)

func WithLogger(log *slog.Logger) Option {
	return func(s *service) { s.log = log }
}

func WithMeter(m metric.Meter) Option {
	return func(s *service) { s.initMetrics(m) }
}

// NewService creates a new circulation service instance.
func NewService(st *store.Store, c cache.Cache, opts ...Option) Service {
	s := &service{
		store:  st,
		cache:  c,
		log:    slog.Default(),
		tracer: otel.Tracer("shelfwise/circulation"),
	}
	s.initMetrics(otel.Meter("shelfwise/circulation"))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) initMetrics(m metric.Meter) {
	s.checkouts, _ = m.Int64Counter("circulation.checkouts", metric.WithDescription("Books checked out"))
	s.returns, _ = m.Int64Counter("circulation.returns", metric.WithDescription("Books returned"))
}

// Checkout lends one copy of a book to the caller's patron profile.
func (s *service) Checkout(ctx context.Context, actor domain.Actor, req CheckoutRequest) (*Checkout, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.checkout",
		trace.WithAttributes(attribute.String("book.id", req.BookID.String())))
	defer span.End()

	if days := req.loanDays(); days < domain.MinLoanDays || days > domain.MaxLoanDays {
		return nil, apperr.Invalid(map[string]string{"dueDays": msgLoanDays})
	}

	var out *Checkout
	err := s.retry(ctx, func(uow *store.UnitOfWork) error {
		patron, err := s.patronOf(ctx, uow, actor)
		if err != nil {
			return err
		}
		book, err := uow.Books.GetByID(ctx, req.BookID)
		if err != nil {
			return lookup(err, msgBookNotFound)
		}
		if book.IsDeleted() {
			return apperr.NotFound(msgBookNotFound)
		}
		if !book.IsAvailable() {
			return apperr.Conflict(msgNoCopies)
		}
		_, err = uow.Checkouts.ActiveFor(ctx, book.ID, patron.ID)
		switch {
		case err == nil:
			return apperr.Conflict(msgAlreadyOut)
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("active checkout lookup: %w", err)
		}

		if err := book.Checkout(); err != nil {
			return apperr.Wrap(apperr.KindConflict, msgNoCopies, err)
		}
		now := s.store.Now()
		rec := domain.NewCheckoutRecord(book.ID, patron.ID, now, req.loanDays(), req.Notes)
		uow.Checkouts.Add(rec)
		uow.Books.Update(book)
		if err := uow.SaveChanges(ctx); err != nil {
			return err
		}

		rec.Book, rec.Patron = book, patron
		dto := toCheckout(rec, now)
		out = &dto
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.cache.RemoveByPrefix(ctx, cache.PrefixBooks)
	s.checkouts.Add(ctx, 1)
	s.log.InfoContext(ctx, "book checked out", "checkout_id", out.ID, "book_id", out.BookID, "patron_id", out.PatronID)
	return out, nil
}

// Return closes an active loan and puts the copy back on the shelf.
func (s *service) Return(ctx context.Context, actor domain.Actor, id uuid.UUID, notes string) (*Checkout, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.String("checkout.id", id.String())))
	defer span.End()

	var out *Checkout
	err := s.retry(ctx, func(uow *store.UnitOfWork) error {
		rec, err := uow.Checkouts.GetByID(ctx, id)
		if err != nil {
			return lookup(err, msgRecordNotFound)
		}
		var patron *domain.Patron
		if !actor.IsStaff() {
			if patron, err = s.patronOf(ctx, uow, actor); err != nil {
				return err
			}
			if rec.PatronID != patron.ID {
				return apperr.Forbidden(msgNotYours)
			}
		}
		if !rec.IsActive() {
			return apperr.Conflict(msgAlreadyReturned)
		}

		// soft-deleted books still take their copies back
		book, err := uow.Books.GetByID(ctx, rec.BookID)
		if err != nil {
			return lookup(err, msgBookNotFound)
		}
		if err := book.Return(); err != nil {
			if !errors.Is(err, domain.ErrAllCopiesReturned) {
				return err
			}
			s.log.WarnContext(ctx, "return with every copy on the shelf", "book_id", book.ID, "checkout_id", rec.ID)
		} else {
			uow.Books.Update(book)
		}

		now := s.store.Now()
		if err := rec.MarkReturned(now, notes); err != nil {
			return apperr.Wrap(apperr.KindConflict, msgAlreadyReturned, err)
		}
		uow.Checkouts.Update(rec)
		if err := uow.SaveChanges(ctx); err != nil {
			return err
		}

		if patron == nil {
			patron, _ = uow.Patrons.GetByID(ctx, rec.PatronID)
		}
		rec.Book, rec.Patron = book, patron
		dto := toCheckout(rec, now)
		out = &dto
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.cache.RemoveByPrefix(ctx, cache.PrefixBooks)
	s.returns.Add(ctx, 1)
	s.log.InfoContext(ctx, "book returned", "checkout_id", out.ID, "book_id", out.BookID)
	return out, nil
}

// List pages through loans. Staff see everyone's; a patron sees only their
// own, and a caller without a patron profile sees nothing.
func (s *service) List(ctx context.Context, actor domain.Actor, p spec.QueryParameters) (spec.PagedResult[Checkout], error) {
	p = p.Normalize()
	uow := s.store.Begin()

	var scope *uuid.UUID
	if !actor.IsStaff() {
		none := uuid.Nil
		scope = &none
		if patron, err := uow.Patrons.GetByUserID(ctx, actor.UserID); err == nil {
			scope = &patron.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			return spec.PagedResult[Checkout]{}, fmt.Errorf("patron lookup: %w", err)
		}
	}

	now := s.store.Now()
	q := spec.Checkouts(p, scope, now)
	items, err := uow.Checkouts.Find(ctx, q)
	if err != nil {
		return spec.PagedResult[Checkout]{}, fmt.Errorf("list checkouts: %w", err)
	}
	total, err := uow.Checkouts.Count(ctx, q)
	if err != nil {
		return spec.PagedResult[Checkout]{}, fmt.Errorf("count checkouts: %w", err)
	}
	return spec.NewPagedResult(toCheckouts(items, now), total, p), nil
}

// Overdue lists every overdue loan, oldest due date first.
func (s *service) Overdue(ctx context.Context, actor domain.Actor) ([]Checkout, error) {
	if !actor.IsStaff() {
		return nil, apperr.Forbidden(msgStaffOnly)
	}
	now := s.store.Now()
	items, err := s.store.Begin().Checkouts.Overdue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("overdue checkouts: %w", err)
	}
	return toCheckouts(items, now), nil
}

func (s *service) Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*Checkout, error) {
	uow := s.store.Begin()
	rec, err := uow.Checkouts.GetWithDetails(ctx, id)
	if err != nil {
		return nil, lookup(err, msgRecordNotFound)
	}
	if !actor.IsStaff() {
		patron, err := s.patronOf(ctx, uow, actor)
		if err != nil {
			return nil, err
		}
		if rec.PatronID != patron.ID {
			return nil, apperr.NotFound(msgRecordNotFound)
		}
	}
	dto := toCheckout(rec, s.store.Now())
	return &dto, nil
}

func (s *service) patronOf(ctx context.Context, uow *store.UnitOfWork, actor domain.Actor) (*domain.Patron, error) {
	if actor.UserID == "" {
		return nil, apperr.Conflict(msgNoPatron)
	}
	p, err := uow.Patrons.GetByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Conflict(msgNoPatron)
		}
		return nil, fmt.Errorf("patron lookup: %w", err)
	}
	return p, nil
}

// retry runs fn in a fresh unit of work until it commits, fails for a
// reason other than a version conflict, or runs out of attempts.
func (s *service) retry(ctx context.Context, fn func(uow *store.UnitOfWork) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(s.store.Begin())
		if err == nil || !errors.Is(err, store.ErrConcurrencyConflict) {
			return err
		}
		if attempt == commitAttempts {
			return apperr.Wrap(apperr.KindConflict, msgBusy, err)
		}
		s.log.DebugContext(ctx, "checkout write conflict, retrying", "attempt", attempt)
	}
}

func lookup(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(msg)
	}
	return err
}
