// Package dashboard computes the role-scoped counters shown on the landing
// page.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
	"shelfwise/internal/store"
	"shelfwise/internal/web"
)

// Stats is the landing page summary. TotalPatrons is only set for staff.
type Stats struct {
	TotalBooks       int  `json:"totalBooks"`
	AvailableBooks   int  `json:"availableBooks"`
	TotalAuthors     int  `json:"totalAuthors"`
	ActiveCheckouts  int  `json:"activeCheckouts"`
	OverdueCheckouts int  `json:"overdueCheckouts"`
	TotalPatrons     *int `json:"totalPatrons,omitempty"`
}

type Service interface {
	Stats(ctx context.Context, actor domain.Actor) (*Stats, error)
}

type service struct {
	store *store.Store
}

func NewService(st *store.Store) Service {
	return &service{store: st}
}

// Stats counts the catalogue for everyone. Staff get library-wide loan
// counts; patrons get their own.
func (s *service) Stats(ctx context.Context, actor domain.Actor) (*Stats, error) {
	uow := s.store.Begin()
	now := s.store.Now()
	var st Stats
	var err error

	if st.TotalBooks, err = uow.Books.CountAll(ctx); err != nil {
		return nil, fmt.Errorf("count books: %w", err)
	}
	if st.AvailableBooks, err = uow.Books.Count(ctx, spec.AvailableBooks()); err != nil {
		return nil, fmt.Errorf("count available books: %w", err)
	}
	if st.TotalAuthors, err = uow.Authors.CountAll(ctx); err != nil {
		return nil, fmt.Errorf("count authors: %w", err)
	}

	var loans []*domain.CheckoutRecord
	if actor.IsStaff() {
		loans, err = uow.Checkouts.Find(ctx, spec.New(spec.Where(spec.CheckoutStatus, spec.Eq, spec.StatusActive)))
		if err != nil {
			return nil, fmt.Errorf("active checkouts: %w", err)
		}
		patrons, err := uow.Patrons.CountAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("count patrons: %w", err)
		}
		st.TotalPatrons = &patrons
	} else {
		patron, err := uow.Patrons.GetByUserID(ctx, actor.UserID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("patron lookup: %w", err)
		default:
			if loans, err = uow.Checkouts.ActiveByPatron(ctx, patron.ID); err != nil {
				return nil, fmt.Errorf("patron checkouts: %w", err)
			}
		}
	}

	for _, c := range loans {
		st.ActiveCheckouts++
		if c.IsOverdue(now) {
			st.OverdueCheckouts++
		}
	}
	return &st, nil
}

type Handler struct {
	service Service
	log     *slog.Logger
}

func NewHandler(service Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context(), web.ActorFrom(r.Context()))
	if err != nil {
		web.Error(w, r, h.log, err)
		return
	}
	web.JSON(w, http.StatusOK, st)
}
