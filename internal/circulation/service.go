package circulation

import (
	"context"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
)

// Service runs the loan lifecycle. Every call acts on behalf of actor;
// patrons only ever see and return their own loans.
type Service interface {
	Checkout(ctx context.Context, actor domain.Actor, req CheckoutRequest) (*Checkout, error)
	Return(ctx context.Context, actor domain.Actor, id uuid.UUID, notes string) (*Checkout, error)
	List(ctx context.Context, actor domain.Actor, p spec.QueryParameters) (spec.PagedResult[Checkout], error)
	Overdue(ctx context.Context, actor domain.Actor) ([]Checkout, error)
	Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*Checkout, error)
}
