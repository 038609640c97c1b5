// Package store defines the persistence contract: per-entity repositories
// over a pluggable backend, grouped under a unit of work that commits once
// and publishes staged domain events afterwards.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrDuplicate           = errors.New("duplicate key")
)

// Table is the read side of one entity set.
type Table[T any] interface {
	Get(ctx context.Context, id uuid.UUID) (*T, error)
	Find(ctx context.Context, s spec.Spec) ([]*T, error)
	Count(ctx context.Context, s spec.Spec) (int, error)
}

// ChangeKind says what a staged change does to its record.
type ChangeKind int

const (
	Insert ChangeKind = iota
	Update
	Remove
)

func (k ChangeKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Remove:
		return "delete"
	}
	return "unknown"
}

// Change is one staged write.
type Change struct {
	Kind   ChangeKind
	Record domain.Record
}

// Backend is a storage engine. Apply commits a change set atomically:
// either every change lands or none does. Updates carry the version that was
// read; a stale version aborts the whole set with ErrConcurrencyConflict and
// a successful write bumps the record's Version in place.
type Backend interface {
	Books() Table[domain.Book]
	Authors() Table[domain.Author]
	Categories() Table[domain.Category]
	Patrons() Table[domain.Patron]
	Checkouts() Table[domain.CheckoutRecord]

	Apply(ctx context.Context, changes []Change) error
}

// Publisher receives events after a successful commit. Implementations own
// their failure handling; nothing they do reaches the committing caller.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

type actorKey struct{}

// WithActor records who is acting, for audit stamps.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting user or "system".
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "system"
}
