// Package domain holds the library entities, their invariants and the
// events they stage for dispatch after a successful commit.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entity carries identity, audit stamps and the optimistic concurrency
// token shared by every persisted record.
type Entity struct {
	ID         uuid.UUID  `json:"id"`
	CreatedAt  time.Time  `json:"createdAt"`
	CreatedBy  string     `json:"createdBy,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
	ModifiedBy string     `json:"modifiedBy,omitempty"`
	Version    int        `json:"version"`

	events []Event
}

// Record is implemented by every type embedding Entity.
type Record interface {
	Base() *Entity
}

func newEntity() Entity {
	return Entity{ID: uuid.New()}
}

// Base exposes the embedded entity to persistence code.
func (e *Entity) Base() *Entity { return e }

// Raise stages an event. It is published only after the owning unit of
// work commits.
func (e *Entity) Raise(event Event) {
	e.events = append(e.events, event)
}

// PullEvents drains the staged events.
func (e *Entity) PullEvents() []Event {
	events := e.events
	e.events = nil
	return events
}

// PendingEvents reports how many events are staged.
func (e *Entity) PendingEvents() int { return len(e.events) }

// StampCreated records who created the entity and when.
func (e *Entity) StampCreated(at time.Time, by string) {
	e.CreatedAt = at
	e.CreatedBy = by
}

// StampModified records who last modified the entity and when.
func (e *Entity) StampModified(at time.Time, by string) {
	e.UpdatedAt = &at
	e.ModifiedBy = by
}

// SoftDelete is embedded by entities that are logically deleted.
type SoftDelete struct {
	Deleted   bool       `json:"-"`
	DeletedAt *time.Time `json:"-"`
	DeletedBy string     `json:"-"`
}

// SoftDeletable entities keep their row when deleted.
type SoftDeletable interface {
	MarkDeleted(at time.Time, by string)
	IsDeleted() bool
}

func (s *SoftDelete) MarkDeleted(at time.Time, by string) {
	s.Deleted = true
	s.DeletedAt = &at
	s.DeletedBy = by
}

func (s *SoftDelete) IsDeleted() bool { return s.Deleted }
