package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies domain events for routing.
type EventType string

const (
	EventBookAdded         EventType = "catalog.book.added"
	EventBookRemoved       EventType = "catalog.book.removed"
	EventBookCopiesChanged EventType = "catalog.book.copies_changed"
	EventBookCheckedOut    EventType = "circulation.book.checked_out"
	EventBookReturned      EventType = "circulation.book.returned"
)

// Event is an immutable record of something that happened to an aggregate.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() uuid.UUID
}

type BookAdded struct {
	BookID      uuid.UUID `json:"bookId"`
	Title       string    `json:"title"`
	TotalCopies int       `json:"totalCopies"`
	At          time.Time `json:"occurredAt"`
}

func (e BookAdded) EventType() EventType { return EventBookAdded }
func (e BookAdded) OccurredAt() time.Time { return e.At }
func (e BookAdded) AggregateID() uuid.UUID { return e.BookID }

type BookRemoved struct {
	BookID uuid.UUID `json:"bookId"`
	At     time.Time `json:"occurredAt"`
}

func (e BookRemoved) EventType() EventType { return EventBookRemoved }
func (e BookRemoved) OccurredAt() time.Time { return e.At }
func (e BookRemoved) AggregateID() uuid.UUID { return e.BookID }

type BookCopiesChanged struct {
	BookID          uuid.UUID `json:"bookId"`
	TotalCopies     int       `json:"totalCopies"`
	AvailableCopies int       `json:"availableCopies"`
	At              time.Time `json:"occurredAt"`
}

func (e BookCopiesChanged) EventType() EventType { return EventBookCopiesChanged }
func (e BookCopiesChanged) OccurredAt() time.Time { return e.At }
func (e BookCopiesChanged) AggregateID() uuid.UUID { return e.BookID }

// BookCheckedOut is raised when a copy leaves the shelf.
type BookCheckedOut struct {
	BookID          uuid.UUID `json:"bookId"`
	AvailableCopies int       `json:"availableCopies"`
	At              time.Time `json:"occurredAt"`
}

func (e BookCheckedOut) EventType() EventType { return EventBookCheckedOut }
func (e BookCheckedOut) OccurredAt() time.Time { return e.At }
func (e BookCheckedOut) AggregateID() uuid.UUID { return e.BookID }

// BookReturned is raised when a copy comes back.
type BookReturned struct {
	BookID          uuid.UUID `json:"bookId"`
	AvailableCopies int       `json:"availableCopies"`
	At              time.Time `json:"occurredAt"`
}

func (e BookReturned) EventType() EventType { return EventBookReturned }
func (e BookReturned) OccurredAt() time.Time { return e.At }
func (e BookReturned) AggregateID() uuid.UUID { return e.BookID }
