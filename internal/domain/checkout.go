package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type CheckoutStatus string

const (
	CheckoutActive   CheckoutStatus = "Active"
	CheckoutReturned CheckoutStatus = "Returned"
	// CheckoutOverdue is never stored. It only appears as a query filter;
	// responses flag active records past their due date instead.
	CheckoutOverdue CheckoutStatus = "Overdue"
)

func ParseCheckoutStatus(s string) (CheckoutStatus, bool) {
	for _, st := range []CheckoutStatus{CheckoutActive, CheckoutReturned, CheckoutOverdue} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

const (
	MinLoanDays     = 1
	MaxLoanDays     = 90
	DefaultLoanDays = 14
)

// CheckoutRecord tracks one copy lent to one patron. Status moves from
// Active to Returned exactly once.
type CheckoutRecord struct {
	Entity

	BookID       uuid.UUID
	PatronID     uuid.UUID
	CheckedOutAt time.Time
	DueDate      time.Time
	ReturnedAt   *time.Time
	Status       CheckoutStatus
	Notes        string

	Book   *Book
	Patron *Patron
}

func NewCheckoutRecord(bookID, patronID uuid.UUID, now time.Time, loanDays int, notes string) *CheckoutRecord {
	return &CheckoutRecord{
		Entity:       newEntity(),
		BookID:       bookID,
		PatronID:     patronID,
		CheckedOutAt: now,
		DueDate:      now.AddDate(0, 0, loanDays),
		Status:       CheckoutActive,
		Notes:        notes,
	}
}

func (c *CheckoutRecord) IsActive() bool { return c.Status == CheckoutActive }

// IsOverdue is derived: active and past due.
func (c *CheckoutRecord) IsOverdue(now time.Time) bool {
	return c.Status == CheckoutActive && c.DueDate.Before(now)
}

// MarkReturned closes the record. Empty notes keep the existing ones.
func (c *CheckoutRecord) MarkReturned(now time.Time, notes string) error {
	if c.Status != CheckoutActive {
		return ErrAlreadyReturned
	}
	c.ReturnedAt = &now
	c.Status = CheckoutReturned
	if notes != "" {
		c.Notes = notes
	}
	return nil
}
