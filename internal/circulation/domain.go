package circulation

import (
	"time"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
)

// Checkout is the response view of a loan.
type Checkout struct {
	ID           uuid.UUID  `json:"id"`
	BookID       uuid.UUID  `json:"bookId"`
	BookTitle    string     `json:"bookTitle"`
	PatronID     uuid.UUID  `json:"patronId"`
	PatronName   string     `json:"patronName"`
	PatronEmail  string     `json:"patronEmail"`
	CheckedOutAt time.Time  `json:"checkedOutAt"`
	DueDate      time.Time  `json:"dueDate"`
	ReturnedAt   *time.Time `json:"returnedAt"`
	Status       string     `json:"status"`
	IsOverdue    bool       `json:"isOverdue"`
	Notes        *string    `json:"notes"`
}

// CheckoutRequest borrows one copy. DueDays defaults to two weeks.
type CheckoutRequest struct {
	BookID  uuid.UUID `json:"bookId" validate:"required"`
	DueDays *int      `json:"dueDays" validate:"omitempty,gte=1,lte=90"`
	Notes   string    `json:"notes" validate:"max=1000"`
}

func (r CheckoutRequest) loanDays() int {
	if r.DueDays == nil {
		return domain.DefaultLoanDays
	}
	return *r.DueDays
}

type ReturnRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

func toCheckout(c *domain.CheckoutRecord, now time.Time) Checkout {
	dto := Checkout{
		ID:           c.ID,
		BookID:       c.BookID,
		PatronID:     c.PatronID,
		CheckedOutAt: c.CheckedOutAt,
		DueDate:      c.DueDate,
		ReturnedAt:   c.ReturnedAt,
		Status:       string(c.Status),
		IsOverdue:    c.IsOverdue(now),
	}
	if c.Notes != "" {
		notes := c.Notes
		dto.Notes = &notes
	}
	if c.Book != nil {
		dto.BookTitle = c.Book.Title
	}
	if c.Patron != nil {
		dto.PatronName = c.Patron.FullName
		dto.PatronEmail = c.Patron.Email
	}
	return dto
}

func toCheckouts(items []*domain.CheckoutRecord, now time.Time) []Checkout {
	out := make([]Checkout, len(items))
	for i, c := range items {
		out[i] = toCheckout(c, now)
	}
	return out
}
