package domain

import (
	"time"

	"github.com/google/uuid"
)

const DefaultLanguage = "English"

// Book is a catalogue title with a pool of identical copies.
// 0 <= AvailableCopies <= TotalCopies holds after every method call.
type Book struct {
	Entity
	SoftDelete

	Title         string
	ISBN          string
	Description   string
	CoverImageURL string
	Publisher     string
	Language      string
	PublishedDate *time.Time
	PageCount     *int

	TotalCopies     int
	AvailableCopies int

	AuthorID    uuid.UUID
	CategoryIDs []uuid.UUID

	// Loaded only when the query asks for them.
	Author     *Author
	Categories []*Category
}

// NewBook creates a book with every copy on the shelf.
func NewBook(title string, authorID uuid.UUID, totalCopies int) (*Book, error) {
	if totalCopies < 1 {
		return nil, ErrInvalidCopyCount
	}
	b := &Book{
		Entity:          newEntity(),
		Title:           title,
		Language:        DefaultLanguage,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		AuthorID:        authorID,
	}
	b.Raise(BookAdded{BookID: b.ID, Title: title, TotalCopies: totalCopies, At: time.Now().UTC()})
	return b, nil
}

func (b *Book) IsAvailable() bool { return b.AvailableCopies > 0 }

// Checkout takes one copy off the shelf.
func (b *Book) Checkout() error {
	if b.AvailableCopies <= 0 {
		return ErrNoCopiesAvailable
	}
	b.AvailableCopies--
	b.Raise(BookCheckedOut{BookID: b.ID, AvailableCopies: b.AvailableCopies, At: time.Now().UTC()})
	return nil
}

// Return puts one copy back on the shelf.
func (b *Book) Return() error {
	if b.AvailableCopies >= b.TotalCopies {
		return ErrAllCopiesReturned
	}
	b.AvailableCopies++
	b.Raise(BookReturned{BookID: b.ID, AvailableCopies: b.AvailableCopies, At: time.Now().UTC()})
	return nil
}

// SetTotalCopies changes the pool size and moves AvailableCopies by the same
// delta, clamped to [0, total].
func (b *Book) SetTotalCopies(total int) error {
	if total < 1 {
		return ErrInvalidCopyCount
	}
	if total == b.TotalCopies {
		return nil
	}
	delta := total - b.TotalCopies
	b.TotalCopies = total
	b.AvailableCopies = min(max(0, b.AvailableCopies+delta), total)
	b.Raise(BookCopiesChanged{
		BookID:          b.ID,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		At:              time.Now().UTC(),
	})
	return nil
}

// Remove soft-deletes the book.
func (b *Book) Remove(at time.Time, by string) {
	b.MarkDeleted(at, by)
	b.Raise(BookRemoved{BookID: b.ID, At: at})
}

// InCategory reports whether the book is linked to the category.
func (b *Book) InCategory(id uuid.UUID) bool {
	for _, c := range b.CategoryIDs {
		if c == id {
			return true
		}
	}
	return false
}

func idSet(list []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(list))
	for _, id := range list {
		set[id] = struct{}{}
	}
	return set
}

// SameCategories reports whether two link sets hold the same ids.
func SameCategories(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	set := idSet(a)
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
