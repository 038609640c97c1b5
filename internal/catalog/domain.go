package catalog

import (
	"time"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
)

// Book is the catalogue view of a book.
type Book struct {
	ID              uuid.UUID   `json:"id"`
	Title           string      `json:"title"`
	ISBN            string      `json:"isbn,omitempty"`
	Description     string      `json:"description,omitempty"`
	CoverImageURL   string      `json:"coverImageUrl,omitempty"`
	TotalCopies     int         `json:"totalCopies"`
	AvailableCopies int         `json:"availableCopies"`
	PublishedDate   *time.Time  `json:"publishedDate,omitempty"`
	Publisher       string      `json:"publisher,omitempty"`
	PageCount       *int        `json:"pageCount,omitempty"`
	Language        string      `json:"language"`
	AuthorID        uuid.UUID   `json:"authorId"`
	AuthorName      string      `json:"authorName"`
	Categories      []string    `json:"categories"`
	CategoryIDs     []uuid.UUID `json:"categoryIds"`
	IsAvailable     bool        `json:"isAvailable"`
	CreatedAt       time.Time   `json:"createdAt"`
}

type Author struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	FullName  string    `json:"fullName"`
	Biography string    `json:"biography,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BookRequest is the body of book create and update. On update a nil
// CategoryIDs keeps the current links.
type BookRequest struct {
	Title         string      `json:"title" validate:"required,max=500"`
	ISBN          string      `json:"isbn" validate:"max=20,isbn_chars"`
	Description   string      `json:"description" validate:"max=5000"`
	CoverImageURL string      `json:"coverImageUrl" validate:"omitempty,url"`
	TotalCopies   int         `json:"totalCopies" validate:"gt=0,lte=10000"`
	PublishedDate *time.Time  `json:"publishedDate"`
	Publisher     string      `json:"publisher" validate:"max=200"`
	PageCount     *int        `json:"pageCount" validate:"omitempty,gt=0"`
	Language      string      `json:"language" validate:"max=50"`
	AuthorID      uuid.UUID   `json:"authorId" validate:"required"`
	CategoryIDs   []uuid.UUID `json:"categoryIds"`
}

type AuthorRequest struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Biography string `json:"biography" validate:"max=5000"`
}

type CategoryRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// HistoryEntry is one audited change to a book.
type HistoryEntry struct {
	Event      string    `json:"event"`
	Version    int       `json:"version"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data,omitempty"`
}

func toBook(b *domain.Book) Book {
	dto := Book{
		ID:              b.ID,
		Title:           b.Title,
		ISBN:            b.ISBN,
		Description:     b.Description,
		CoverImageURL:   b.CoverImageURL,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		PublishedDate:   b.PublishedDate,
		Publisher:       b.Publisher,
		PageCount:       b.PageCount,
		Language:        b.Language,
		AuthorID:        b.AuthorID,
		Categories:      make([]string, 0, len(b.Categories)),
		CategoryIDs:     append([]uuid.UUID{}, b.CategoryIDs...),
		IsAvailable:     b.IsAvailable(),
		CreatedAt:       b.CreatedAt,
	}
	if b.Author != nil {
		dto.AuthorName = b.Author.FullName()
	}
	for _, c := range b.Categories {
		dto.Categories = append(dto.Categories, c.Name)
	}
	return dto
}

func toAuthor(a *domain.Author) Author {
	return Author{
		ID:        a.ID,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		FullName:  a.FullName(),
		Biography: a.Biography,
		CreatedAt: a.CreatedAt,
	}
}

func toCategory(c *domain.Category) Category {
	return Category{ID: c.ID, Name: c.Name, Description: c.Description, CreatedAt: c.CreatedAt}
}

func mapAll[E, D any](items []*E, conv func(*E) D) []D {
	out := make([]D, len(items))
	for i, it := range items {
		out[i] = conv(it)
	}
	return out
}
