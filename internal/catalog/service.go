package catalog

import (
	"context"

	"github.com/google/uuid"

	"shelfwise/internal/spec"
)

// Service manages books, authors and categories. Listings are served
// cache-aside; every write invalidates the listings it can change.
type Service interface {
	ListBooks(ctx context.Context, p spec.QueryParameters) (spec.PagedResult[Book], error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	CreateBook(ctx context.Context, req BookRequest) (*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, req BookRequest) (*Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
	BookHistory(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error)

	ListAuthors(ctx context.Context, p spec.QueryParameters) (spec.PagedResult[Author], error)
	AllAuthors(ctx context.Context) ([]Author, error)
	GetAuthor(ctx context.Context, id uuid.UUID) (*Author, error)
	CreateAuthor(ctx context.Context, req AuthorRequest) (*Author, error)
	UpdateAuthor(ctx context.Context, id uuid.UUID, req AuthorRequest) (*Author, error)
	DeleteAuthor(ctx context.Context, id uuid.UUID) error

	ListCategories(ctx context.Context, p spec.QueryParameters) (spec.PagedResult[Category], error)
	AllCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id uuid.UUID) (*Category, error)
	CreateCategory(ctx context.Context, req CategoryRequest) (*Category, error)
	UpdateCategory(ctx context.Context, id uuid.UUID, req CategoryRequest) (*Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error
}

// Describer writes a blurb for a book that was created without one.
type Describer interface {
	IsAvailable() bool
	GenerateDescription(ctx context.Context, title, author string) (string, error)
}
