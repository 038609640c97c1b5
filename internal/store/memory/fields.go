package memory

import (
	"slices"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
)

// view is a consistent snapshot used to resolve relations while filtering.
type view struct {
	data tables
}

// kind describes one entity set: how to copy rows in and out, how to read
// fields by name and how to attach related rows.
type kind[T any] struct {
	clone func(*T) *T
	field func(v view, e *T, name string) []any
	load  func(v view, e *T, s spec.Spec)
}

func baseField(e *domain.Entity, name string) ([]any, bool) {
	switch name {
	case spec.FieldID:
		return []any{e.ID}, true
	case spec.FieldCreatedAt:
		return []any{e.CreatedAt}, true
	}
	return nil, false
}

func cloneBook(b *domain.Book) *domain.Book {
	c := *b
	c.PullEvents()
	c.CategoryIDs = slices.Clone(b.CategoryIDs)
	c.Author = nil
	c.Categories = nil
	return &c
}

var bookKind = kind[domain.Book]{
	clone: cloneBook,
	field: func(v view, b *domain.Book, name string) []any {
		if vals, ok := baseField(&b.Entity, name); ok {
			return vals
		}
		switch name {
		case spec.FieldDeleted:
			return []any{b.Deleted}
		case spec.BookTitle:
			return []any{b.Title}
		case spec.BookISBN:
			return optionalString(b.ISBN)
		case spec.BookDescription:
			return optionalString(b.Description)
		case spec.BookLanguage:
			return optionalString(b.Language)
		case spec.BookAuthorID:
			return []any{b.AuthorID}
		case spec.BookAvailableCopies:
			return []any{b.AvailableCopies}
		case spec.BookPublishedDate:
			if b.PublishedDate == nil {
				return nil
			}
			return []any{*b.PublishedDate}
		case spec.BookAuthorFirstName, spec.BookAuthorLastName:
			a, ok := v.data.authors[b.AuthorID]
			if !ok {
				return nil
			}
			if name == spec.BookAuthorFirstName {
				return []any{a.FirstName}
			}
			return []any{a.LastName}
		case spec.BookCategoryName:
			out := make([]any, 0, len(b.CategoryIDs))
			for _, id := range b.CategoryIDs {
				if c, ok := v.data.categories[id]; ok {
					out = append(out, c.Name)
				}
			}
			return out
		case spec.BookCategoryID:
			out := make([]any, len(b.CategoryIDs))
			for i, id := range b.CategoryIDs {
				out[i] = id
			}
			return out
		}
		return nil
	},
	load: func(v view, b *domain.Book, s spec.Spec) {
		if s.Loads(spec.IncludeAuthor) {
			if a, ok := v.data.authors[b.AuthorID]; ok {
				b.Author = cloneAuthor(a)
			}
		}
		if s.Loads(spec.IncludeCategories) {
			b.Categories = make([]*domain.Category, 0, len(b.CategoryIDs))
			for _, id := range b.CategoryIDs {
				if c, ok := v.data.categories[id]; ok {
					b.Categories = append(b.Categories, cloneCategory(c))
				}
			}
			slices.SortFunc(b.Categories, func(x, y *domain.Category) int { return compareStrings(x.Name, y.Name) })
		}
	},
}

func cloneAuthor(a *domain.Author) *domain.Author {
	c := *a
	c.PullEvents()
	return &c
}

var authorKind = kind[domain.Author]{
	clone: cloneAuthor,
	field: func(_ view, a *domain.Author, name string) []any {
		if vals, ok := baseField(&a.Entity, name); ok {
			return vals
		}
		switch name {
		case spec.FieldDeleted:
			return []any{a.Deleted}
		case spec.AuthorFirstName:
			return []any{a.FirstName}
		case spec.AuthorLastName:
			return []any{a.LastName}
		case spec.AuthorBiography:
			return optionalString(a.Biography)
		}
		return nil
	},
}

func cloneCategory(c *domain.Category) *domain.Category {
	n := *c
	n.PullEvents()
	return &n
}

var categoryKind = kind[domain.Category]{
	clone: cloneCategory,
	field: func(_ view, c *domain.Category, name string) []any {
		if vals, ok := baseField(&c.Entity, name); ok {
			return vals
		}
		switch name {
		case spec.CategoryName:
			return []any{c.Name}
		case spec.CategoryDescription:
			return optionalString(c.Description)
		}
		return nil
	},
}

func clonePatron(p *domain.Patron) *domain.Patron {
	c := *p
	c.PullEvents()
	return &c
}

var patronKind = kind[domain.Patron]{
	clone: clonePatron,
	field: func(_ view, p *domain.Patron, name string) []any {
		if vals, ok := baseField(&p.Entity, name); ok {
			return vals
		}
		switch name {
		case spec.PatronUserID:
			return []any{p.UserID}
		case spec.PatronEmail:
			return []any{p.Email}
		case spec.PatronFullName:
			return []any{p.FullName}
		case spec.PatronMembershipNumber:
			return []any{p.MembershipNumber}
		}
		return nil
	},
}

func cloneCheckout(r *domain.CheckoutRecord) *domain.CheckoutRecord {
	c := *r
	c.PullEvents()
	c.Book = nil
	c.Patron = nil
	return &c
}

var checkoutKind = kind[domain.CheckoutRecord]{
	clone: cloneCheckout,
	field: func(v view, r *domain.CheckoutRecord, name string) []any {
		if vals, ok := baseField(&r.Entity, name); ok {
			return vals
		}
		switch name {
		case spec.CheckoutBookID:
			return []any{r.BookID}
		case spec.CheckoutPatronID:
			return []any{r.PatronID}
		case spec.CheckoutStatus:
			return []any{string(r.Status)}
		case spec.CheckoutDueDate:
			return []any{r.DueDate}
		case spec.CheckoutCheckedOutAt:
			return []any{r.CheckedOutAt}
		case spec.CheckoutReturnedAt:
			if r.ReturnedAt == nil {
				return nil
			}
			return []any{*r.ReturnedAt}
		case spec.CheckoutBookTitle:
			if b, ok := v.data.books[r.BookID]; ok {
				return []any{b.Title}
			}
		case spec.CheckoutPatronEmail, spec.CheckoutPatronName:
			p, ok := v.data.patrons[r.PatronID]
			if !ok {
				return nil
			}
			if name == spec.CheckoutPatronEmail {
				return []any{p.Email}
			}
			return []any{p.FullName}
		}
		return nil
	},
	load: func(v view, r *domain.CheckoutRecord, s spec.Spec) {
		if s.Loads(spec.IncludeBook) {
			if b, ok := v.data.books[r.BookID]; ok {
				r.Book = cloneBook(b)
			}
		}
		if s.Loads(spec.IncludePatron) {
			if p, ok := v.data.patrons[r.PatronID]; ok {
				r.Patron = clonePatron(p)
			}
		}
	},
}

func optionalString(s string) []any {
	if s == "" {
		return nil
	}
	return []any{s}
}

func sortByID[T any](rows []*T) {
	slices.SortFunc(rows, func(a, b *T) int {
		x := any(a).(domain.Record).Base().ID
		y := any(b).(domain.Record).Base().ID
		return compareUUID(x, y)
	})
}

func compareUUID(a, b uuid.UUID) int {
	return compareStrings(a.String(), b.String())
}
