package spec

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field names understood by every store backend.
const (
	FieldID        = "id"
	FieldDeleted   = "deleted"
	FieldCreatedAt = "createdAt"

	BookTitle           = "title"
	BookISBN            = "isbn"
	BookDescription     = "description"
	BookLanguage        = "language"
	BookAuthorID        = "authorId"
	BookAvailableCopies = "availableCopies"
	BookPublishedDate   = "publishedDate"
	BookAuthorFirstName = "author.firstName"
	BookAuthorLastName  = "author.lastName"
	BookCategoryName    = "categories.name"
	BookCategoryID      = "categoryIds"

	AuthorFirstName = "firstName"
	AuthorLastName  = "lastName"
	AuthorBiography = "biography"

	CategoryName        = "name"
	CategoryDescription = "description"

	PatronUserID           = "userId"
	PatronEmail            = "email"
	PatronFullName         = "fullName"
	PatronMembershipNumber = "membershipNumber"

	CheckoutBookID       = "bookId"
	CheckoutPatronID     = "patronId"
	CheckoutStatus       = "status"
	CheckoutDueDate      = "dueDate"
	CheckoutCheckedOutAt = "checkedOutAt"
	CheckoutReturnedAt   = "returnedAt"
	CheckoutBookTitle    = "book.title"
	CheckoutPatronEmail  = "patron.email"
	CheckoutPatronName   = "patron.fullName"
)

// Relations that can be eagerly loaded.
const (
	IncludeAuthor     = "author"
	IncludeCategories = "categories"
	IncludeBook       = "book"
	IncludePatron     = "patron"
)

// Status values as stored.
const (
	StatusActive   = "Active"
	StatusReturned = "Returned"
)

// NotDeleted is the base predicate of every soft-deletable listing.
var NotDeleted = Where(FieldDeleted, Eq, false)

type sorting struct {
	allowed map[string]string
	field   string
	desc    bool
}

func (s sorting) apply(sp Spec, p QueryParameters) Spec {
	if field, ok := s.allowed[strings.ToLower(p.SortBy)]; ok && p.SortBy != "" {
		return sp.OrderBy(field, p.Descending())
	}
	return sp.OrderBy(s.field, s.desc)
}

var bookSorting = sorting{
	allowed: map[string]string{
		"title":           BookTitle,
		"createdat":       FieldCreatedAt,
		"publisheddate":   BookPublishedDate,
		"availablecopies": BookAvailableCopies,
	},
	field: FieldCreatedAt,
	desc:  true,
}

// Books builds the catalogue listing for the given parameters.
func Books(p QueryParameters) Spec {
	p = p.Normalize()
	s := New(NotDeleted).Include(IncludeAuthor, IncludeCategories)
	s = s.And(Search(Tokens(p.SearchTerm),
		BookTitle, BookISBN, BookAuthorFirstName, BookAuthorLastName, BookDescription, BookCategoryName))

	if v, ok := p.Filter("authorId"); ok {
		if id, err := uuid.Parse(v); err == nil {
			s = s.And(Where(BookAuthorID, Eq, id))
		}
	}
	if v, ok := p.Filter("categoryId"); ok {
		if id, err := uuid.Parse(v); err == nil {
			s = s.And(Where(BookCategoryID, Has, id))
		}
	}
	if v, ok := p.Filter("language"); ok && v != "" {
		s = s.And(Where(BookLanguage, EqFold, v))
	}
	if v, ok := p.Filter("available"); ok {
		if available, err := strconv.ParseBool(v); err == nil {
			if available {
				s = s.And(Where(BookAvailableCopies, Gt, 0))
			} else {
				s = s.And(Where(BookAvailableCopies, Eq, 0))
			}
		}
	}

	s = bookSorting.apply(s, p)
	return s.Page(p.Skip(), p.PageSize)
}

var authorSorting = sorting{
	allowed: map[string]string{
		"firstname": AuthorFirstName,
		"lastname":  AuthorLastName,
		"createdat": FieldCreatedAt,
	},
	field: AuthorLastName,
}

func Authors(p QueryParameters) Spec {
	p = p.Normalize()
	s := New(NotDeleted).And(Search(Tokens(p.SearchTerm), AuthorFirstName, AuthorLastName, AuthorBiography))
	s = authorSorting.apply(s, p)
	return s.Page(p.Skip(), p.PageSize)
}

var categorySorting = sorting{
	allowed: map[string]string{
		"name":      CategoryName,
		"createdat": FieldCreatedAt,
	},
	field: CategoryName,
}

func Categories(p QueryParameters) Spec {
	p = p.Normalize()
	s := New(Search(Tokens(p.SearchTerm), CategoryName, CategoryDescription))
	s = categorySorting.apply(s, p)
	return s.Page(p.Skip(), p.PageSize)
}

var checkoutSorting = sorting{
	allowed: map[string]string{
		"checkedoutat": CheckoutCheckedOutAt,
		"duedate":      CheckoutDueDate,
		"returnedat":   CheckoutReturnedAt,
		"status":       CheckoutStatus,
	},
	field: CheckoutCheckedOutAt,
	desc:  true,
}

// Checkouts builds the circulation listing. A non-nil patron scopes the
// result to that patron's records.
func Checkouts(p QueryParameters, patron *uuid.UUID, now time.Time) Spec {
	p = p.Normalize()
	s := New().Include(IncludeBook, IncludePatron)
	if patron != nil {
		s = s.And(Where(CheckoutPatronID, Eq, *patron))
	}

	if term := strings.ToLower(strings.TrimSpace(p.SearchTerm)); term != "" {
		s = s.And(Any{
			Where(CheckoutBookTitle, Contains, term),
			Where(CheckoutPatronEmail, Contains, term),
			Where(CheckoutPatronName, Contains, term),
		})
	}

	if v, ok := p.Filter("status"); ok {
		switch strings.ToLower(v) {
		case "active":
			s = s.And(Where(CheckoutStatus, Eq, StatusActive))
		case "returned":
			s = s.And(Where(CheckoutStatus, Eq, StatusReturned))
		case "overdue":
			s = s.And(Overdue(now))
		}
	}
	if v, ok := p.Filter("overdue"); ok {
		if overdue, err := strconv.ParseBool(v); err == nil && overdue {
			s = s.And(Overdue(now))
		}
	}
	if v, ok := p.Filter("bookId"); ok {
		if id, err := uuid.Parse(v); err == nil {
			s = s.And(Where(CheckoutBookID, Eq, id))
		}
	}

	s = checkoutSorting.apply(s, p)
	return s.Page(p.Skip(), p.PageSize)
}

// Overdue matches active records whose due date has passed.
func Overdue(now time.Time) Expr {
	return All{
		Where(CheckoutStatus, Eq, StatusActive),
		Where(CheckoutDueDate, Lt, now),
	}
}

// ActiveCheckout finds the open loan of one book to one patron.
func ActiveCheckout(bookID, patronID uuid.UUID) Spec {
	return New(
		Where(CheckoutBookID, Eq, bookID),
		Where(CheckoutPatronID, Eq, patronID),
		Where(CheckoutStatus, Eq, StatusActive),
	)
}

// ActiveByPatron lists a patron's open loans.
func ActiveByPatron(patronID uuid.UUID) Spec {
	return New(
		Where(CheckoutPatronID, Eq, patronID),
		Where(CheckoutStatus, Eq, StatusActive),
	).Include(IncludeBook)
}

// AllByPatron lists a patron's loans, newest first.
func AllByPatron(patronID uuid.UUID) Spec {
	return New(Where(CheckoutPatronID, Eq, patronID)).
		Include(IncludeBook).
		OrderBy(CheckoutCheckedOutAt, true)
}

// OverdueCheckouts lists every overdue loan, oldest due date first.
func OverdueCheckouts(now time.Time) Spec {
	return New(Overdue(now)).Include(IncludeBook, IncludePatron).OrderBy(CheckoutDueDate, false)
}

func PatronByUserID(userID string) Spec {
	return New(Where(PatronUserID, Eq, userID))
}

func PatronByMembershipNumber(number string) Spec {
	return New(Where(PatronMembershipNumber, Eq, number))
}

// BookByISBN ignores soft-deleted books.
func BookByISBN(isbn string) Spec {
	return New(NotDeleted, Where(BookISBN, Eq, isbn))
}

// CategoryByName is a case-insensitive name lookup.
func CategoryByName(name string) Spec {
	return New(Where(CategoryName, EqFold, strings.TrimSpace(name)))
}

// AvailableBooks counts books with at least one copy on the shelf.
func AvailableBooks() Spec {
	return New(NotDeleted, Where(BookAvailableCopies, Gt, 0))
}

// AllBooks lists every live book with its author, ordered by title.
func AllBooks() Spec {
	return New(NotDeleted).Include(IncludeAuthor).OrderBy(BookTitle, false)
}

func AllAuthors() Spec {
	return New(NotDeleted).OrderBy(AuthorLastName, false).OrderBy(AuthorFirstName, false)
}

func AllCategories() Spec {
	return New().OrderBy(CategoryName, false)
}
