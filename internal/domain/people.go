package domain

import "strings"

type Author struct {
	Entity
	SoftDelete

	FirstName string
	LastName  string
	Biography string
}

func NewAuthor(first, last, biography string) *Author {
	return &Author{Entity: newEntity(), FirstName: first, LastName: last, Biography: biography}
}

func (a *Author) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Category is hard-deleted; removing it drops its book links.
type Category struct {
	Entity

	Name        string
	Description string
}

func NewCategory(name, description string) *Category {
	return &Category{Entity: newEntity(), Name: name, Description: description}
}

// Patron is the borrower profile attached to exactly one login identity.
type Patron struct {
	Entity

	UserID           string
	FullName         string
	Email            string
	MembershipNumber string
	Phone            string
	Address          string
}

func NewPatron(userID, fullName, email, membershipNumber string) *Patron {
	return &Patron{
		Entity:           newEntity(),
		UserID:           userID,
		FullName:         fullName,
		Email:            email,
		MembershipNumber: membershipNumber,
	}
}

// Role is the authorisation role of a login identity.
type Role string

const (
	RoleAdmin     Role = "Admin"
	RoleLibrarian Role = "Librarian"
	RolePatron    Role = "Patron"
)

// ParseRole accepts the canonical role names only.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleLibrarian, RolePatron:
		return Role(s), true
	}
	return "", false
}

func (r Role) IsStaff() bool { return r == RoleAdmin || r == RoleLibrarian }

// Actor identifies the caller of a use case.
type Actor struct {
	UserID string
	Email  string
	Role   Role
}

func (a Actor) IsStaff() bool { return a.Role.IsStaff() }

// Anonymous is used for unauthenticated reads and background work.
var Anonymous = Actor{}
