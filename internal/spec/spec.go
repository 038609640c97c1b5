// Package spec describes queries as plain data: a predicate tree, the
// relations to load, an ordering and an optional page window. Store
// backends translate a Spec into whatever their query facility offers.
package spec

import (
	"strings"
)

// Op is a comparison operator.
type Op int

const (
	Eq Op = iota
	Ne
	Gt
	Gte
	Lt
	Lte
	// EqFold is case-insensitive string equality.
	EqFold
	// Contains is case-insensitive substring match.
	Contains
	// Has matches when a collection field contains the value.
	Has
	// IsNull matches unset optional fields. Value is ignored.
	IsNull
	// In matches when the field equals any element of a slice value.
	In
)

func (o Op) String() string {
	switch o {
	case Eq:
		return "eq"
	case Ne:
		return "ne"
	case Gt:
		return "gt"
	case Gte:
		return "gte"
	case Lt:
		return "lt"
	case Lte:
		return "lte"
	case EqFold:
		return "eqfold"
	case Contains:
		return "contains"
	case Has:
		return "has"
	case IsNull:
		return "isnull"
	case In:
		return "in"
	}
	return "unknown"
}

// Expr is a node of a predicate tree: Cond, All, Any or Not.
type Expr interface {
	expr()
}

// Cond compares one field against a value.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// All is a conjunction. An empty All matches everything.
type All []Expr

// Any is a disjunction. An empty Any matches nothing.
type Any []Expr

// Not negates its operand.
type Not struct {
	Expr Expr
}

func (Cond) expr() {}
func (All) expr()  {}
func (Any) expr()  {}
func (Not) expr()  {}

func Where(field string, op Op, value any) Cond {
	return Cond{Field: field, Op: op, Value: value}
}

// Order sorts by one field.
type Order struct {
	Field string
	Desc  bool
}

// Spec is a complete query descriptor.
type Spec struct {
	Where    All
	Includes []string
	Order    []Order
	Offset   int
	// Limit of zero means unpaged.
	Limit int
}

// New starts a spec from the given conjuncts.
func New(where ...Expr) Spec {
	return Spec{}.And(where...)
}

// And appends conjuncts; nil expressions are skipped.
func (s Spec) And(where ...Expr) Spec {
	next := make(All, 0, len(s.Where)+len(where))
	next = append(next, s.Where...)
	for _, e := range where {
		if e != nil {
			next = append(next, e)
		}
	}
	s.Where = next
	return s
}

func (s Spec) Include(relations ...string) Spec {
	s.Includes = append(append([]string(nil), s.Includes...), relations...)
	return s
}

func (s Spec) OrderBy(field string, desc bool) Spec {
	s.Order = append(append([]Order(nil), s.Order...), Order{Field: field, Desc: desc})
	return s
}

func (s Spec) Page(skip, take int) Spec {
	s.Offset = max(0, skip)
	s.Limit = max(0, take)
	return s
}

// ForCount keeps the predicate and drops ordering, paging and includes so
// a total always matches the filtered set behind a page.
func (s Spec) ForCount() Spec {
	return Spec{Where: s.Where}
}

func (s Spec) Paged() bool { return s.Limit > 0 }

// Loads reports whether the relation should be eagerly loaded.
func (s Spec) Loads(relation string) bool {
	for _, r := range s.Includes {
		if r == relation {
			return true
		}
	}
	return false
}

// Tokens splits a free-text term into lowercase search tokens. Single
// character tokens are dropped.
func Tokens(term string) []string {
	fields := strings.Fields(strings.ToLower(term))
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// Search matches when any token is found in any field. It returns nil when
// there is nothing to search for, which And skips.
func Search(tokens []string, fields ...string) Expr {
	if len(tokens) == 0 || len(fields) == 0 {
		return nil
	}
	or := make(Any, 0, len(tokens)*len(fields))
	for _, t := range tokens {
		for _, f := range fields {
			or = append(or, Where(f, Contains, t))
		}
	}
	return or
}
