// Package memory is a process-local store backend. It keeps the same
// semantics as the Postgres backend (atomic change sets, optimistic
// versions, unique keys) and is used for development and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
	"shelfwise/internal/store"
)

type tables struct {
	books      map[uuid.UUID]*domain.Book
	authors    map[uuid.UUID]*domain.Author
	categories map[uuid.UUID]*domain.Category
	patrons    map[uuid.UUID]*domain.Patron
	checkouts  map[uuid.UUID]*domain.CheckoutRecord
}

func (t tables) clone() tables {
	return tables{
		books:      maps.Clone(t.books),
		authors:    maps.Clone(t.authors),
		categories: maps.Clone(t.categories),
		patrons:    maps.Clone(t.patrons),
		checkouts:  maps.Clone(t.checkouts),
	}
}

// Backend implements store.Backend in memory.
type Backend struct {
	mu   sync.RWMutex
	data tables

	reads atomic.Int64
}

func New() *Backend {
	return &Backend{data: tables{
		books:      make(map[uuid.UUID]*domain.Book),
		authors:    make(map[uuid.UUID]*domain.Author),
		categories: make(map[uuid.UUID]*domain.Category),
		patrons:    make(map[uuid.UUID]*domain.Patron),
		checkouts:  make(map[uuid.UUID]*domain.CheckoutRecord),
	}}
}

// Reads counts Find and Count calls. Tests use it to prove cache hits skip
// the store.
func (b *Backend) Reads() int64 { return b.reads.Load() }

func (b *Backend) Books() store.Table[domain.Book] {
	return &table[domain.Book]{b: b, rows: func(t tables) map[uuid.UUID]*domain.Book { return t.books }, kind: bookKind}
}

func (b *Backend) Authors() store.Table[domain.Author] {
	return &table[domain.Author]{b: b, rows: func(t tables) map[uuid.UUID]*domain.Author { return t.authors }, kind: authorKind}
}

func (b *Backend) Categories() store.Table[domain.Category] {
	return &table[domain.Category]{b: b, rows: func(t tables) map[uuid.UUID]*domain.Category { return t.categories }, kind: categoryKind}
}

func (b *Backend) Patrons() store.Table[domain.Patron] {
	return &table[domain.Patron]{b: b, rows: func(t tables) map[uuid.UUID]*domain.Patron { return t.patrons }, kind: patronKind}
}

func (b *Backend) Checkouts() store.Table[domain.CheckoutRecord] {
	return &table[domain.CheckoutRecord]{b: b, rows: func(t tables) map[uuid.UUID]*domain.CheckoutRecord { return t.checkouts }, kind: checkoutKind}
}

// Apply validates and writes the change set against a copy of the tables and
// swaps it in only when every change succeeded.
func (b *Backend) Apply(ctx context.Context, changes []store.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.data.clone()
	bumped := make([]*domain.Entity, 0, len(changes))
	for _, c := range changes {
		base := c.Record.Base()
		if err := apply(next, c); err != nil {
			return err
		}
		if c.Kind != store.Remove {
			bumped = append(bumped, base)
		}
	}
	if err := checkUnique(next); err != nil {
		return err
	}

	b.data = next
	for _, base := range bumped {
		base.Version++
	}
	return nil
}

func apply(t tables, c store.Change) error {
	switch rec := c.Record.(type) {
	case *domain.Book:
		return write(t.books, c.Kind, rec, cloneBook)
	case *domain.Author:
		return write(t.authors, c.Kind, rec, cloneAuthor)
	case *domain.Category:
		if c.Kind == store.Remove {
			unlinkCategory(t, rec.ID)
		}
		return write(t.categories, c.Kind, rec, cloneCategory)
	case *domain.Patron:
		return write(t.patrons, c.Kind, rec, clonePatron)
	case *domain.CheckoutRecord:
		return write(t.checkouts, c.Kind, rec, cloneCheckout)
	}
	return fmt.Errorf("memory: unsupported record %T", c.Record)
}

func write[T any](rows map[uuid.UUID]*T, kind store.ChangeKind, rec *T, clone func(*T) *T) error {
	base := any(rec).(domain.Record).Base()
	current, exists := rows[base.ID]

	switch kind {
	case store.Insert:
		if exists {
			return fmt.Errorf("memory: insert %s: %w", base.ID, store.ErrDuplicate)
		}
		stored := clone(rec)
		any(stored).(domain.Record).Base().Version = 1
		rows[base.ID] = stored
		base.Version = 0
	case store.Update:
		if !exists {
			return fmt.Errorf("memory: update %s: %w", base.ID, store.ErrNotFound)
		}
		if any(current).(domain.Record).Base().Version != base.Version {
			return store.ErrConcurrencyConflict
		}
		stored := clone(rec)
		any(stored).(domain.Record).Base().Version = base.Version + 1
		rows[base.ID] = stored
	case store.Remove:
		if !exists {
			return fmt.Errorf("memory: delete %s: %w", base.ID, store.ErrNotFound)
		}
		delete(rows, base.ID)
	}
	return nil
}

// unlinkCategory drops a removed category from every book. The book copies
// are replaced, not mutated, so readers holding the old tables are safe.
func unlinkCategory(t tables, id uuid.UUID) {
	for bookID, b := range t.books {
		if !b.InCategory(id) {
			continue
		}
		c := cloneBook(b)
		kept := c.CategoryIDs[:0]
		for _, cid := range c.CategoryIDs {
			if cid != id {
				kept = append(kept, cid)
			}
		}
		c.CategoryIDs = kept
		t.books[bookID] = c
	}
}

func checkUnique(t tables) error {
	isbns := make(map[string]struct{})
	for _, b := range t.books {
		if b.Deleted || b.ISBN == "" {
			continue
		}
		key := strings.ToLower(b.ISBN)
		if _, dup := isbns[key]; dup {
			return fmt.Errorf("memory: isbn %q: %w", b.ISBN, store.ErrDuplicate)
		}
		isbns[key] = struct{}{}
	}

	numbers := make(map[string]struct{})
	users := make(map[string]struct{})
	for _, p := range t.patrons {
		if _, dup := numbers[p.MembershipNumber]; dup {
			return fmt.Errorf("memory: membership number %q: %w", p.MembershipNumber, store.ErrDuplicate)
		}
		numbers[p.MembershipNumber] = struct{}{}
		if _, dup := users[p.UserID]; dup {
			return fmt.Errorf("memory: patron for user %q: %w", p.UserID, store.ErrDuplicate)
		}
		users[p.UserID] = struct{}{}
	}

	names := make(map[string]struct{})
	for _, c := range t.categories {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if _, dup := names[key]; dup {
			return fmt.Errorf("memory: category %q: %w", c.Name, store.ErrDuplicate)
		}
		names[key] = struct{}{}
	}
	return nil
}

type table[T any] struct {
	b    *Backend
	rows func(tables) map[uuid.UUID]*T
	kind kind[T]
}

func (t *table[T]) Get(ctx context.Context, id uuid.UUID) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.b.mu.RLock()
	defer t.b.mu.RUnlock()

	row, ok := t.rows(t.b.data)[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.kind.clone(row), nil
}

func (t *table[T]) Find(ctx context.Context, s spec.Spec) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.b.reads.Add(1)
	t.b.mu.RLock()
	defer t.b.mu.RUnlock()

	v := view{data: t.b.data}
	matched := t.filter(v, s)
	sortRows(matched, s.Order, func(e *T, field string) []any { return t.kind.field(v, e, field) })

	if s.Offset > 0 {
		if s.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[s.Offset:]
		}
	}
	if s.Limit > 0 && len(matched) > s.Limit {
		matched = matched[:s.Limit]
	}

	out := make([]*T, len(matched))
	for i, row := range matched {
		c := t.kind.clone(row)
		if t.kind.load != nil {
			t.kind.load(v, c, s)
		}
		out[i] = c
	}
	return out, nil
}

func (t *table[T]) Count(ctx context.Context, s spec.Spec) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.b.reads.Add(1)
	t.b.mu.RLock()
	defer t.b.mu.RUnlock()

	return len(t.filter(view{data: t.b.data}, s)), nil
}

func (t *table[T]) filter(v view, s spec.Spec) []*T {
	var out []*T
	for _, row := range t.rows(v.data) {
		if match(s.Where, func(field string) []any { return t.kind.field(v, row, field) }) {
			out = append(out, row)
		}
	}
	// map order is random; id order gives unsorted queries a stable result
	sortByID(out)
	return out
}

var _ store.Backend = (*Backend)(nil)
