package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shelfwise/internal/domain"
	"shelfwise/internal/spec"
	"shelfwise/internal/store"
)

// Backend implements store.Backend on PostgreSQL.
type Backend struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func New(db *sqlx.DB) *Backend {
	return &Backend{db: db, tracer: otel.Tracer("shelfwise/store/postgres")}
}

func (b *Backend) DB() *sqlx.DB { return b.db }

func (b *Backend) Books() store.Table[domain.Book] {
	return &table[domain.Book, bookRow]{b: b, m: bookModel, convert: bookRow.book, load: b.loadBooks}
}

func (b *Backend) Authors() store.Table[domain.Author] {
	return &table[domain.Author, authorRow]{b: b, m: authorModel, convert: authorRow.author}
}

func (b *Backend) Categories() store.Table[domain.Category] {
	return &table[domain.Category, categoryRow]{b: b, m: categoryModel, convert: categoryRow.category}
}

func (b *Backend) Patrons() store.Table[domain.Patron] {
	return &table[domain.Patron, patronRow]{b: b, m: patronModel, convert: patronRow.patron}
}

func (b *Backend) Checkouts() store.Table[domain.CheckoutRecord] {
	return &table[domain.CheckoutRecord, checkoutRow]{b: b, m: checkoutModel, convert: checkoutRow.checkout, load: b.loadCheckouts}
}

type table[T, R any] struct {
	b       *Backend
	m       model
	convert func(R) *T
	// load attaches relations; books always get their category ids
	load func(ctx context.Context, rows []*T, s spec.Spec) error
}

func (t *table[T, R]) Get(ctx context.Context, id uuid.UUID) (*T, error) {
	rows, err := t.query(ctx, "get", spec.New(spec.Where(spec.FieldID, spec.Eq, id)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

func (t *table[T, R]) Find(ctx context.Context, s spec.Spec) ([]*T, error) {
	return t.query(ctx, "find", s)
}

func (t *table[T, R]) query(ctx context.Context, op string, s spec.Spec) ([]*T, error) {
	ctx, span := t.b.tracer.Start(ctx, "postgres."+op,
		trace.WithAttributes(
			attribute.String("db.table", t.m.table),
			attribute.Int("query.limit", s.Limit),
			attribute.Int("query.offset", s.Offset),
		),
	)
	defer span.End()

	query, args, err := t.m.selectSQL(s)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var rows []R
	if err := t.b.db.SelectContext(ctx, &rows, query, args...); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("select %s: %w", t.m.table, err)
	}

	out := make([]*T, len(rows))
	for i, r := range rows {
		out[i] = t.convert(r)
	}
	if t.load != nil && len(out) > 0 {
		if err := t.load(ctx, out, s); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	span.SetAttributes(attribute.Int("rows.returned", len(out)))
	return out, nil
}

func (t *table[T, R]) Count(ctx context.Context, s spec.Spec) (int, error) {
	ctx, span := t.b.tracer.Start(ctx, "postgres.count",
		trace.WithAttributes(attribute.String("db.table", t.m.table)),
	)
	defer span.End()

	query, args, err := t.m.countSQL(s)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	var n int
	if err := t.b.db.GetContext(ctx, &n, query, args...); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("count %s: %w", t.m.table, err)
	}
	return n, nil
}

func ids[T any](rows []*T, id func(*T) uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(rows))
	out := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		v := id(r)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type bookCategoryRow struct {
	BookID uuid.UUID `db:"book_id"`
	categoryRow
}

func (b *Backend) loadBooks(ctx context.Context, books []*domain.Book, s spec.Spec) error {
	bookIDs := ids(books, func(bk *domain.Book) uuid.UUID { return bk.ID })

	query, args, err := dialect.From(goqu.T("book_categories").As("bc")).
		Join(goqu.T("categories").As("cat"), goqu.On(goqu.I("cat.id").Eq(goqu.I("bc.category_id")))).
		Select(goqu.I("bc.book_id"), goqu.T("cat").All()).
		Where(goqu.I("bc.book_id").In(bookIDs)).
		Order(goqu.Func("LOWER", goqu.I("cat.name")).Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	var links []bookCategoryRow
	if err := b.db.SelectContext(ctx, &links, query, args...); err != nil {
		return fmt.Errorf("select book categories: %w", err)
	}
	byBook := make(map[uuid.UUID][]*domain.Category)
	for _, l := range links {
		byBook[l.BookID] = append(byBook[l.BookID], l.category())
	}
	for _, bk := range books {
		bk.CategoryIDs = nil
		for _, c := range byBook[bk.ID] {
			bk.CategoryIDs = append(bk.CategoryIDs, c.ID)
		}
		if s.Loads(spec.IncludeCategories) {
			bk.Categories = append([]*domain.Category{}, byBook[bk.ID]...)
		}
	}

	if !s.Loads(spec.IncludeAuthor) {
		return nil
	}
	authorIDs := ids(books, func(bk *domain.Book) uuid.UUID { return bk.AuthorID })
	authors, err := b.Authors().Find(ctx, spec.New(spec.Where(spec.FieldID, spec.In, authorIDs)))
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*domain.Author, len(authors))
	for _, a := range authors {
		byID[a.ID] = a
	}
	for _, bk := range books {
		bk.Author = byID[bk.AuthorID]
	}
	return nil
}

func (b *Backend) loadCheckouts(ctx context.Context, records []*domain.CheckoutRecord, s spec.Spec) error {
	if s.Loads(spec.IncludeBook) {
		bookIDs := ids(records, func(r *domain.CheckoutRecord) uuid.UUID { return r.BookID })
		books, err := b.Books().Find(ctx, spec.New(spec.Where(spec.FieldID, spec.In, bookIDs)))
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*domain.Book, len(books))
		for _, bk := range books {
			byID[bk.ID] = bk
		}
		for _, r := range records {
			r.Book = byID[r.BookID]
		}
	}
	if s.Loads(spec.IncludePatron) {
		patronIDs := ids(records, func(r *domain.CheckoutRecord) uuid.UUID { return r.PatronID })
		patrons, err := b.Patrons().Find(ctx, spec.New(spec.Where(spec.FieldID, spec.In, patronIDs)))
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*domain.Patron, len(patrons))
		for _, p := range patrons {
			byID[p.ID] = p
		}
		for _, r := range records {
			r.Patron = byID[r.PatronID]
		}
	}
	return nil
}

// Apply writes the change set in one transaction. Updates are guarded by
// the version that was read.
func (b *Backend) Apply(ctx context.Context, changes []store.Change) error {
	ctx, span := b.tracer.Start(ctx, "postgres.apply",
		trace.WithAttributes(attribute.Int("change.count", len(changes))),
	)
	defer span.End()

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range changes {
		if err := b.write(ctx, tx, c); err != nil {
			span.RecordError(err)
			if IsUniqueViolation(err) {
				return fmt.Errorf("%s %T %s: %w", c.Kind, c.Record, c.Record.Base().ID, store.ErrDuplicate)
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, c := range changes {
		switch c.Kind {
		case store.Insert:
			c.Record.Base().Version = 1
		case store.Update:
			c.Record.Base().Version++
		}
	}
	return nil
}

func (b *Backend) write(ctx context.Context, tx *sqlx.Tx, c store.Change) error {
	var (
		tableName string
		values    map[string]any
		book      *domain.Book
	)
	switch rec := c.Record.(type) {
	case *domain.Book:
		tableName, values, book = "books", bookValues(rec), rec
	case *domain.Author:
		tableName, values = "authors", authorValues(rec)
	case *domain.Category:
		tableName, values = "categories", categoryValues(rec)
	case *domain.Patron:
		tableName, values = "patrons", patronValues(rec)
	case *domain.CheckoutRecord:
		tableName, values = "checkouts", checkoutValues(rec)
	default:
		return fmt.Errorf("postgres: unsupported record %T", c.Record)
	}
	base := c.Record.Base()

	switch c.Kind {
	case store.Insert:
		values["version"] = 1
		if err := execDataset(ctx, tx, dialect.Insert(tableName).Rows(goqu.Record(values)).Prepared(true)); err != nil {
			return err
		}
	case store.Update:
		delete(values, "id")
		values["version"] = base.Version + 1
		query, args, err := dialect.Update(tableName).
			Set(goqu.Record(values)).
			Where(goqu.C("id").Eq(base.ID), goqu.C("version").Eq(base.Version)).
			Prepared(true).ToSQL()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update %s: %w", tableName, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return b.missingOrStale(ctx, tx, tableName, base.ID)
		}
	case store.Remove:
		query, args, err := dialect.Delete(tableName).Where(goqu.C("id").Eq(base.ID)).Prepared(true).ToSQL()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete %s: %w", tableName, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delete %s %s: %w", tableName, base.ID, store.ErrNotFound)
		}
		return nil
	}

	if book != nil {
		return replaceCategories(ctx, tx, book)
	}
	return nil
}

func (b *Backend) missingOrStale(ctx context.Context, tx *sqlx.Tx, tableName string, id uuid.UUID) error {
	var one int
	err := tx.GetContext(ctx, &one, "SELECT 1 FROM "+tableName+" WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %s %s: %w", tableName, id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", tableName, err)
	}
	return store.ErrConcurrencyConflict
}

func replaceCategories(ctx context.Context, tx *sqlx.Tx, book *domain.Book) error {
	if err := execDataset(ctx, tx, dialect.Delete("book_categories").Where(goqu.C("book_id").Eq(book.ID)).Prepared(true)); err != nil {
		return err
	}
	if len(book.CategoryIDs) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(book.CategoryIDs))
	rows := make([]any, 0, len(book.CategoryIDs))
	for _, id := range book.CategoryIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, goqu.Record{"book_id": book.ID, "category_id": id})
	}
	return execDataset(ctx, tx, dialect.Insert("book_categories").Rows(rows...).Prepared(true))
}

type sqlDataset interface {
	ToSQL() (string, []any, error)
}

func execDataset(ctx context.Context, tx *sqlx.Tx, ds sqlDataset) error {
	query, args, err := ds.ToSQL()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

var _ store.Backend = (*Backend)(nil)
