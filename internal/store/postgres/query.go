package postgres

import (
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"

	"shelfwise/internal/spec"
)

var dialect = goqu.Dialect("postgres")

// column maps a spec field to SQL. Scalar fields name a qualified column;
// collection fields build their own predicate.
type column struct {
	name string
	// text columns sort case-insensitively
	text bool
	// set for fields stored outside the row
	collection func(c spec.Cond) (exp.Expression, error)
}

type join struct {
	table string
	alias string
	on    exp.Expression
}

// model describes how one entity set is queried.
type model struct {
	table   string
	alias   string
	joins   []join
	columns map[string]column
}

func (m model) col(name string) string { return m.alias + "." + name }

func (m model) from() *goqu.SelectDataset {
	ds := dialect.From(goqu.T(m.table).As(m.alias))
	for _, j := range m.joins {
		ds = ds.LeftJoin(goqu.T(j.table).As(j.alias), goqu.On(j.on))
	}
	return ds
}

// selectSQL renders a paged, ordered SELECT of the model's own columns.
func (m model) selectSQL(s spec.Spec) (string, []any, error) {
	where, err := m.where(s.Where)
	if err != nil {
		return "", nil, err
	}
	ds := m.from().Select(goqu.T(m.alias).All())
	if where != nil {
		ds = ds.Where(where)
	}

	order := make([]exp.OrderedExpression, 0, len(s.Order)+1)
	for _, o := range s.Order {
		c, ok := m.columns[o.Field]
		if !ok || c.collection != nil {
			return "", nil, fmt.Errorf("postgres: cannot order %s by %q", m.table, o.Field)
		}
		var target exp.Orderable = goqu.I(c.name)
		if c.text {
			target = goqu.Func("LOWER", goqu.I(c.name))
		}
		if o.Desc {
			order = append(order, target.Desc().NullsFirst())
		} else {
			order = append(order, target.Asc().NullsLast())
		}
	}
	// ties resolve by id so pages never overlap
	order = append(order, goqu.I(m.col("id")).Asc())
	ds = ds.Order(order...)

	if s.Limit > 0 {
		ds = ds.Limit(uint(s.Limit))
	}
	if s.Offset > 0 {
		ds = ds.Offset(uint(s.Offset))
	}
	return ds.Prepared(true).ToSQL()
}

func (m model) countSQL(s spec.Spec) (string, []any, error) {
	where, err := m.where(s.Where)
	if err != nil {
		return "", nil, err
	}
	ds := m.from().Select(goqu.COUNT(goqu.Star()))
	if where != nil {
		ds = ds.Where(where)
	}
	return ds.Prepared(true).ToSQL()
}

func (m model) where(all spec.All) (exp.Expression, error) {
	if len(all) == 0 {
		return nil, nil
	}
	return m.expr(all)
}

func (m model) expr(e spec.Expr) (exp.Expression, error) {
	switch x := e.(type) {
	case spec.All:
		parts, err := m.list(x)
		if err != nil {
			return nil, err
		}
		return goqu.And(parts...), nil
	case spec.Any:
		if len(x) == 0 {
			return goqu.L("FALSE"), nil
		}
		parts, err := m.list(x)
		if err != nil {
			return nil, err
		}
		return goqu.Or(parts...), nil
	case spec.Not:
		inner, err := m.expr(x.Expr)
		if err != nil {
			return nil, err
		}
		return goqu.L("NOT (?)", inner), nil
	case spec.Cond:
		return m.cond(x)
	}
	return nil, fmt.Errorf("postgres: unsupported expression %T", e)
}

func (m model) list(items []spec.Expr) ([]exp.Expression, error) {
	out := make([]exp.Expression, 0, len(items))
	for _, item := range items {
		e, err := m.expr(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (m model) cond(c spec.Cond) (exp.Expression, error) {
	col, ok := m.columns[c.Field]
	if !ok {
		return nil, fmt.Errorf("postgres: unknown field %q on %s", c.Field, m.table)
	}
	if col.collection != nil {
		return col.collection(c)
	}
	return compare(goqu.I(col.name), c)
}

// compare renders a scalar condition against an identifier.
func compare(id exp.IdentifierExpression, c spec.Cond) (exp.Expression, error) {
	switch c.Op {
	case spec.Eq, spec.Has:
		return id.Eq(c.Value), nil
	case spec.Ne:
		return id.Neq(c.Value), nil
	case spec.Gt:
		return id.Gt(c.Value), nil
	case spec.Gte:
		return id.Gte(c.Value), nil
	case spec.Lt:
		return id.Lt(c.Value), nil
	case spec.Lte:
		return id.Lte(c.Value), nil
	case spec.EqFold:
		return goqu.Func("LOWER", id).Eq(strings.ToLower(fmt.Sprint(c.Value))), nil
	case spec.Contains:
		return id.ILike("%" + escapeLike(fmt.Sprint(c.Value)) + "%"), nil
	case spec.IsNull:
		return id.IsNull(), nil
	case spec.In:
		return id.In(c.Value), nil
	}
	return nil, fmt.Errorf("postgres: unsupported operator %s", c.Op)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func exists(ds *goqu.SelectDataset) exp.Expression {
	return goqu.L("EXISTS ?", ds.Select(goqu.L("1")))
}

var bookModel = model{
	table: "books",
	alias: "b",
	joins: []join{{table: "authors", alias: "a", on: goqu.I("a.id").Eq(goqu.I("b.author_id"))}},
	columns: map[string]column{
		spec.FieldID:             {name: "b.id"},
		spec.FieldDeleted:        {name: "b.deleted"},
		spec.FieldCreatedAt:      {name: "b.created_at"},
		spec.BookTitle:           {name: "b.title", text: true},
		spec.BookISBN:            {name: "b.isbn", text: true},
		spec.BookDescription:     {name: "b.description", text: true},
		spec.BookLanguage:        {name: "b.language", text: true},
		spec.BookAuthorID:        {name: "b.author_id"},
		spec.BookAvailableCopies: {name: "b.available_copies"},
		spec.BookPublishedDate:   {name: "b.published_date"},
		spec.BookAuthorFirstName: {name: "a.first_name", text: true},
		spec.BookAuthorLastName:  {name: "a.last_name", text: true},
		spec.BookCategoryName: {collection: func(c spec.Cond) (exp.Expression, error) {
			inner, err := compare(goqu.I("cat.name"), c)
			if err != nil {
				return nil, err
			}
			return exists(dialect.From(goqu.T("book_categories").As("bc")).
				Join(goqu.T("categories").As("cat"), goqu.On(goqu.I("cat.id").Eq(goqu.I("bc.category_id")))).
				Where(goqu.I("bc.book_id").Eq(goqu.I("b.id")), inner)), nil
		}},
		spec.BookCategoryID: {collection: func(c spec.Cond) (exp.Expression, error) {
			if c.Op != spec.Has {
				return nil, fmt.Errorf("postgres: %s supports only has", spec.BookCategoryID)
			}
			return exists(dialect.From(goqu.T("book_categories").As("bc")).
				Where(goqu.I("bc.book_id").Eq(goqu.I("b.id")), goqu.I("bc.category_id").Eq(c.Value))), nil
		}},
	},
}

var authorModel = model{
	table: "authors",
	alias: "a",
	columns: map[string]column{
		spec.FieldID:         {name: "a.id"},
		spec.FieldDeleted:    {name: "a.deleted"},
		spec.FieldCreatedAt:  {name: "a.created_at"},
		spec.AuthorFirstName: {name: "a.first_name", text: true},
		spec.AuthorLastName:  {name: "a.last_name", text: true},
		spec.AuthorBiography: {name: "a.biography", text: true},
	},
}

var categoryModel = model{
	table: "categories",
	alias: "cat",
	columns: map[string]column{
		spec.FieldID:             {name: "cat.id"},
		spec.FieldCreatedAt:      {name: "cat.created_at"},
		spec.CategoryName:        {name: "cat.name", text: true},
		spec.CategoryDescription: {name: "cat.description", text: true},
	},
}

var patronModel = model{
	table: "patrons",
	alias: "p",
	columns: map[string]column{
		spec.FieldID:                {name: "p.id"},
		spec.FieldCreatedAt:         {name: "p.created_at"},
		spec.PatronUserID:           {name: "p.user_id"},
		spec.PatronEmail:            {name: "p.email", text: true},
		spec.PatronFullName:         {name: "p.full_name", text: true},
		spec.PatronMembershipNumber: {name: "p.membership_number"},
	},
}

var checkoutModel = model{
	table: "checkouts",
	alias: "c",
	joins: []join{
		{table: "books", alias: "bk", on: goqu.I("bk.id").Eq(goqu.I("c.book_id"))},
		{table: "patrons", alias: "p", on: goqu.I("p.id").Eq(goqu.I("c.patron_id"))},
	},
	columns: map[string]column{
		spec.FieldID:              {name: "c.id"},
		spec.FieldCreatedAt:       {name: "c.created_at"},
		spec.CheckoutBookID:       {name: "c.book_id"},
		spec.CheckoutPatronID:     {name: "c.patron_id"},
		spec.CheckoutStatus:       {name: "c.status", text: true},
		spec.CheckoutDueDate:      {name: "c.due_date"},
		spec.CheckoutCheckedOutAt: {name: "c.checked_out_at"},
		spec.CheckoutReturnedAt:   {name: "c.returned_at"},
		spec.CheckoutBookTitle:    {name: "bk.title", text: true},
		spec.CheckoutPatronEmail:  {name: "p.email", text: true},
		spec.CheckoutPatronName:   {name: "p.full_name", text: true},
	},
}
