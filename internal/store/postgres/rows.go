package postgres

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
)

type entityRow struct {
	ID         uuid.UUID    `db:"id"`
	CreatedAt  time.Time    `db:"created_at"`
	CreatedBy  string       `db:"created_by"`
	UpdatedAt  sql.NullTime `db:"updated_at"`
	ModifiedBy string       `db:"modified_by"`
	Version    int          `db:"version"`
}

func (r entityRow) entity() domain.Entity {
	e := domain.Entity{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		CreatedBy:  r.CreatedBy,
		ModifiedBy: r.ModifiedBy,
		Version:    r.Version,
	}
	if r.UpdatedAt.Valid {
		t := r.UpdatedAt.Time
		e.UpdatedAt = &t
	}
	return e
}

func entityValues(e *domain.Entity) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"created_at":  e.CreatedAt,
		"created_by":  e.CreatedBy,
		"updated_at":  nullTime(e.UpdatedAt),
		"modified_by": e.ModifiedBy,
	}
}

type softDeleteRow struct {
	Deleted   bool           `db:"deleted"`
	DeletedAt sql.NullTime   `db:"deleted_at"`
	DeletedBy sql.NullString `db:"deleted_by"`
}

func (r softDeleteRow) softDelete() domain.SoftDelete {
	s := domain.SoftDelete{Deleted: r.Deleted, DeletedBy: r.DeletedBy.String}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		s.DeletedAt = &t
	}
	return s
}

func softDeleteValues(s *domain.SoftDelete, into map[string]any) {
	into["deleted"] = s.Deleted
	into["deleted_at"] = nullTime(s.DeletedAt)
	into["deleted_by"] = nullString(s.DeletedBy)
}

type bookRow struct {
	entityRow
	softDeleteRow
	Title           string         `db:"title"`
	ISBN            sql.NullString `db:"isbn"`
	Description     sql.NullString `db:"description"`
	CoverImageURL   sql.NullString `db:"cover_image_url"`
	Publisher       sql.NullString `db:"publisher"`
	Language        sql.NullString `db:"language"`
	PublishedDate   sql.NullTime   `db:"published_date"`
	PageCount       sql.NullInt64  `db:"page_count"`
	TotalCopies     int            `db:"total_copies"`
	AvailableCopies int            `db:"available_copies"`
	AuthorID        uuid.UUID      `db:"author_id"`
}

func (r bookRow) book() *domain.Book {
	b := &domain.Book{
		Entity:          r.entity(),
		SoftDelete:      r.softDelete(),
		Title:           r.Title,
		ISBN:            r.ISBN.String,
		Description:     r.Description.String,
		CoverImageURL:   r.CoverImageURL.String,
		Publisher:       r.Publisher.String,
		Language:        r.Language.String,
		TotalCopies:     r.TotalCopies,
		AvailableCopies: r.AvailableCopies,
		AuthorID:        r.AuthorID,
	}
	if r.PublishedDate.Valid {
		t := r.PublishedDate.Time
		b.PublishedDate = &t
	}
	if r.PageCount.Valid {
		n := int(r.PageCount.Int64)
		b.PageCount = &n
	}
	return b
}

func bookValues(b *domain.Book) map[string]any {
	v := entityValues(&b.Entity)
	softDeleteValues(&b.SoftDelete, v)
	v["title"] = b.Title
	v["isbn"] = nullString(b.ISBN)
	v["description"] = nullString(b.Description)
	v["cover_image_url"] = nullString(b.CoverImageURL)
	v["publisher"] = nullString(b.Publisher)
	v["language"] = nullString(b.Language)
	v["published_date"] = nullTime(b.PublishedDate)
	v["page_count"] = nullInt(b.PageCount)
	v["total_copies"] = b.TotalCopies
	v["available_copies"] = b.AvailableCopies
	v["author_id"] = b.AuthorID
	return v
}

type authorRow struct {
	entityRow
	softDeleteRow
	FirstName string         `db:"first_name"`
	LastName  string         `db:"last_name"`
	Biography sql.NullString `db:"biography"`
}

func (r authorRow) author() *domain.Author {
	return &domain.Author{
		Entity:     r.entity(),
		SoftDelete: r.softDelete(),
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Biography:  r.Biography.String,
	}
}

func authorValues(a *domain.Author) map[string]any {
	v := entityValues(&a.Entity)
	softDeleteValues(&a.SoftDelete, v)
	v["first_name"] = a.FirstName
	v["last_name"] = a.LastName
	v["biography"] = nullString(a.Biography)
	return v
}

type categoryRow struct {
	entityRow
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
}

func (r categoryRow) category() *domain.Category {
	return &domain.Category{Entity: r.entity(), Name: r.Name, Description: r.Description.String}
}

func categoryValues(c *domain.Category) map[string]any {
	v := entityValues(&c.Entity)
	v["name"] = c.Name
	v["description"] = nullString(c.Description)
	return v
}

type patronRow struct {
	entityRow
	UserID           string         `db:"user_id"`
	FullName         string         `db:"full_name"`
	Email            string         `db:"email"`
	MembershipNumber string         `db:"membership_number"`
	Phone            sql.NullString `db:"phone"`
	Address          sql.NullString `db:"address"`
}

func (r patronRow) patron() *domain.Patron {
	return &domain.Patron{
		Entity:           r.entity(),
		UserID:           r.UserID,
		FullName:         r.FullName,
		Email:            r.Email,
		MembershipNumber: r.MembershipNumber,
		Phone:            r.Phone.String,
		Address:          r.Address.String,
	}
}

func patronValues(p *domain.Patron) map[string]any {
	v := entityValues(&p.Entity)
	v["user_id"] = p.UserID
	v["full_name"] = p.FullName
	v["email"] = p.Email
	v["membership_number"] = p.MembershipNumber
	v["phone"] = nullString(p.Phone)
	v["address"] = nullString(p.Address)
	return v
}

type checkoutRow struct {
	entityRow
	BookID       uuid.UUID      `db:"book_id"`
	PatronID     uuid.UUID      `db:"patron_id"`
	CheckedOutAt time.Time      `db:"checked_out_at"`
	DueDate      time.Time      `db:"due_date"`
	ReturnedAt   sql.NullTime   `db:"returned_at"`
	Status       string         `db:"status"`
	Notes        sql.NullString `db:"notes"`
}

func (r checkoutRow) checkout() *domain.CheckoutRecord {
	c := &domain.CheckoutRecord{
		Entity:       r.entity(),
		BookID:       r.BookID,
		PatronID:     r.PatronID,
		CheckedOutAt: r.CheckedOutAt,
		DueDate:      r.DueDate,
		Status:       domain.CheckoutStatus(r.Status),
		Notes:        r.Notes.String,
	}
	if r.ReturnedAt.Valid {
		t := r.ReturnedAt.Time
		c.ReturnedAt = &t
	}
	return c
}

func checkoutValues(c *domain.CheckoutRecord) map[string]any {
	v := entityValues(&c.Entity)
	v["book_id"] = c.BookID
	v["patron_id"] = c.PatronID
	v["checked_out_at"] = c.CheckedOutAt
	v["due_date"] = c.DueDate
	v["returned_at"] = nullTime(c.ReturnedAt)
	v["status"] = string(c.Status)
	v["notes"] = nullString(c.Notes)
	return v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
