package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations are applied in order and recorded in schema_migrations. Never
// edit an applied migration; append a new one.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS authors (
		id UUID PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		biography TEXT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMPTZ,
		deleted_by TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ,
		modified_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS categories (
		id UUID PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ,
		modified_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_name ON categories (lower(name));

	CREATE TABLE IF NOT EXISTS books (
		id UUID PRIMARY KEY,
		title VARCHAR(500) NOT NULL,
		isbn VARCHAR(20),
		description TEXT,
		cover_image_url TEXT,
		publisher VARCHAR(200),
		language VARCHAR(50),
		published_date DATE,
		page_count INTEGER,
		total_copies INTEGER NOT NULL,
		available_copies INTEGER NOT NULL,
		author_id UUID NOT NULL REFERENCES authors(id),
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMPTZ,
		deleted_by TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ,
		modified_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		CONSTRAINT books_copies_check CHECK (available_copies >= 0 AND available_copies <= total_copies)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_books_isbn ON books (lower(isbn)) WHERE NOT deleted AND isbn IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_books_author ON books (author_id);

	CREATE TABLE IF NOT EXISTS book_categories (
		book_id UUID NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		category_id UUID NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
		PRIMARY KEY (book_id, category_id)
	);

	CREATE TABLE IF NOT EXISTS patrons (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		full_name VARCHAR(200) NOT NULL,
		email VARCHAR(255) NOT NULL,
		membership_number VARCHAR(50) NOT NULL UNIQUE,
		phone VARCHAR(50),
		address TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ,
		modified_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS checkouts (
		id UUID PRIMARY KEY,
		book_id UUID NOT NULL REFERENCES books(id),
		patron_id UUID NOT NULL REFERENCES patrons(id),
		checked_out_at TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		returned_at TIMESTAMPTZ,
		status VARCHAR(20) NOT NULL,
		notes VARCHAR(1000),
		created_at TIMESTAMPTZ NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ,
		modified_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_checkouts_patron_status ON checkouts (patron_id, status);
	CREATE INDEX IF NOT EXISTS idx_checkouts_status_due ON checkouts (status, due_date);`,

	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		password_hash TEXT NOT NULL,
		password_salt TEXT NOT NULL,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		role VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (lower(email));

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ,
		replaced_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens (user_id);`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		aggregate_id UUID NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data JSONB NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		UNIQUE (aggregate_id, version)
	);`,
}

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied int
	if err := db.GetContext(ctx, &applied, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := applied; i < len(migrations); i++ {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion is the number of migrations this build knows.
func SchemaVersion() int { return len(migrations) }
