package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shelfwise/internal/domain"
	"shelfwise/internal/store/postgres"
)

// PostgresStore reads and writes the users and refresh_tokens tables
// created by postgres.Migrate.
type PostgresStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, tracer: otel.Tracer("shelfwise/membership")}
}

const selectUsers = `
	SELECT id, email, password_hash, password_salt, first_name, last_name, role, created_at
	FROM users`

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	ctx, span := s.tracer.Start(ctx, "users.create", trace.WithAttributes(attribute.String("user.id", u.ID.String())))
	defer span.End()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, password_salt, first_name, last_name, role, created_at)
		VALUES (:id, :email, :password_hash, :password_salt, :first_name, :last_name, :role, :created_at)`, u)
	if postgres.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.getUser(ctx, selectUsers+" WHERE id = $1", id)
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, selectUsers+" WHERE lower(email) = lower($1)", email)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := s.db.SelectContext(ctx, &users, selectUsers+" ORDER BY lower(email)"); err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) SetRole(ctx context.Context, id uuid.UUID, role domain.Role) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

const insertToken = `
	INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked_at, replaced_by)
	VALUES (:id, :user_id, :token_hash, :expires_at, :created_at, :revoked_at, :replaced_by)`

func (s *PostgresStore) SaveToken(ctx context.Context, t *RefreshToken) error {
	if _, err := s.db.NamedExecContext(ctx, insertToken, t); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (s *PostgresStore) TokenByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	var t RefreshToken
	err := s.db.GetContext(ctx, &t, `
		SELECT id, user_id, token_hash, expires_at, created_at, revoked_at, replaced_by
		FROM refresh_tokens
		WHERE token_hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query refresh token: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (s *PostgresStore) RotateToken(ctx context.Context, old uuid.UUID, next *RefreshToken, at time.Time) error {
	ctx, span := s.tracer.Start(ctx, "refresh_tokens.rotate", trace.WithAttributes(attribute.String("token.id", old.String())))
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, replaced_by = $3
		WHERE id = $1 AND revoked_at IS NULL`, old, at, next.ID.String())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTokenNotFound
	}
	if _, err := tx.NamedExecContext(ctx, insertToken, next); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ UserStore = (*PostgresStore)(nil)
