package membership

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwise/internal/domain"
	"shelfwise/internal/store/postgres"
)

func setupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	env := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"), env("PGPORT", "5432"), env("PGUSER", "user"),
		env("PGPASSWORD", "password"), env("PGDATABASE", "testdb"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	db, err := postgres.Open(ctx, postgres.DriverPQ, dsn, postgres.DefaultPool)
	if err != nil {
		t.Skipf("skipping postgres tests: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	require.NoError(t, postgres.Migrate(context.Background(), db))
	_, err = db.Exec(`TRUNCATE refresh_tokens, users CASCADE`)
	require.NoError(t, err)
	return db
}

func TestPostgresStore(t *testing.T) {
	s := NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	u := &User{
		ID: uuid.New(), Email: "Ada@example.com", PasswordHash: "h", PasswordSalt: "s",
		FirstName: "Ada", LastName: "Lovelace", Role: domain.RolePatron, CreatedAt: now,
	}
	require.NoError(t, s.CreateUser(ctx, u))
	dup := *u
	dup.ID = uuid.New()
	dup.Email = "ada@EXAMPLE.com"
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), ErrEmailTaken)

	got, err := s.UserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, domain.RolePatron, got.Role)

	require.NoError(t, s.SetRole(ctx, u.ID, domain.RoleAdmin))
	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, got.Role)
	assert.ErrorIs(t, s.SetRole(ctx, uuid.New(), domain.RoleAdmin), ErrUserNotFound)

	first := &RefreshToken{ID: uuid.New(), UserID: u.ID, TokenHash: "one", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, s.SaveToken(ctx, first))
	next := &RefreshToken{ID: uuid.New(), UserID: u.ID, TokenHash: "two", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, s.RotateToken(ctx, first.ID, next, now))
	assert.ErrorIs(t, s.RotateToken(ctx, first.ID, next, now), ErrTokenNotFound)

	old, err := s.TokenByHash(ctx, "one")
	require.NoError(t, err)
	require.NotNil(t, old.RevokedAt)
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, next.ID.String(), *old.ReplacedBy)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.TokenByHash(ctx, "two")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}
