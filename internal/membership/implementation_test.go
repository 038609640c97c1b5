package membership

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwise/internal/apperr"
	"shelfwise/internal/domain"
	"shelfwise/internal/store"
	"shelfwise/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var admin = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}

type fixture struct {
	svc   Service
	users *MemoryStore
	store *store.Store
	now   time.Time
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	tokens, err := NewTokens(TokenConfig{Secret: testSecret, Issuer: "shelfwise", Audience: "shelfwise-clients"}, clock)
	require.NoError(t, err)
	f.users = NewMemoryStore()
	f.store = store.New(memory.New(), nil, store.WithClock(clock))
	f.svc = NewService(f.users, f.store, tokens, WithClock(clock))
	return f
}

func register(email string) RegisterRequest {
	return RegisterRequest{Email: email, Password: "Secr3t!pass", FirstName: "Ada", LastName: "Lovelace"}
}

func TestRegisterCreatesPatronProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, register("ada@example.com"))
	require.NoError(t, err)
	assert.Equal(t, domain.RolePatron, resp.Role)
	assert.Equal(t, "Ada Lovelace", resp.FullName)
	assert.Equal(t, f.now.Add(15*time.Minute), resp.ExpiresAt)
	assert.NotEmpty(t, resp.RefreshToken)

	patron, err := f.store.Begin().Patrons.GetByUserID(ctx, resp.UserID.String())
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", patron.FullName)
	assert.Regexp(t, `^LIB-20240301-[0-9A-F]{6}$`, patron.MembershipNumber)

	actor, err := f.svc.Authenticate(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.UserID.String(), actor.UserID)
	assert.Equal(t, domain.RolePatron, actor.Role)
	assert.Equal(t, "ada@example.com", actor.Email)

	_, err = f.svc.Register(ctx, register("ADA@example.com"))
	assert.Equal(t, "A user with this email already exists.", apperr.Message(err))
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
}

func TestStaffAccountsHaveNoPatronProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.CreateUser(ctx, register("desk@example.com"), domain.RoleLibrarian)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLibrarian, u.Role)

	_, err = f.store.Begin().Patrons.GetByUserID(ctx, u.ID.String())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, register("ada@example.com"))
	require.NoError(t, err)

	resp, err := f.svc.Login(ctx, LoginRequest{Email: "Ada@Example.com", Password: "Secr3t!pass"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", resp.Email)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.Equal(t, "Invalid email or password.", apperr.Message(err))
	assert.Equal(t, http.StatusUnauthorized, apperr.Status(err))

	_, err = f.svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "Secr3t!pass"})
	assert.Equal(t, "Invalid email or password.", apperr.Message(err))
}

func TestRepeatedLoginFailuresLockOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, register("ada@example.com"))
	require.NoError(t, err)

	for i := 0; i < lockoutBurst; i++ {
		_, err := f.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "wrong"})
		require.True(t, apperr.Is(err, apperr.KindUnauthorized))
	}
	_, err = f.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Secr3t!pass"})
	assert.Equal(t, http.StatusTooManyRequests, apperr.Status(err))

	f.now = f.now.Add(lockoutInterval)
	_, err = f.svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Secr3t!pass"})
	assert.NoError(t, err)
}

func TestRefreshRotatesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Register(ctx, register("ada@example.com"))
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.UserID, second.UserID)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	assert.Equal(t, "Invalid or expired refresh token.", apperr.Message(err))

	f.now = f.now.Add(8 * 24 * time.Hour)
	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = f.svc.Refresh(ctx, "not-a-token")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp, err := f.svc.Register(ctx, register("ada@example.com"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, resp.RefreshToken))
	_, err = f.svc.Refresh(ctx, resp.RefreshToken)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	err = f.svc.Revoke(ctx, "unknown")
	assert.Equal(t, "Token not found.", apperr.Message(err))
	assert.Equal(t, http.StatusNotFound, apperr.Status(err))
}

func TestAccessTokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp, err := f.svc.Register(ctx, register("ada@example.com"))
	require.NoError(t, err)

	f.now = f.now.Add(16 * time.Minute)
	_, err = f.svc.Authenticate(ctx, resp.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, apperr.Status(err))

	other, err := NewTokens(TokenConfig{Secret: "ffffffffffffffffffffffffffffffff", Issuer: "shelfwise", Audience: "shelfwise-clients"}, nil)
	require.NoError(t, err)
	forged, _, err := other.Access(&User{ID: uuid.New(), Email: "x@example.com", Role: domain.RoleAdmin})
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, forged)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestWeakSecretRejected(t *testing.T) {
	_, err := NewTokens(TokenConfig{Secret: "short"}, nil)
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestUserAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp, err := f.svc.Register(ctx, register("ada@example.com"))
	require.NoError(t, err)
	patron := domain.Actor{UserID: resp.UserID.String(), Role: domain.RolePatron}

	_, err = f.svc.ListUsers(ctx, patron)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	users, err := f.svc.ListUsers(ctx, admin)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Ada", users[0].FirstName)

	u, err := f.svc.AssignRole(ctx, admin, resp.UserID, "librarian")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLibrarian, u.Role)

	_, err = f.svc.AssignRole(ctx, admin, resp.UserID, "Janitor")
	assert.Equal(t, "Invalid role. Valid roles are: Admin, Librarian, Patron", apperr.Message(err))

	_, err = f.svc.AssignRole(ctx, admin, uuid.New(), "Admin")
	assert.Equal(t, "User not found.", apperr.Message(err))

	_, err = f.svc.GetUser(ctx, admin, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// refreshed tokens pick up the new role
	next, err := f.svc.Refresh(ctx, resp.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLibrarian, next.Role)
}

func TestPasswordHashing(t *testing.T) {
	hash, salt, err := hashPassword("Secr3t!pass")
	require.NoError(t, err)

	ok, err := verifyPassword("Secr3t!pass", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("secr3t!pass", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verifyPassword("x", "%%%", hash)
	assert.Error(t, err)
}
