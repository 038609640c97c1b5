package httpapi_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwise/internal/app"
	"shelfwise/internal/config"
	"shelfwise/internal/domain"
	"shelfwise/internal/membership"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type harness struct {
	t   *testing.T
	app *app.App
	srv *httptest.Server
	now time.Time
}

func newHarness(t *testing.T, tweak ...func(*config.Config)) *harness {
	t.Helper()
	cfg := &config.Config{
		Store:              config.StoreMemory,
		JWTSecret:          "0123456789abcdef0123456789abcdef",
		JWTIssuer:          "shelfwise",
		JWTAudience:        "shelfwise-clients",
		AccessTokenTTL:     time.Hour * 24 * 60,
		RefreshTokenTTL:    time.Hour * 24 * 90,
		RateLimitPerMinute: 10000,
		RateLimitBurst:     10000,
	}
	for _, f := range tweak {
		f(cfg)
	}
	h := &harness{t: t, now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	a, err := app.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		app.WithClock(func() time.Time { return h.now }))
	require.NoError(t, err)
	h.app = a
	h.srv = httptest.NewServer(a.Handler)
	t.Cleanup(func() {
		h.srv.Close()
		a.Close()
	})
	return h
}

// account creates a user directly and signs in over HTTP.
func (h *harness) account(email string, role domain.Role) string {
	h.t.Helper()
	req := membership.RegisterRequest{Email: email, Password: "Secr3t!pass", FirstName: "Test", LastName: string(role)}
	if role == domain.RolePatron {
		var auth membership.AuthResponse
		h.do(http.MethodPost, "/api/auth/register", "", req, http.StatusOK, &auth)
		return auth.AccessToken
	}
	_, err := h.app.Membership.CreateUser(context.Background(), req, role)
	require.NoError(h.t, err)
	var auth membership.AuthResponse
	h.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "Secr3t!pass"}, http.StatusOK, &auth)
	return auth.AccessToken
}

func (h *harness) do(method, path, token string, body any, wantStatus int, out any) {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	require.Equal(h.t, wantStatus, resp.StatusCode, "%s %s: %s", method, path, raw)
	if out != nil {
		require.NoError(h.t, json.Unmarshal(raw, out), string(raw))
	}
}

type idOnly struct {
	ID string `json:"id"`
}

type book struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	AvailableCopies int    `json:"availableCopies"`
	AuthorName      string `json:"authorName"`
}

type page struct {
	Items      []book `json:"items"`
	TotalCount int    `json:"totalCount"`
}

type errBody struct {
	Error  string            `json:"error"`
	Errors map[string]string `json:"errors"`
}

func TestCheckoutAndReturnOverHTTP(t *testing.T) {
	h := newHarness(t)
	librarian := h.account("desk@example.com", domain.RoleLibrarian)
	alice := h.account("alice@example.com", domain.RolePatron)

	var author idOnly
	h.do(http.MethodPost, "/api/authors", librarian, map[string]string{"firstName": "George", "lastName": "Orwell"}, http.StatusCreated, &author)
	var created book
	h.do(http.MethodPost, "/api/books", librarian, map[string]any{
		"title": "1984", "isbn": "978-0451524935", "totalCopies": 5, "authorId": author.ID,
		"description": "Big Brother is watching.",
	}, http.StatusCreated, &created)
	assert.Equal(t, 5, created.AvailableCopies)
	assert.Equal(t, "George Orwell", created.AuthorName)

	var loan struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		BookTitle string `json:"bookTitle"`
	}
	h.do(http.MethodPost, "/api/checkouts", alice, map[string]any{"bookId": created.ID}, http.StatusOK, &loan)
	assert.Equal(t, "Active", loan.Status)
	assert.Equal(t, "1984", loan.BookTitle)

	var got book
	h.do(http.MethodGet, "/api/books/"+created.ID, "", nil, http.StatusOK, &got)
	assert.Equal(t, 4, got.AvailableCopies)

	var refused errBody
	h.do(http.MethodPost, "/api/checkouts", alice, map[string]any{"bookId": created.ID}, http.StatusBadRequest, &refused)
	assert.Equal(t, "You already have this book checked out.", refused.Error)

	h.do(http.MethodPost, "/api/checkouts/"+loan.ID+"/return", alice, nil, http.StatusOK, &loan)
	assert.Equal(t, "Returned", loan.Status)
	h.do(http.MethodGet, "/api/books/"+created.ID, "", nil, http.StatusOK, &got)
	assert.Equal(t, 5, got.AvailableCopies)

	h.do(http.MethodPost, "/api/checkouts/"+loan.ID+"/return", librarian, nil, http.StatusBadRequest, &refused)
	assert.Equal(t, "This book has already been returned.", refused.Error)

	var history []struct {
		Event string `json:"event"`
		Actor string `json:"actor"`
	}
	h.do(http.MethodGet, "/api/books/"+created.ID+"/history", librarian, nil, http.StatusOK, &history)
	require.Len(t, history, 3)
	assert.Equal(t, "catalog.book.added", history[0].Event)
}

func TestRoleGates(t *testing.T) {
	h := newHarness(t)
	librarian := h.account("desk@example.com", domain.RoleLibrarian)
	alice := h.account("alice@example.com", domain.RolePatron)
	admin := h.account("root@example.com", domain.RoleAdmin)

	var e errBody
	h.do(http.MethodGet, "/api/checkouts", "", nil, http.StatusUnauthorized, &e)
	assert.Equal(t, "Authentication required.", e.Error)
	h.do(http.MethodGet, "/api/checkouts", "garbage", nil, http.StatusUnauthorized, nil)

	h.do(http.MethodPost, "/api/books", alice, map[string]any{"title": "x"}, http.StatusForbidden, &e)
	h.do(http.MethodGet, "/api/checkouts/overdue", alice, nil, http.StatusForbidden, nil)
	h.do(http.MethodGet, "/api/users", librarian, nil, http.StatusForbidden, nil)
	h.do(http.MethodPost, "/api/ai/categorize", alice, map[string]string{"title": "x", "author": "y"}, http.StatusForbidden, nil)

	var users []struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	h.do(http.MethodGet, "/api/users", admin, nil, http.StatusOK, &users)
	assert.Len(t, users, 3)

	h.do(http.MethodGet, "/api/books", "", nil, http.StatusOK, nil)
	h.do(http.MethodGet, "/api/books", "garbage", nil, http.StatusOK, nil)
}

func TestValidationErrorsCarryFields(t *testing.T) {
	h := newHarness(t)
	librarian := h.account("desk@example.com", domain.RoleLibrarian)

	var e errBody
	h.do(http.MethodPost, "/api/books", librarian, map[string]any{"totalCopies": 0}, http.StatusBadRequest, &e)
	assert.Equal(t, "One or more validation errors occurred.", e.Error)
	assert.Contains(t, e.Errors, "title")
	assert.Contains(t, e.Errors, "totalCopies")
	assert.Contains(t, e.Errors, "authorId")

	h.do(http.MethodGet, "/api/books/not-a-uuid", "", nil, http.StatusBadRequest, &e)
	assert.Equal(t, "Invalid id.", e.Error)

	h.do(http.MethodGet, "/api/nowhere", "", nil, http.StatusNotFound, nil)
}

func TestListingReflectsWrites(t *testing.T) {
	h := newHarness(t)
	librarian := h.account("desk@example.com", domain.RoleLibrarian)
	var author idOnly
	h.do(http.MethodPost, "/api/authors", librarian, map[string]string{"firstName": "Jane", "lastName": "Austen"}, http.StatusCreated, &author)

	var p page
	h.do(http.MethodGet, "/api/books?searchTerm=emma", "", nil, http.StatusOK, &p)
	assert.Zero(t, p.TotalCount)

	var emma book
	h.do(http.MethodPost, "/api/books", librarian, map[string]any{"title": "Emma", "totalCopies": 1, "authorId": author.ID}, http.StatusCreated, &emma)
	h.do(http.MethodGet, "/api/books?searchTerm=emma", "", nil, http.StatusOK, &p)
	require.Equal(t, 1, p.TotalCount)

	h.do(http.MethodDelete, "/api/books/"+emma.ID, librarian, nil, http.StatusNoContent, nil)
	h.do(http.MethodGet, "/api/books?searchTerm=emma", "", nil, http.StatusOK, &p)
	assert.Zero(t, p.TotalCount)
	h.do(http.MethodGet, "/api/books/"+emma.ID, "", nil, http.StatusNotFound, nil)
}

func TestDashboardCountsOverdueLoans(t *testing.T) {
	h := newHarness(t)
	librarian := h.account("desk@example.com", domain.RoleLibrarian)
	alice := h.account("alice@example.com", domain.RolePatron)

	var author idOnly
	h.do(http.MethodPost, "/api/authors", librarian, map[string]string{"firstName": "Mary", "lastName": "Shelley"}, http.StatusCreated, &author)
	var b book
	h.do(http.MethodPost, "/api/books", librarian, map[string]any{"title": "Frankenstein", "totalCopies": 2, "authorId": author.ID}, http.StatusCreated, &b)
	h.do(http.MethodPost, "/api/checkouts", alice, map[string]any{"bookId": b.ID, "dueDays": 3}, http.StatusOK, nil)

	h.now = h.now.AddDate(0, 0, 4)

	var mine, staff struct {
		TotalBooks       int  `json:"totalBooks"`
		AvailableBooks   int  `json:"availableBooks"`
		ActiveCheckouts  int  `json:"activeCheckouts"`
		OverdueCheckouts int  `json:"overdueCheckouts"`
		TotalPatrons     *int `json:"totalPatrons"`
	}
	h.do(http.MethodGet, "/api/dashboard/stats", alice, nil, http.StatusOK, &mine)
	assert.Equal(t, 1, mine.OverdueCheckouts)
	assert.Nil(t, mine.TotalPatrons)

	h.do(http.MethodGet, "/api/dashboard/stats", librarian, nil, http.StatusOK, &staff)
	assert.Equal(t, 1, staff.ActiveCheckouts)
	assert.Equal(t, 1, staff.OverdueCheckouts)
	require.NotNil(t, staff.TotalPatrons)
	assert.Equal(t, 1, *staff.TotalPatrons)

	var overdue []struct {
		IsOverdue bool   `json:"isOverdue"`
		Status    string `json:"status"`
	}
	h.do(http.MethodGet, "/api/checkouts/overdue", librarian, nil, http.StatusOK, &overdue)
	require.Len(t, overdue, 1)
	assert.True(t, overdue[0].IsOverdue)
	assert.Equal(t, "Active", overdue[0].Status)
}

func TestTokenLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	var auth membership.AuthResponse
	h.do(http.MethodPost, "/api/auth/register", "", membership.RegisterRequest{
		Email: "bob@example.com", Password: "Secr3t!pass", FirstName: "Bob", LastName: "Smith",
	}, http.StatusOK, &auth)
	assert.Equal(t, "Bob Smith", auth.FullName)

	var next membership.AuthResponse
	h.do(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": auth.RefreshToken}, http.StatusOK, &next)
	h.do(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": auth.RefreshToken}, http.StatusUnauthorized, nil)
	h.do(http.MethodPost, "/api/auth/revoke", "", map[string]string{"refreshToken": next.RefreshToken}, http.StatusOK, nil)
	h.do(http.MethodPost, "/api/auth/revoke", "", map[string]string{"refreshToken": "nope"}, http.StatusNotFound, nil)

	var e errBody
	h.do(http.MethodPost, "/api/auth/register", "", membership.RegisterRequest{
		Email: "weak@example.com", Password: "password", FirstName: "W", LastName: "K",
	}, http.StatusBadRequest, &e)
	assert.Contains(t, e.Errors, "password")
}

func TestAIEndpointsWithoutProvider(t *testing.T) {
	h := newHarness(t)
	librarian := h.account("desk@example.com", domain.RoleLibrarian)
	alice := h.account("alice@example.com", domain.RolePatron)

	var status struct {
		Available bool `json:"available"`
	}
	h.do(http.MethodGet, "/api/ai/status", alice, nil, http.StatusOK, &status)
	assert.False(t, status.Available)

	var e errBody
	h.do(http.MethodPost, "/api/ai/generate-description", librarian, map[string]string{"title": "Emma", "author": "Jane Austen"}, http.StatusBadRequest, &e)
	assert.Equal(t, "AI service is not configured.", e.Error)

	var rec struct {
		FromLibrary  []any    `json:"fromLibrary"`
		DiscoverMore []string `json:"discoverMore"`
	}
	h.do(http.MethodGet, "/api/ai/recommendations", alice, nil, http.StatusOK, &rec)
	assert.NotNil(t, rec.FromLibrary)
	assert.Empty(t, rec.DiscoverMore)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.RateLimitPerMinute = 1
		c.RateLimitBurst = 2
	})
	h.do(http.MethodGet, "/api/books", "", nil, http.StatusOK, nil)
	h.do(http.MethodGet, "/api/books", "", nil, http.StatusOK, nil)
	var e errBody
	h.do(http.MethodGet, "/api/books", "", nil, http.StatusTooManyRequests, &e)
	assert.Equal(t, "Too many requests. Please try again later.", e.Error)

	// health is outside the limited tree
	h.do(http.MethodGet, "/health", "", nil, http.StatusOK, nil)

	h.now = h.now.Add(time.Minute)
	h.do(http.MethodGet, "/api/books", "", nil, http.StatusOK, nil)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	var body map[string]string
	h.do(http.MethodGet, "/health", "", nil, http.StatusOK, &body)
	assert.Equal(t, "healthy", body["status"])
}
