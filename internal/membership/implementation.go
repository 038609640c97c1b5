package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"shelfwise/internal/apperr"
	"shelfwise/internal/domain"
	"shelfwise/internal/store"
)

const (
	msgBadCredentials = "Invalid email or password."
	msgEmailTaken     = "A user with this email already exists."
	msgBadRefresh     = "Invalid or expired refresh token."
	msgTokenNotFound  = "Token not found."
	msgUserNotFound   = "User not found."
	msgBadRole        = "Invalid role. Valid roles are: Admin, Librarian, Patron"
	msgAdminOnly      = "Only admins can manage users."
	msgLockedOut      = "Too many failed login attempts. Please try again later."
)

// Five failed logins lock an email out; one attempt comes back every three
// minutes.
const (
	lockoutBurst    = 5
	lockoutInterval = 3 * time.Minute
	maxTrackedEmail = 10000
)

// service implements the Service interface.
type service struct {
	users  UserStore
	store  *store.Store
	tokens *Tokens
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu       sync.Mutex
	failures map[string]*rate.Limiter
}

type Option func(*service)

func WithLogger(log *slog.Logger) Option {
	return func(s *service) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new membership service instance. Patron profiles
// are written through st; identities through users.
func NewService(users UserStore, st *store.Store, tokens *Tokens, opts ...Option) Service {
	s := &service{
		users:    users,
		store:    st,
		tokens:   tokens,
		log:      slog.Default(),
		tracer:   otel.Tracer("shelfwise/membership"),
		now:      time.Now,
		failures: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a Patron account with its borrower profile and signs
// the new user in.
func (s *service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer span.End()

	u, err := s.create(ctx, req, domain.RolePatron)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return s.issue(ctx, u)
}

func (s *service) CreateUser(ctx context.Context, req RegisterRequest, role domain.Role) (*UserDTO, error) {
	u, err := s.create(ctx, req, role)
	if err != nil {
		return nil, err
	}
	dto := toUserDTO(u)
	return &dto, nil
}

func (s *service) create(ctx context.Context, req RegisterRequest, role domain.Role) (*User, error) {
	email := strings.TrimSpace(req.Email)
	if _, err := s.users.UserByEmail(ctx, email); err == nil {
		return nil, apperr.Conflict(msgEmailTaken)
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	hash, salt, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         role,
		CreatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.Conflict(msgEmailTaken)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if role == domain.RolePatron {
		if err := s.addPatron(ctx, u, now); err != nil {
			// identity and profile live in different tables; undo the first
			if derr := s.users.DeleteUser(context.WithoutCancel(ctx), u.ID); derr != nil {
				s.log.ErrorContext(ctx, "orphaned user after failed registration", "user_id", u.ID, "error", derr)
			}
			return nil, fmt.Errorf("create patron profile: %w", err)
		}
	}
	s.log.InfoContext(ctx, "user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

func (s *service) addPatron(ctx context.Context, u *User, now time.Time) error {
	uow := s.store.Begin()
	uow.Patrons.Add(domain.NewPatron(u.ID.String(), u.FullName(), u.Email, membershipNumber(now)))
	return uow.SaveChanges(store.WithActor(ctx, u.ID.String()))
}

// membershipNumber looks like LIB-20240301-1A2B3C.
func membershipNumber(now time.Time) string {
	return "LIB-" + now.Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:6])
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "membership.login")
	defer span.End()

	key := strings.ToLower(strings.TrimSpace(req.Email))
	lim := s.limiter(key)
	now := s.now()
	if lim.TokensAt(now) < 1 {
		return nil, apperr.New(apperr.KindRateLimited, msgLockedOut)
	}

	u, err := s.users.UserByEmail(ctx, key)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if u == nil {
		lim.AllowN(now, 1)
		return nil, apperr.Unauthorized(msgBadCredentials)
	}
	ok, err := verifyPassword(req.Password, u.PasswordSalt, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		lim.AllowN(now, 1)
		s.log.WarnContext(ctx, "failed login", "user_id", u.ID)
		return nil, apperr.Unauthorized(msgBadCredentials)
	}

	span.SetAttributes(attribute.String("user.id", u.ID.String()))
	return s.issue(ctx, u)
}

func (s *service) limiter(email string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.failures[email]
	if !ok {
		if len(s.failures) >= maxTrackedEmail {
			s.failures = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Every(lockoutInterval), lockoutBurst)
		s.failures[email] = lim
	}
	return lim
}

// Refresh swaps a live refresh token for a new token pair. The presented
// token cannot be used again.
func (s *service) Refresh(ctx context.Context, raw string) (*AuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "membership.refresh")
	defer span.End()

	now := s.now()
	old, err := s.users.TokenByHash(ctx, hashToken(raw))
	if errors.Is(err, ErrTokenNotFound) {
		return nil, apperr.Unauthorized(msgBadRefresh)
	}
	if err != nil {
		return nil, fmt.Errorf("refresh token lookup: %w", err)
	}
	if !old.Usable(now) {
		return nil, apperr.Unauthorized(msgBadRefresh)
	}
	u, err := s.users.UserByID(ctx, old.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperr.Unauthorized(msgBadRefresh)
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	access, exp, err := s.tokens.Access(u)
	if err != nil {
		return nil, err
	}
	refresh, next, err := s.tokens.Refresh(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.users.RotateToken(ctx, old.ID, next, now); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, apperr.Unauthorized(msgBadRefresh)
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	return authResponse(u, access, refresh, exp), nil
}

func (s *service) Revoke(ctx context.Context, raw string) error {
	t, err := s.users.TokenByHash(ctx, hashToken(raw))
	if errors.Is(err, ErrTokenNotFound) {
		return apperr.NotFound(msgTokenNotFound)
	}
	if err != nil {
		return fmt.Errorf("refresh token lookup: %w", err)
	}
	if err := s.users.RevokeToken(ctx, t.ID, s.now()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	s.log.InfoContext(ctx, "refresh token revoked", "user_id", t.UserID)
	return nil
}

// Authenticate trusts the token's role claim; role changes apply once the
// access token expires.
func (s *service) Authenticate(_ context.Context, raw string) (domain.Actor, error) {
	actor, err := s.tokens.Parse(raw)
	if err != nil {
		return domain.Anonymous, apperr.Wrap(apperr.KindUnauthorized, "Invalid or expired access token.", err)
	}
	return actor, nil
}

func (s *service) ListUsers(ctx context.Context, actor domain.Actor) ([]UserDTO, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, apperr.Forbidden(msgAdminOnly)
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserDTO, len(users))
	for i, u := range users {
		out[i] = toUserDTO(u)
	}
	return out, nil
}

func (s *service) GetUser(ctx context.Context, actor domain.Actor, id uuid.UUID) (*UserDTO, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, apperr.Forbidden(msgAdminOnly)
	}
	u, err := s.users.UserByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperr.NotFound(msgUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	dto := toUserDTO(u)
	return &dto, nil
}

// AssignRole matches role names case-insensitively.
func (s *service) AssignRole(ctx context.Context, actor domain.Actor, id uuid.UUID, role string) (*UserDTO, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, apperr.Forbidden(msgAdminOnly)
	}
	r, ok := parseRoleFold(role)
	if !ok {
		return nil, apperr.Validation(msgBadRole)
	}
	if err := s.users.SetRole(ctx, id, r); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.NotFound(msgUserNotFound)
		}
		return nil, fmt.Errorf("assign role: %w", err)
	}
	s.log.InfoContext(ctx, "role assigned", "user_id", id, "role", r, "by", actor.UserID)
	return s.GetUser(ctx, actor, id)
}

func parseRoleFold(s string) (domain.Role, bool) {
	for _, r := range []domain.Role{domain.RoleAdmin, domain.RoleLibrarian, domain.RolePatron} {
		if strings.EqualFold(s, string(r)) {
			return r, true
		}
	}
	return "", false
}

func (s *service) issue(ctx context.Context, u *User) (*AuthResponse, error) {
	access, exp, err := s.tokens.Access(u)
	if err != nil {
		return nil, err
	}
	refresh, t, err := s.tokens.Refresh(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.users.SaveToken(ctx, t); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}
	return authResponse(u, access, refresh, exp), nil
}

func authResponse(u *User, access, refresh string, exp time.Time) *AuthResponse {
	return &AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		UserID:       u.ID,
		Email:        u.Email,
		Role:         u.Role,
		FullName:     u.FullName(),
	}
}
