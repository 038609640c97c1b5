package membership

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrTokenNotFound = errors.New("refresh token not found")
)

// UserStore persists login identities and their refresh tokens.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	UserByID(ctx context.Context, id uuid.UUID) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	SetRole(ctx context.Context, id uuid.UUID, role domain.Role) error

	SaveToken(ctx context.Context, t *RefreshToken) error
	TokenByHash(ctx context.Context, hash string) (*RefreshToken, error)
	RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) error
	// RotateToken revokes old and stores next in one step. It fails with
	// ErrTokenNotFound when old was revoked concurrently.
	RotateToken(ctx context.Context, old uuid.UUID, next *RefreshToken, at time.Time) error
}

// MemoryStore keeps users in process; used by tests and STORE=memory.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]User
	tokens map[uuid.UUID]RefreshToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[uuid.UUID]User),
		tokens: make(map[uuid.UUID]RefreshToken),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrEmailTaken
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	for tid, t := range m.tokens {
		if t.UserID == id {
			delete(m.tokens, tid)
		}
	}
	return nil
}

func (m *MemoryStore) UserByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryStore) UserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryStore) ListUsers(context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Email) < strings.ToLower(out[j].Email) })
	return out, nil
}

func (m *MemoryStore) SetRole(_ context.Context, id uuid.UUID, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Role = role
	m.users[id] = u
	return nil
}

func (m *MemoryStore) SaveToken(_ context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.ID] = *t
	return nil
}

func (m *MemoryStore) TokenByHash(_ context.Context, hash string) (*RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			return &t, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *MemoryStore) RevokeToken(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
		m.tokens[id] = t
	}
	return nil
}

func (m *MemoryStore) RotateToken(_ context.Context, old uuid.UUID, next *RefreshToken, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[old]
	if !ok || t.RevokedAt != nil {
		return ErrTokenNotFound
	}
	replaced := next.ID.String()
	t.RevokedAt, t.ReplacedBy = &at, &replaced
	m.tokens[old] = t
	m.tokens[next.ID] = *next
	return nil
}

var _ UserStore = (*MemoryStore)(nil)
