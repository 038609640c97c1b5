package membership

import (
	"context"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
)

// Service manages login identities, their tokens and roles.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req LoginRequest) (*AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error)
	Revoke(ctx context.Context, refreshToken string) error
	// Authenticate turns a bearer access token into the calling actor.
	Authenticate(ctx context.Context, accessToken string) (domain.Actor, error)

	// CreateUser provisions an account with any role. It is meant for the
	// command line and the seeder and performs no authorisation.
	CreateUser(ctx context.Context, req RegisterRequest, role domain.Role) (*UserDTO, error)

	ListUsers(ctx context.Context, actor domain.Actor) ([]UserDTO, error)
	GetUser(ctx context.Context, actor domain.Actor, id uuid.UUID) (*UserDTO, error)
	AssignRole(ctx context.Context, actor domain.Actor, id uuid.UUID, role string) (*UserDTO, error)
}
