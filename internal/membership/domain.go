package membership

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"shelfwise/internal/domain"
)

// User is a login identity. Patrons additionally own a domain.Patron
// profile linked through UserID.
type User struct {
	ID           uuid.UUID   `db:"id"`
	Email        string      `db:"email"`
	PasswordHash string      `db:"password_hash"`
	PasswordSalt string      `db:"password_salt"`
	FirstName    string      `db:"first_name"`
	LastName     string      `db:"last_name"`
	Role         domain.Role `db:"role"`
	CreatedAt    time.Time   `db:"created_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// RefreshToken is stored by hash only; the raw value leaves the process once.
type RefreshToken struct {
	ID         uuid.UUID  `db:"id"`
	UserID     uuid.UUID  `db:"user_id"`
	TokenHash  string     `db:"token_hash"`
	ExpiresAt  time.Time  `db:"expires_at"`
	CreatedAt  time.Time  `db:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
	ReplacedBy *string    `db:"replaced_by"`
}

func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

type AuthResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	UserID       uuid.UUID   `json:"userId"`
	Email        string      `json:"email"`
	Role         domain.Role `json:"role"`
	FullName     string      `json:"fullName"`
}

type UserDTO struct {
	ID        uuid.UUID   `json:"id"`
	Email     string      `json:"email"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Role      domain.Role `json:"role"`
	CreatedAt time.Time   `json:"createdAt"`
}

func toUserDTO(u *User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=128,password"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenRequest carries a refresh token for refresh and revoke.
type TokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type AssignRoleRequest struct {
	Role string `json:"role" validate:"required"`
}
