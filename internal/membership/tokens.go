package membership

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"shelfwise/internal/domain"
)

const minSecretLen = 32

var ErrWeakSecret = errors.New("jwt secret must be at least 32 bytes")

type TokenConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Tokens issues HS256 access tokens and opaque refresh tokens.
type Tokens struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type accessClaims struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
	jwt.RegisteredClaims
}

func NewTokens(cfg TokenConfig, now func() time.Time) (*Tokens, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	if now == nil {
		now = time.Now
	}
	t := &Tokens{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        now,
	}
	if t.accessTTL <= 0 {
		t.accessTTL = 15 * time.Minute
	}
	if t.refreshTTL <= 0 {
		t.refreshTTL = 7 * 24 * time.Hour
	}
	return t, nil
}

// Access signs a short-lived token for u and reports when it expires.
func (t *Tokens) Access(u *User) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.accessTTL)
	c := accessClaims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{t.audience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates signature, issuer, audience and expiry.
func (t *Tokens) Parse(raw string) (domain.Actor, error) {
	var c accessClaims
	_, err := jwt.ParseWithClaims(raw, &c,
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return domain.Anonymous, fmt.Errorf("parse access token: %w", err)
	}
	if _, err := uuid.Parse(c.Subject); err != nil {
		return domain.Anonymous, fmt.Errorf("parse access token subject: %w", err)
	}
	return domain.Actor{UserID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

// Refresh mints a new opaque refresh token for userID. The raw value is
// returned to the caller; only its hash is kept.
func (t *Tokens) Refresh(userID uuid.UUID) (string, *RefreshToken, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}
	raw := base64.StdEncoding.EncodeToString(buf)
	now := t.now()
	return raw, &RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hashToken(raw),
		ExpiresAt: now.Add(t.refreshTTL),
		CreatedAt: now,
	}, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.StdEncoding.EncodeToString(sum[:])
}
