// Package token signs and verifies the short-lived access tokens. Tokens are
// self-contained HS256 JWTs; nothing is persisted and logout never touches
// an outstanding access token — the short TTL is the only mitigation.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/authcore/backend/internal/model"
)

var (
	ErrMissingSecret = errors.New("access token secret is required")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

type claims struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Codec holds the signing secret for the process. The secret is injected at
// construction time and immutable afterwards.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Codec{secret: []byte(secret), ttl: ttl}, nil
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

func (c *Codec) Issue(user *model.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(c.ttl)
	cl := claims{
		Role:  string(user.Role),
		Name:  user.Name,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify collapses every structural, signature, and expiry failure into the
// single ErrInvalidToken outcome.
func (c *Codec) Verify(tokenStr string) (*model.AuthUser, error) {
	cl := &claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, cl, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(cl.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &model.AuthUser{
		ID:    userID,
		Name:  cl.Name,
		Email: cl.Email,
		Role:  model.Role(cl.Role),
	}, nil
}
