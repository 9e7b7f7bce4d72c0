package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/authcore/backend/internal/db"
	"github.com/authcore/backend/internal/model"
)

var (
	// ErrTokenInvalid is the single outcome Verify reports for a missing,
	// revoked, or expired token. Callers cannot tell the cases apart.
	ErrTokenInvalid = errors.New("refresh token invalid")

	// Rotate reports distinct causes so the boundary can decide how hard
	// to react. Reuse of a revoked token indicates replay of a rotated
	// secret rather than ordinary staleness.
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenReuse    = errors.New("refresh token already used")
	ErrTokenExpired  = errors.New("refresh token expired")
)

// RefreshTokenStore is the persistence surface the manager needs. The
// Postgres implementation lives in internal/db; tests use in-memory fakes.
type RefreshTokenStore interface {
	InsertRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldTokenID uuid.UUID, userID uuid.UUID, newTokenHash string, newExpiresAt time.Time) error
	DeleteRefreshTokenByHash(ctx context.Context, tokenHash string) error
	DeleteRefreshTokensByUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)
}

// RefreshManager owns the refresh-token lifecycle: opaque high-entropy
// secrets handed to the client exactly once, SHA-256 digests at rest,
// rotation on every successful use.
type RefreshManager struct {
	store RefreshTokenStore
	ttl   time.Duration
}

func NewRefreshManager(store RefreshTokenStore, ttl time.Duration) *RefreshManager {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RefreshManager{store: store, ttl: ttl}
}

func (m *RefreshManager) TTL() time.Duration {
	return m.ttl
}

// Issue generates a fresh secret, persists its digest, and returns the raw
// secret. The raw value is never stored.
func (m *RefreshManager) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	raw, hash, err := newRefreshSecret()
	if err != nil {
		return "", err
	}
	if err := m.store.InsertRefreshToken(ctx, userID, hash, time.Now().Add(m.ttl)); err != nil {
		return "", err
	}
	return raw, nil
}

// Verify looks the presented secret up by digest. Missing, revoked, and
// expired records are indistinguishable to the caller.
func (m *RefreshManager) Verify(ctx context.Context, raw string) (*model.RefreshToken, error) {
	record, err := m.store.GetRefreshTokenByHash(ctx, hashRefreshSecret(raw))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !record.Active(time.Now()) {
		return nil, ErrTokenInvalid
	}
	return record, nil
}

// Rotate revokes the presented record and issues its successor as one
// atomic step. A concurrent rotation of the same record leaves exactly one
// winner; the loser observes the record as already used.
func (m *RefreshManager) Rotate(ctx context.Context, userID uuid.UUID, oldRaw string) (string, error) {
	record, err := m.store.GetRefreshTokenByHash(ctx, hashRefreshSecret(oldRaw))
	if err != nil {
		if db.IsNoRows(err) {
			return "", ErrTokenNotFound
		}
		return "", err
	}
	if record.UserID != userID {
		return "", ErrTokenNotFound
	}
	if record.RevokedAt != nil {
		return "", ErrTokenReuse
	}
	if !time.Now().Before(record.ExpiresAt) {
		return "", ErrTokenExpired
	}

	newRaw, newHash, err := newRefreshSecret()
	if err != nil {
		return "", err
	}
	if err := m.store.RotateRefreshToken(ctx, record.ID, userID, newHash, time.Now().Add(m.ttl)); err != nil {
		if errors.Is(err, db.ErrTokenRotated) {
			return "", ErrTokenReuse
		}
		return "", err
	}
	return newRaw, nil
}

// Revoke deletes the matching record. Revoking an unknown or already
// deleted secret is not an error.
func (m *RefreshManager) Revoke(ctx context.Context, raw string) error {
	return m.store.DeleteRefreshTokenByHash(ctx, hashRefreshSecret(raw))
}

// RevokeAll removes every record for the user (logout-everywhere).
func (m *RefreshManager) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return m.store.DeleteRefreshTokensByUser(ctx, userID)
}

// SweepExpired physically removes expired records. Lookups already reject
// them, so the sweep only reclaims storage.
func (m *RefreshManager) SweepExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredRefreshTokens(ctx)
}

func newRefreshSecret() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	return secret, hashRefreshSecret(secret), nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
