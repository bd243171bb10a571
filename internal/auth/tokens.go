package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Raw API tokens look like "hearth_<id>.<secret>": the id locates the
// stored hash, the secret is compared against it.
const (
	tokenPrefix    = "hearth_"
	tokenSecretLen = 32 // 256-bit secret
)

// Manager issues and verifies API tokens.
//
// Thread Safety: safe for concurrent use; all state lives in the
// repository.
type Manager struct {
	repo TokenRepository
}

// NewManager creates a token manager.
func NewManager(repo TokenRepository) *Manager {
	return &Manager{repo: repo}
}

// CreateToken mints a new API token. The returned raw string is the
// only time the secret is available; store it or lose it.
func (m *Manager) CreateToken(ctx context.Context, name string) (raw string, token *APIToken, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("%w: name is required", ErrTokenInvalid)
	}

	secretBytes := make([]byte, tokenSecretLen)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generating token secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing token secret: %w", err)
	}

	token = &APIToken{
		ID:        uuid.NewString(),
		Name:      name,
		TokenHash: string(hash),
	}
	if err := m.repo.Create(ctx, token); err != nil {
		return "", nil, err
	}
	return tokenPrefix + token.ID + "." + secret, token, nil
}

// VerifyToken checks a raw API token and returns its record.
// The last-used timestamp is updated best-effort on success.
func (m *Manager) VerifyToken(ctx context.Context, raw string) (*APIToken, error) {
	body, ok := strings.CutPrefix(raw, tokenPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing prefix", ErrTokenInvalid)
	}
	id, secret, ok := strings.Cut(body, ".")
	if !ok || id == "" || secret == "" {
		return nil, fmt.Errorf("%w: malformed token", ErrTokenInvalid)
	}

	token, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if token.Revoked {
		return nil, ErrTokenRevoked
	}
	if bcrypt.CompareHashAndPassword([]byte(token.TokenHash), []byte(secret)) != nil {
		return nil, ErrTokenInvalid
	}

	_ = m.repo.TouchLastUsed(ctx, token.ID, time.Now().UTC()) //nolint:errcheck // stats only
	return token, nil
}

// List returns all token records.
func (m *Manager) List(ctx context.Context) ([]APIToken, error) {
	return m.repo.List(ctx)
}

// Revoke permanently disables a token.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	return m.repo.Revoke(ctx, id)
}
