package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// APIToken is the stored record of a long-lived machine token.
// TokenHash is a bcrypt hash; the raw secret is never persisted.
type APIToken struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// TokenRepository defines persistence operations for API tokens.
type TokenRepository interface {
	Create(ctx context.Context, token *APIToken) error
	GetByID(ctx context.Context, id string) (*APIToken, error)
	List(ctx context.Context) ([]APIToken, error)
	Revoke(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewSQLiteTokenRepository creates a SQLite-backed token repository.
func NewSQLiteTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// Create inserts a token record.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *APIToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_tokens (id, name, token_hash, created_at, revoked)
		 VALUES (?, ?, ?, ?, ?)`,
		token.ID, token.Name, token.TokenHash,
		token.CreatedAt.Format(time.RFC3339), token.Revoked)
	if err != nil {
		return fmt.Errorf("inserting api token %s: %w", token.ID, err)
	}
	return nil
}

// GetByID returns a single token record.
func (r *SQLiteTokenRepository) GetByID(ctx context.Context, id string) (*APIToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, token_hash, created_at, last_used_at, revoked
		 FROM api_tokens WHERE id = ?`, id)
	return scanToken(row)
}

// List returns all token records, newest first.
func (r *SQLiteTokenRepository) List(ctx context.Context) ([]APIToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, token_hash, created_at, last_used_at, revoked
		 FROM api_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying api tokens: %w", err)
	}
	defer rows.Close()

	var tokens []APIToken
	for rows.Next() {
		var t APIToken
		var lastUsed sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.TokenHash, &createdAt, &lastUsed, &t.Revoked); err != nil {
			return nil, fmt.Errorf("scanning api token row: %w", err)
		}
		t.CreatedAt = parseTime(createdAt)
		if lastUsed.Valid {
			at := parseTime(lastUsed.String)
			t.LastUsedAt = &at
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Revoke marks a token revoked. Revocation is permanent.
func (r *SQLiteTokenRepository) Revoke(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE api_tokens SET revoked = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("revoking api token %s: %w", id, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// TouchLastUsed records when the token last authenticated a request.
func (r *SQLiteTokenRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE api_tokens SET last_used_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching api token %s: %w", id, err)
	}
	return nil
}

func scanToken(row *sql.Row) (*APIToken, error) {
	var t APIToken
	var lastUsed sql.NullString
	var createdAt string

	err := row.Scan(&t.ID, &t.Name, &t.TokenHash, &createdAt, &lastUsed, &t.Revoked)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("scanning api token: %w", err)
	}
	t.CreatedAt = parseTime(createdAt)
	if lastUsed.Valid {
		at := parseTime(lastUsed.String)
		t.LastUsedAt = &at
	}
	return &t, nil
}

// parseTime parses an RFC3339 timestamp from SQLite.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
