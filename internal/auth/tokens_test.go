package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE api_tokens (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			token_hash   TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			last_used_at TEXT,
			revoked      INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndVerifyToken(t *testing.T) {
	m := NewManager(NewSQLiteTokenRepository(setupTestDB(t)))
	ctx := context.Background()

	raw, token, err := m.CreateToken(ctx, "node-red")
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	if !strings.HasPrefix(raw, "hearth_") {
		t.Errorf("raw token = %q, want hearth_ prefix", raw)
	}
	if strings.Contains(raw, token.TokenHash) {
		t.Error("raw token leaks the stored hash")
	}

	verified, err := m.VerifyToken(ctx, raw)
	if err != nil {
		t.Fatalf("VerifyToken() error: %v", err)
	}
	if verified.ID != token.ID || verified.Name != "node-red" {
		t.Errorf("verified = %+v", verified)
	}

	// Last-used is recorded on successful verification.
	stored, err := m.repo.GetByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if stored.LastUsedAt == nil {
		t.Error("LastUsedAt not recorded")
	}
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	m := NewManager(NewSQLiteTokenRepository(setupTestDB(t)))
	ctx := context.Background()

	_, token, err := m.CreateToken(ctx, "node-red")
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}

	forged := "hearth_" + token.ID + "." + strings.Repeat("0", 64)
	if _, err := m.VerifyToken(ctx, forged); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("VerifyToken(forged) error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyTokenRevoked(t *testing.T) {
	m := NewManager(NewSQLiteTokenRepository(setupTestDB(t)))
	ctx := context.Background()

	raw, token, err := m.CreateToken(ctx, "node-red")
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	if err := m.Revoke(ctx, token.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	if _, err := m.VerifyToken(ctx, raw); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("VerifyToken(revoked) error = %v, want ErrTokenRevoked", err)
	}
}

func TestVerifyTokenMalformed(t *testing.T) {
	m := NewManager(NewSQLiteTokenRepository(setupTestDB(t)))
	ctx := context.Background()

	cases := []string{"", "hearth_", "hearth_no-dot", "wrongprefix_id.secret", "hearth_.secret", "hearth_id."}
	for _, raw := range cases {
		_, err := m.VerifyToken(ctx, raw)
		if !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrTokenNotFound) {
			t.Errorf("VerifyToken(%q) error = %v, want invalid or not found", raw, err)
		}
	}
}

func TestCreateTokenEmptyName(t *testing.T) {
	m := NewManager(NewSQLiteTokenRepository(setupTestDB(t)))

	if _, _, err := m.CreateToken(context.Background(), "  "); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("CreateToken(blank) error = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenRepositoryList(t *testing.T) {
	repo := NewSQLiteTokenRepository(setupTestDB(t))
	m := NewManager(repo)
	ctx := context.Background()

	if _, _, err := m.CreateToken(ctx, "first"); err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	if _, _, err := m.CreateToken(ctx, "second"); err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}

	tokens, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("List() returned %d tokens, want 2", len(tokens))
	}
}
