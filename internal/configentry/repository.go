package configentry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for config entry persistence.
type Repository interface {
	// GetByID retrieves an entry by id.
	// Returns ErrEntryNotFound if the entry does not exist.
	GetByID(ctx context.Context, id string) (*Entry, error)

	// GetByUniqueID retrieves an entry by its (domain, unique_id) pair.
	// Returns ErrEntryNotFound if no such entry exists.
	GetByUniqueID(ctx context.Context, domain, uniqueID string) (*Entry, error)

	// List retrieves all entries ordered by domain then title.
	List(ctx context.Context) ([]Entry, error)

	// ListByDomain retrieves all entries for one integration domain.
	ListByDomain(ctx context.Context, domain string) ([]Entry, error)

	// Create inserts a new entry.
	// Returns ErrEntryExists on a (domain, unique_id) collision.
	Create(ctx context.Context, e *Entry) error

	// Update modifies an existing entry.
	// Returns ErrEntryNotFound if the entry does not exist.
	Update(ctx context.Context, e *Entry) error

	// Delete removes an entry by id.
	// Returns ErrEntryNotFound if the entry does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState writes only the lifecycle state columns.
	UpdateState(ctx context.Context, id string, state State, reason *string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `id, domain, title, version, unique_id, data,
		state, state_reason, disabled, created_at, updated_at`

// GetByID retrieves an entry by id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM config_entries WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry by id: %w", err)
	}
	return e, nil
}

// GetByUniqueID retrieves an entry by its (domain, unique_id) pair.
func (r *SQLiteRepository) GetByUniqueID(ctx context.Context, domain, uniqueID string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM config_entries WHERE domain = ? AND unique_id = ?`

	row := r.db.QueryRowContext(ctx, query, domain, uniqueID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry by unique id: %w", err)
	}
	return e, nil
}

// List retrieves all entries ordered by domain then title.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM config_entries ORDER BY domain, title`
	return r.queryEntries(ctx, query)
}

// ListByDomain retrieves all entries for one integration domain.
func (r *SQLiteRepository) ListByDomain(ctx context.Context, domain string) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM config_entries WHERE domain = ? ORDER BY title`
	return r.queryEntries(ctx, query, domain)
}

// Create inserts a new entry.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	dataJSON, err := marshalData(e.Data)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.State == "" {
		e.State = StateNotLoaded
	}

	query := `
		INSERT INTO config_entries (
			id, domain, title, version, unique_id, data,
			state, state_reason, disabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		e.ID,
		e.Domain,
		e.Title,
		e.Version,
		nullableString(e.UniqueID),
		dataJSON,
		string(e.State),
		nullableString(e.StateReason),
		boolToInt(e.Disabled),
		e.CreatedAt.Format(time.RFC3339),
		e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEntryExists
		}
		return fmt.Errorf("inserting entry: %w", err)
	}

	return nil
}

// Update modifies an existing entry.
func (r *SQLiteRepository) Update(ctx context.Context, e *Entry) error {
	dataJSON, err := marshalData(e.Data)
	if err != nil {
		return err
	}

	e.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE config_entries SET
			title = ?, version = ?, unique_id = ?, data = ?,
			state = ?, state_reason = ?, disabled = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		e.Title,
		e.Version,
		nullableString(e.UniqueID),
		dataJSON,
		string(e.State),
		nullableString(e.StateReason),
		boolToInt(e.Disabled),
		e.UpdatedAt.Format(time.RFC3339),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// Delete removes an entry by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM config_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// UpdateState writes only the lifecycle state columns.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State, reason *string) error {
	now := time.Now().UTC()
	query := `
		UPDATE config_entries
		SET state = ?, state_reason = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(state),
		nullableString(reason),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating entry state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// queryEntries executes a query and returns a slice of entries.
func (r *SQLiteRepository) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	return entries, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry scans a row or rows result into an Entry.
func scanEntry(scanner rowScanner) (*Entry, error) {
	var e Entry
	var uniqueID, stateReason sql.NullString
	var dataJSON, state string
	var disabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&e.ID,
		&e.Domain,
		&e.Title,
		&e.Version,
		&uniqueID,
		&dataJSON,
		&state,
		&stateReason,
		&disabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.State = State(state)
	e.Disabled = disabled != 0
	if uniqueID.Valid {
		e.UniqueID = &uniqueID.String
	}
	if stateReason.Valid {
		e.StateReason = &stateReason.String
	}

	var parseErr error
	e.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	e.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
		return nil, fmt.Errorf("unmarshalling entry data: %w", err)
	}

	return &e, nil
}

// marshalData encodes the entry data payload as JSON, defaulting to "{}".
func marshalData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshalling entry data: %w", err)
	}
	return string(b), nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
