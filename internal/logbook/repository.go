package logbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entry kinds.
const (
	KindServiceCall   = "service_call"
	KindEntrySetup    = "entry_setup"
	KindEntryUnloaded = "entry_unloaded"
)

// Pagination bounds.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one logbook record.
type Entry struct {
	ID         int64          `json:"id"`
	Kind       string         `json:"kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Domain     string         `json:"domain,omitempty"`
	Name       string         `json:"name"`
	Detail     map[string]any `json:"detail,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Kind     string    // optional: filter by entry kind
	EntityID string    // optional: filter by entity
	Start    time.Time // optional: entries at or after this instant
	End      time.Time // optional: entries before this instant
	Limit    int       // default 50, max 200
	Offset   int       // pagination offset
}

// ListResult contains paginated logbook entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the persistence operations for logbook entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed logbook repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. RecordedAt defaults to now; the row id is
// written back into the entry.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	detail := "{}"
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshalling logbook detail: %w", err)
		}
		detail = string(b)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO logbook (kind, entity_id, domain, name, detail, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Kind, nullableString(e.EntityID), nullableString(e.Domain),
		e.Name, detail, e.RecordedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting logbook entry: %w", err)
	}
	e.ID, _ = result.LastInsertId() //nolint:errcheck // SQLite always supports LastInsertId
	return nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if !filter.Start.IsZero() {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, filter.Start.UTC().Format(time.RFC3339))
	}
	if !filter.End.IsZero() {
		conditions = append(conditions, "recorded_at < ?")
		args = append(args, filter.End.UTC().Format(time.RFC3339))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM logbook %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting logbook entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, kind, entity_id, domain, name, detail, recorded_at
		 FROM logbook %s ORDER BY recorded_at DESC, id DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying logbook: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var entityID, domain sql.NullString
		var detail, recordedAt string

		if err := rows.Scan(&e.ID, &e.Kind, &entityID, &domain, &e.Name, &detail, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning logbook entry: %w", err)
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if domain.Valid {
			e.Domain = domain.String
		}
		if detail != "" && detail != "{}" {
			var m map[string]any
			if json.Unmarshal([]byte(detail), &m) == nil {
				e.Detail = m
			}
		}
		t, err := time.Parse(time.RFC3339, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing logbook timestamp %q: %w", recordedAt, err)
		}
		e.RecordedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating logbook entries: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Purge deletes entries recorded before the cutoff. Returns the number
// of rows removed.
func (r *SQLiteRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM logbook WHERE recorded_at < ?",
		before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purging logbook: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	return n, nil
}

// nullableString returns nil for empty strings. Used for nullable TEXT
// columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
