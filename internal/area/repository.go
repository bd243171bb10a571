package area

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository defines the persistence operations for areas.
type Repository interface {
	Create(ctx context.Context, a *Area) error
	List(ctx context.Context) ([]Area, error)
	GetByID(ctx context.Context, id string) (*Area, error)
	GetBySlug(ctx context.Context, slug string) (*Area, error)
	Update(ctx context.Context, a *Area) error
	Delete(ctx context.Context, id string) error

	// EntityCount returns how many entities are assigned to the area.
	EntityCount(ctx context.Context, id string) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed area repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new area.
func (r *SQLiteRepository) Create(ctx context.Context, a *Area) error {
	const query = `INSERT INTO areas (id, name, slug, floor, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Slug, nullStr(a.Floor), now, now)
	if err != nil {
		return fmt.Errorf("inserting area %s: %w", a.ID, err)
	}
	return nil
}

// List returns all areas ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Area, error) {
	const query = `SELECT id, name, slug, floor, created_at, updated_at
		FROM areas ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying areas: %w", err)
	}
	defer rows.Close()

	var areas []Area
	for rows.Next() {
		a, err := scanAreaRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning area row: %w", err)
		}
		areas = append(areas, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating area rows: %w", err)
	}
	return areas, nil
}

// GetByID returns a single area.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Area, error) {
	const query = `SELECT id, name, slug, floor, created_at, updated_at
		FROM areas WHERE id = ?`
	return scanArea(r.db.QueryRowContext(ctx, query, id))
}

// GetBySlug returns a single area by its slug.
func (r *SQLiteRepository) GetBySlug(ctx context.Context, slug string) (*Area, error) {
	const query = `SELECT id, name, slug, floor, created_at, updated_at
		FROM areas WHERE slug = ?`
	return scanArea(r.db.QueryRowContext(ctx, query, slug))
}

// Update rewrites the mutable fields of an area.
func (r *SQLiteRepository) Update(ctx context.Context, a *Area) error {
	const query = `UPDATE areas SET name = ?, floor = ?, updated_at = ?
		WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query,
		a.Name, nullStr(a.Floor), time.Now().UTC().Format(time.RFC3339), a.ID)
	if err != nil {
		return fmt.Errorf("updating area %s: %w", a.ID, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	if n == 0 {
		return ErrAreaNotFound
	}
	return nil
}

// Delete removes an area by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM areas WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting area %s: %w", id, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	if n == 0 {
		return ErrAreaNotFound
	}
	return nil
}

// EntityCount returns how many entities reference the area.
func (r *SQLiteRepository) EntityCount(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE area_id = ?", id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting entities for area %s: %w", id, err)
	}
	return count, nil
}

func scanArea(row *sql.Row) (*Area, error) {
	var a Area
	var floor sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&a.ID, &a.Name, &a.Slug, &floor, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAreaNotFound
		}
		return nil, fmt.Errorf("scanning area: %w", err)
	}
	if floor.Valid {
		a.Floor = &floor.String
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func scanAreaRow(rows *sql.Rows) (*Area, error) {
	var a Area
	var floor sql.NullString
	var createdAt, updatedAt string

	if err := rows.Scan(&a.ID, &a.Name, &a.Slug, &floor, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if floor.Valid {
		a.Floor = &floor.String
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// nullStr converts a *string to sql.NullString for nullable columns.
func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// parseTime parses an RFC3339 timestamp from SQLite.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
