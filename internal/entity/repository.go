package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for entity persistence operations.
// The abstraction keeps the registry testable without a database.
type Repository interface {
	// GetByID retrieves an entity by its id.
	// Returns ErrEntityNotFound if the entity does not exist.
	GetByID(ctx context.Context, id string) (*Entity, error)

	// List retrieves all entities ordered by id.
	List(ctx context.Context) ([]Entity, error)

	// ListByDomain retrieves all entities in a domain.
	ListByDomain(ctx context.Context, domain Domain) ([]Entity, error)

	// ListByPlatform retrieves all entities owned by an integration.
	ListByPlatform(ctx context.Context, platform string) ([]Entity, error)

	// ListByEntry retrieves all entities attached to a config entry.
	ListByEntry(ctx context.Context, entryID string) ([]Entity, error)

	// ListByArea retrieves all entities in an area.
	ListByArea(ctx context.Context, areaID string) ([]Entity, error)

	// Create inserts a new entity.
	// Returns ErrEntityExists if the id is already taken.
	Create(ctx context.Context, e *Entity) error

	// Update modifies an existing entity's metadata and state.
	// Returns ErrEntityNotFound if the entity does not exist.
	Update(ctx context.Context, e *Entity) error

	// Delete removes an entity by id.
	// Returns ErrEntityNotFound if the entity does not exist.
	Delete(ctx context.Context, id string) error

	// DeleteByEntry removes every entity attached to a config entry
	// and returns the removed ids.
	DeleteByEntry(ctx context.Context, entryID string) ([]string, error)

	// UpdateState writes only the state columns of an entity.
	// Optimised for the frequent writes coming from integrations.
	UpdateState(ctx context.Context, id string, state State) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entityColumns = `id, name, domain, platform, config_entry_id, area_id,
		icon, device_class, unit, manufacturer, model, sw_version,
		disabled, state, attributes, state_updated_at, state_changed_at,
		created_at, updated_at`

// GetByID retrieves an entity by its id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity by id: %w", err)
	}
	return e, nil
}

// List retrieves all entities ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities ORDER BY id`
	return r.queryEntities(ctx, query)
}

// ListByDomain retrieves all entities in a domain.
func (r *SQLiteRepository) ListByDomain(ctx context.Context, domain Domain) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE domain = ? ORDER BY id`
	return r.queryEntities(ctx, query, string(domain))
}

// ListByPlatform retrieves all entities owned by an integration.
func (r *SQLiteRepository) ListByPlatform(ctx context.Context, platform string) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE platform = ? ORDER BY id`
	return r.queryEntities(ctx, query, platform)
}

// ListByEntry retrieves all entities attached to a config entry.
func (r *SQLiteRepository) ListByEntry(ctx context.Context, entryID string) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE config_entry_id = ? ORDER BY id`
	return r.queryEntities(ctx, query, entryID)
}

// ListByArea retrieves all entities in an area.
func (r *SQLiteRepository) ListByArea(ctx context.Context, areaID string) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE area_id = ? ORDER BY id`
	return r.queryEntities(ctx, query, areaID)
}

// Create inserts a new entity.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entity) error {
	attrsJSON, err := marshalAttributes(e.State.Attributes)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO entities (
			id, name, domain, platform, config_entry_id, area_id,
			icon, device_class, unit, manufacturer, model, sw_version,
			disabled, state, attributes, state_updated_at, state_changed_at,
			created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?
		)`

	_, err = r.db.ExecContext(ctx, query,
		e.ID,
		e.Name,
		string(e.Domain),
		e.Platform,
		nullableString(e.ConfigEntryID),
		nullableString(e.AreaID),
		nullableString(e.Icon),
		nullableString(e.DeviceClass),
		nullableString(e.Unit),
		nullableString(e.Manufacturer),
		nullableString(e.Model),
		nullableString(e.SWVersion),
		boolToInt(e.Disabled),
		e.State.Value,
		attrsJSON,
		nullableTime(timePtr(e.State.UpdatedAt)),
		nullableTime(timePtr(e.State.ChangedAt)),
		e.CreatedAt.Format(time.RFC3339),
		e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEntityExists
		}
		return fmt.Errorf("inserting entity: %w", err)
	}

	return nil
}

// Update modifies an existing entity's metadata and state.
func (r *SQLiteRepository) Update(ctx context.Context, e *Entity) error {
	attrsJSON, err := marshalAttributes(e.State.Attributes)
	if err != nil {
		return err
	}

	e.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE entities SET
			name = ?, platform = ?, config_entry_id = ?, area_id = ?,
			icon = ?, device_class = ?, unit = ?,
			manufacturer = ?, model = ?, sw_version = ?,
			disabled = ?, state = ?, attributes = ?,
			state_updated_at = ?, state_changed_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		e.Name,
		e.Platform,
		nullableString(e.ConfigEntryID),
		nullableString(e.AreaID),
		nullableString(e.Icon),
		nullableString(e.DeviceClass),
		nullableString(e.Unit),
		nullableString(e.Manufacturer),
		nullableString(e.Model),
		nullableString(e.SWVersion),
		boolToInt(e.Disabled),
		e.State.Value,
		attrsJSON,
		nullableTime(timePtr(e.State.UpdatedAt)),
		nullableTime(timePtr(e.State.ChangedAt)),
		e.UpdatedAt.Format(time.RFC3339),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntityNotFound
	}

	return nil
}

// Delete removes an entity by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntityNotFound
	}

	return nil
}

// DeleteByEntry removes every entity attached to a config entry.
func (r *SQLiteRepository) DeleteByEntry(ctx context.Context, entryID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM entities WHERE config_entry_id = ?", entryID)
	if err != nil {
		return nil, fmt.Errorf("querying entry entities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity ids: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM entities WHERE config_entry_id = ?", entryID); err != nil {
		return nil, fmt.Errorf("deleting entry entities: %w", err)
	}

	return ids, nil
}

// UpdateState writes only the state columns of an entity.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State) error {
	attrsJSON, err := marshalAttributes(state.Attributes)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		UPDATE entities
		SET state = ?, attributes = ?,
		    state_updated_at = ?, state_changed_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		state.Value,
		attrsJSON,
		nullableTime(timePtr(state.UpdatedAt)),
		nullableTime(timePtr(state.ChangedAt)),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating entity state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntityNotFound
	}

	return nil
}

// queryEntities executes a query and returns a slice of entities.
func (r *SQLiteRepository) queryEntities(ctx context.Context, query string, args ...any) ([]Entity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entities = append(entities, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}

	return entities, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntity scans a row or rows result into an Entity.
func scanEntity(scanner rowScanner) (*Entity, error) {
	var e Entity
	var domain string
	var configEntryID, areaID sql.NullString
	var icon, deviceClass, unit sql.NullString
	var manufacturer, model, swVersion sql.NullString
	var disabled int
	var attrsJSON string
	var stateUpdatedAt, stateChangedAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&e.ID,
		&e.Name,
		&domain,
		&e.Platform,
		&configEntryID,
		&areaID,
		&icon,
		&deviceClass,
		&unit,
		&manufacturer,
		&model,
		&swVersion,
		&disabled,
		&e.State.Value,
		&attrsJSON,
		&stateUpdatedAt,
		&stateChangedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Domain = Domain(domain)
	e.Disabled = disabled != 0

	if configEntryID.Valid {
		e.ConfigEntryID = &configEntryID.String
	}
	if areaID.Valid {
		e.AreaID = &areaID.String
	}
	if icon.Valid {
		e.Icon = &icon.String
	}
	if deviceClass.Valid {
		e.DeviceClass = &deviceClass.String
	}
	if unit.Valid {
		e.Unit = &unit.String
	}
	if manufacturer.Valid {
		e.Manufacturer = &manufacturer.String
	}
	if model.Valid {
		e.Model = &model.String
	}
	if swVersion.Valid {
		e.SWVersion = &swVersion.String
	}

	if stateUpdatedAt.Valid {
		if t, err := time.Parse(time.RFC3339, stateUpdatedAt.String); err == nil {
			e.State.UpdatedAt = t
		}
	}
	if stateChangedAt.Valid {
		if t, err := time.Parse(time.RFC3339, stateChangedAt.String); err == nil {
			e.State.ChangedAt = t
		}
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

	if attrsJSON != "" && attrsJSON != "{}" {
		if err := json.Unmarshal([]byte(attrsJSON), &e.State.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshalling attributes: %w", err)
		}
	}

	return &e, nil
}

// marshalAttributes encodes an attribute map as JSON, defaulting to "{}".
func marshalAttributes(a Attributes) (string, error) {
	if a == nil {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshalling attributes: %w", err)
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

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// timePtr returns nil for the zero time, otherwise a pointer to t.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
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
