package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearthd/hearth-core/internal/bus"
)

// HistoryEntry is one recorded state change.
type HistoryEntry struct {
	EntityID   string     `json:"entity_id"`
	State      string     `json:"state"`
	Attributes Attributes `json:"attributes,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Recorder appends state changes to the state_history table and prunes
// rows past the retention window. It subscribes to the event bus and
// records every state_changed event whose value actually changed.
type Recorder struct {
	db        *sql.DB
	retention time.Duration
	logger    Logger
	unsub     func()
}

// NewRecorder creates a state history recorder.
// retention bounds how long rows are kept; Prune enforces it.
func NewRecorder(db *sql.DB, retention time.Duration) *Recorder {
	return &Recorder{
		db:        db,
		retention: retention,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the recorder.
func (rc *Recorder) SetLogger(logger Logger) {
	rc.logger = logger
}

// Start subscribes the recorder to state changes on the bus.
func (rc *Recorder) Start(events *bus.Bus) {
	rc.unsub = events.SubscribeStateChanged(func(ev bus.StateChanged) {
		// Only record value transitions, not attribute refreshes
		if ev.OldState != nil && ev.OldState.Value == ev.NewState.Value {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rc.Record(ctx, ev.EntityID, ev.NewState.Value, ev.NewState.Attributes, ev.NewState.UpdatedAt); err != nil {
			rc.logger.Error("recording state change", "entity_id", ev.EntityID, "error", err)
		}
	})
}

// Stop unsubscribes the recorder from the bus.
func (rc *Recorder) Stop() {
	if rc.unsub != nil {
		rc.unsub()
		rc.unsub = nil
	}
}

// Record appends one state change row.
func (rc *Recorder) Record(ctx context.Context, entityID, state string, attributes map[string]any, at time.Time) error {
	attrsJSON := "{}"
	if attributes != nil {
		b, err := json.Marshal(attributes)
		if err != nil {
			return fmt.Errorf("marshalling attributes: %w", err)
		}
		attrsJSON = string(b)
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := rc.db.ExecContext(ctx, `
		INSERT INTO state_history (entity_id, state, attributes, recorded_at)
		VALUES (?, ?, ?, ?)`,
		entityID, state, attrsJSON, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// Query returns history rows for an entity between start and end,
// oldest first. A zero end means "now".
func (rc *Recorder) Query(ctx context.Context, entityID string, start, end time.Time) ([]HistoryEntry, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}

	rows, err := rc.db.QueryContext(ctx, `
		SELECT entity_id, state, attributes, recorded_at
		FROM state_history
		WHERE entity_id = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at`,
		entityID,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var attrsJSON, recordedAt string
		if err := rows.Scan(&entry.EntityID, &entry.State, &attrsJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if attrsJSON != "" && attrsJSON != "{}" {
			if err := json.Unmarshal([]byte(attrsJSON), &entry.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshalling attributes: %w", err)
			}
		}
		entry.RecordedAt, err = time.Parse(time.RFC3339, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}

	return entries, nil
}

// Prune deletes rows older than the retention window and returns the
// number removed. Intended to run periodically from the main loop.
func (rc *Recorder) Prune(ctx context.Context) (int64, error) {
	if rc.retention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-rc.retention)
	result, err := rc.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE recorded_at < ?",
		cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if removed > 0 {
		rc.logger.Info("state history pruned", "removed", removed)
	}
	return removed, nil
}
