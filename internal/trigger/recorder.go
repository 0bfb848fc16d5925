package trigger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed width so occurred_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Filter selects logged events. Zero fields match everything.
type Filter struct {
	Moniker string
	Kind    Kind
	Since   time.Time
	Limit   int
}

// SQLiteRecorder appends events to the trigger_log table and lists them.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder creates a recorder on an open, migrated database.
func NewSQLiteRecorder(db *sql.DB) *SQLiteRecorder {
	return &SQLiteRecorder{db: db}
}

// Deliver inserts ev. Missing id and time are filled in.
func (r *SQLiteRecorder) Deliver(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trigger_log (id, kind, moniker, field, value, unit, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Moniker, ev.Field, ev.Value, ev.Unit,
		ev.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting trigger: %w", err)
	}
	return nil
}

// List returns matching events, newest first.
func (r *SQLiteRecorder) List(ctx context.Context, f Filter) ([]Event, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}

	var conds []string
	var args []any
	if f.Moniker != "" {
		conds = append(conds, "moniker = ?")
		args = append(args, f.Moniker)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := "SELECT id, kind, moniker, field, value, unit, occurred_at FROM trigger_log " + //nolint:gosec // placeholders only
		where + " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying triggers: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var kind, at string
		if err := rows.Scan(&ev.ID, &kind, &ev.Moniker, &ev.Field, &ev.Value, &ev.Unit, &at); err != nil {
			return nil, fmt.Errorf("scanning trigger: %w", err)
		}
		ev.Kind = Kind(kind)
		if ev.Time, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parsing trigger time %q: %w", at, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating triggers: %w", err)
	}
	return events, nil
}
