package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrConfigNotFound is returned when no config is stored for a moniker.
var ErrConfigNotFound = errors.New("driver: config not found")

// ConfigRepository persists instance configurations.
type ConfigRepository interface {
	Get(ctx context.Context, moniker string) (Config, error)
	List(ctx context.Context) ([]Config, error)
	Save(ctx context.Context, cfg Config) error
	Delete(ctx context.Context, moniker string) error
}

// SQLiteConfigRepository stores each config as a CBOR blob in the
// driver_configs table.
type SQLiteConfigRepository struct {
	db *sql.DB
}

// NewSQLiteConfigRepository creates a repository on a migrated database.
func NewSQLiteConfigRepository(db *sql.DB) *SQLiteConfigRepository {
	return &SQLiteConfigRepository{db: db}
}

// Get loads one config. Blobs written by a newer build fail with
// ErrUnsupportedVersion.
func (r *SQLiteConfigRepository) Get(ctx context.Context, moniker string) (Config, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT blob FROM driver_configs WHERE moniker = ?", moniker,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, moniker)
	}
	if err != nil {
		return Config{}, fmt.Errorf("querying config %s: %w", moniker, err)
	}
	return DecodeConfigCBOR(blob)
}

// List loads every stored config ordered by moniker. Unreadable rows are
// reported together after the readable ones are returned.
func (r *SQLiteConfigRepository) List(ctx context.Context) ([]Config, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT moniker, blob FROM driver_configs ORDER BY moniker")
	if err != nil {
		return nil, fmt.Errorf("querying configs: %w", err)
	}
	defer rows.Close()

	var (
		out  []Config
		errs []error
	)
	for rows.Next() {
		var moniker string
		var blob []byte
		if err := rows.Scan(&moniker, &blob); err != nil {
			return nil, fmt.Errorf("scanning config: %w", err)
		}
		cfg, err := DecodeConfigCBOR(blob)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", moniker, err))
			continue
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating configs: %w", err)
	}
	return out, errors.Join(errs...)
}

// Save inserts or replaces the config of cfg.Moniker.
func (r *SQLiteConfigRepository) Save(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	blob, err := EncodeConfigCBOR(cfg)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO driver_configs (moniker, kind, version, blob, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(moniker) DO UPDATE SET
		   kind = excluded.kind, version = excluded.version,
		   blob = excluded.blob, updated_at = excluded.updated_at`,
		cfg.Moniker, cfg.Kind, cfg.Version, blob, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving config %s: %w", cfg.Moniker, err)
	}
	return nil
}

// Delete removes a stored config.
func (r *SQLiteConfigRepository) Delete(ctx context.Context, moniker string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM driver_configs WHERE moniker = ?", moniker)
	if err != nil {
		return fmt.Errorf("deleting config %s: %w", moniker, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrConfigNotFound, moniker)
	}
	return nil
}
