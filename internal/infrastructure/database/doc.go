// Package database opens the driverd SQLite store and applies its schema
// migrations.
//
// The store holds persisted driver configuration blobs and the trigger log.
// SQLite runs with a single connection so writes never contend; WAL mode is
// enabled by default so API reads do not block the trigger recorder.
//
// Migrations are plain SQL files named YYYYMMDD_HHMMSS_description.up.sql
// with an optional matching .down.sql. They are supplied as an fs.FS, normally
// the one embedded by the migrations package:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//		return err
//	}
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//		return err
//	}
package database
