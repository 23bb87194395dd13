// Package database provides SQLite connectivity for the Pi relay.
//
// The relay keeps its operational state in memory. SQLite holds only
// derived, disposable data such as the geolocation lookup cache, so losing
// the file costs a few external lookups and nothing else.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Versioned schema migrations read from any fs.FS
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql. Matching
// .down.sql files may sit alongside for manual rollback; Migrate skips them.
package database
