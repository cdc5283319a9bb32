// Package database provides SQL connectivity for the reading archive.
//
// Three drivers are supported through database/sql: sqlite3 (the default,
// a local file with WAL mode and a busy timeout), postgres and mysql.
// Queries are written with ? placeholders; DB.Rebind converts them for
// PostgreSQL.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/airsense.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded from the top-level migrations package, named
// YYYYMMDD_HHMMSS_description.up.sql with a matching .down.sql. They must
// stay portable across all three dialects.
package database
