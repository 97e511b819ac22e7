package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the fetch queue table if it
// doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// A single connection serializes writers; SQLite allows only one at a time anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS fetch_requests (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		urls TEXT NOT NULL DEFAULT '[]',
		info_hash TEXT NOT NULL DEFAULT '',
		torrent BLOB,
		fields TEXT NOT NULL DEFAULT '{}',
		overrides TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		gid TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		locked_by TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("creating fetch_requests table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS fetch_requests_status ON fetch_requests (status, created_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("creating fetch_requests index: %w", err)
	}

	return db, nil
}
