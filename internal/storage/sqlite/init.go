package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFile is used when no journal path is configured explicitly.
const DefaultDBFile = "fetcher.db"

// InitDB opens the SQLite journal at path and creates the transfers table if
// it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultDBFile
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// Results are recorded from concurrent transfers; SQLite allows one writer.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		url TEXT NOT NULL,
		path TEXT,
		staging_path TEXT,
		bytes INTEGER DEFAULT 0,
		attempts INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		kind TEXT,
		error TEXT,
		finished_at TEXT NOT NULL,
		staging_removed INTEGER DEFAULT 0
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("creating transfers table: %w", err)
	}

	return db, nil
}
