package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the transfers table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY,
		transfer_id TEXT UNIQUE NOT NULL,
		source TEXT NOT NULL,
		tracking_id TEXT,
		file_path TEXT,
		status TEXT DEFAULT 'pending',
		error TEXT,
		locked_by TEXT,
		created_at DATETIME,
		completed_at DATETIME
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create transfers table: %w", err)
	}

	return db, nil
}
