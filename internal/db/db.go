// Package db provides the SQLite connection and schema for imagebatch.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema.
// Transactions start with BEGIN IMMEDIATE so concurrent writers (goroutines or
// processes) serialise instead of failing on lock upgrade.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Open batches - one row per session with an open batch
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS batches (
			session_key TEXT PRIMARY KEY,
			first_arrival INTEGER NOT NULL,
			last_arrival INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create batches table: %w", err)
	}

	// Items of open batches; item_id is unique for the lifetime of the store
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS batch_items (
			item_id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			url TEXT NOT NULL,
			caption TEXT,
			sender_id TEXT,
			arrived_at INTEGER NOT NULL,
			binary_ref TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_batch_items_session ON batch_items(session_key);
	`)
	if err != nil {
		return fmt.Errorf("failed to create batch_items table: %w", err)
	}

	// Event ledger - append-only history of drained and failed batches
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS event_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			session_key TEXT,
			item_count INTEGER NOT NULL DEFAULT 0,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON event_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_session ON event_ledger(session_key, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create event_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
