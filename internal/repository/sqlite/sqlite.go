package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New creates and initializes a new SQLite database connection.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// migrate creates the necessary tables if they don't exist.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		analysis_date TEXT NOT NULL,
		total_frames INTEGER NOT NULL DEFAULT 0,
		frames_processed INTEGER NOT NULL DEFAULT 0,
		average_people REAL DEFAULT 0,
		max_people INTEGER DEFAULT 0,
		average_vehicles REAL DEFAULT 0,
		max_vehicles INTEGER DEFAULT 0,
		average_processing_time REAL DEFAULT 0,
		average_fps REAL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS frame_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		analysis_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		frame_number INTEGER NOT NULL,
		timestamp REAL NOT NULL,
		people_count INTEGER DEFAULT 0,
		vehicle_count INTEGER DEFAULT 0,
		lights_total INTEGER DEFAULT 0,
		lights_red INTEGER DEFAULT 0,
		lights_green INTEGER DEFAULT 0,
		lights_yellow INTEGER DEFAULT 0,
		confidence_people REAL DEFAULT 0,
		confidence_vehicles REAL DEFAULT 0,
		confidence_traffic_lights REAL DEFAULT 0,
		processing_time REAL DEFAULT 0,
		FOREIGN KEY (analysis_id) REFERENCES analyses(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
	CREATE INDEX IF NOT EXISTS idx_frame_results_analysis ON frame_results(analysis_id, position);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Lock()    { db.mu.Lock() }
func (db *DB) Unlock()  { db.mu.Unlock() }
func (db *DB) RLock()   { db.mu.RLock() }
func (db *DB) RUnlock() { db.mu.RUnlock() }
