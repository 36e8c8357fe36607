package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"RagChat/internal/interaction"
)

// Archive is a write-only transcript store. Nothing is ever read back
// into a live session.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]bool // sessions already inserted
}

// Open creates or opens the sqlite database at path
func Open(path string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		start_time DATETIME,
		endpoint TEXT
	);`

	createEntriesTable := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		endpoint TEXT,
		role TEXT,
		content TEXT,
		attributes TEXT,
		created_at DATETIME,
		FOREIGN KEY(session_id) REFERENCES sessions(id)
	);`

	for _, stmt := range []string{createSessionsTable, createEntriesTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return &Archive{db: db, logger: logger, known: make(map[string]bool)}, nil
}

// Record stores one entry, creating the session row on first use
func (a *Archive) Record(sessionID, endpointName string, entry interaction.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var attrs sql.NullString
	if len(entry.Attributes) > 0 {
		b, err := json.Marshal(entry.Attributes)
		if err != nil {
			return fmt.Errorf("failed to encode attributes: %w", err)
		}
		attrs = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if !a.known[sessionID] {
		_, err = tx.Exec(
			"INSERT OR IGNORE INTO sessions (id, start_time, endpoint) VALUES (?, ?, ?)",
			sessionID, entry.CreatedAt, endpointName,
		)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
	}

	_, err = tx.Exec(
		"INSERT INTO entries (id, session_id, endpoint, role, content, attributes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		entry.ID, sessionID, endpointName, string(entry.Role), entry.Content, attrs, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	a.known[sessionID] = true

	a.logger.Debug("entry archived", "session_id", sessionID, "entry_id", entry.ID)
	return nil
}

// Close releases the database
func (a *Archive) Close() error {
	return a.db.Close()
}
