package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeFormat is the timestamp format used for all SQLite datetime values.
const sqliteTimeFormat = "2006-01-02 15:04:05"

// MemoryDB is the reference (kv+fts+vector) Backend implementation: an
// append-only event ledger with belief-slot conflict resolution and a
// BM25+cosine retrieval projection, all in one SQLite file.
type MemoryDB struct {
	db        *sql.DB
	workspace string
	dbPath    string
}

// Open creates or opens the memory database at workspace/memory/memory.db.
func Open(workspace string) (*MemoryDB, error) {
	memoryDir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(memoryDir, 0755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	dbPath := filepath.Join(memoryDir, "memory.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	mdb := &MemoryDB{
		db:        db,
		workspace: workspace,
		dbPath:    dbPath,
	}

	if err := mdb.createEventSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create event schema: %w", err)
	}

	return mdb, nil
}

// Close closes the database connection.
func (m *MemoryDB) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// DBPath returns the path to the database file.
func (m *MemoryDB) DBPath() string {
	return m.dbPath
}

// Workspace returns the workspace path.
func (m *MemoryDB) Workspace() string {
	return m.workspace
}

// parseTime parses a timestamp string, trying sqliteTimeFormat first then RFC3339.
func parseTime(s string) time.Time {
	if t, err := time.Parse(sqliteTimeFormat, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
