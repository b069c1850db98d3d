package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite connection holding the canonical log. The default
// deployment opens an in-memory database: the log intentionally does not
// survive a restart, polling rebuilds it from live peers.
type DB struct {
	*sql.DB
}

// MemoryDSN returns a shared-cache in-memory DSN. The name keeps separate
// logical databases apart within one process (profiles, tests).
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
}

// FileDSN returns a file-backed DSN with WAL mode and recommended pragmas.
func FileDSN(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

// Open creates a new SQLite connection for the given DSN.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer connection: log mutation is serialized, and an in-memory
	// database stays alive as long as its connection does.
	db.SetMaxOpenConns(1)
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
