// Package sqlite is a durable registry.Registry backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/chunkrun/internal/log"
)

// migrations are applied in order; the database's user_version records how
// many have run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS chunk_outputs (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  doc_id      TEXT NOT NULL,
  chunk_id    TEXT NOT NULL,
  context_id  TEXT NOT NULL DEFAULT '',
  kind        TEXT NOT NULL,
  path        TEXT NOT NULL,
  recorded_at INTEGER NOT NULL,
  UNIQUE (doc_id, chunk_id, context_id, kind, path)
);
CREATE INDEX IF NOT EXISTS idx_chunk_outputs_chunk ON chunk_outputs (doc_id, chunk_id);`,
}

// DB owns the connection and hands out the registry store.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
// The special path ":memory:" opens a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		log.ErrorErr(log.CatRegistry, "Failed to open database", err, "path", path)
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Debug(log.CatRegistry, "Opened registry database", "path", path)
	return db, nil
}

// Close releases the connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Registry returns the chunk output store over this database.
func (db *DB) Registry() *Store {
	return newStore(db.conn)
}

func (db *DB) migrate(ctx context.Context) error {
	var version int
	if err := db.conn.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
		log.Info(log.CatRegistry, "Applied migration", "version", i+1)
	}
	return nil
}
