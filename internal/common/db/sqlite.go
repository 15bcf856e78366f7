// Package db opens the single SQLite database used by the Agent Runtime Core.
// All writes go through one connection held behind WAL mode and a busy
// timeout, matching the single-writer discipline the data model calls for;
// reads may use a separate, larger read pool.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Handle bundles the single writer connection with an optional read pool.
type Handle struct {
	Writer *sqlx.DB
	Reader *sqlx.DB
}

// Open opens (creating parent directories as needed) a SQLite database at
// path, configuring WAL journaling and a busy timeout on the writer
// connection, and a separate read-only pool sized by readerPoolSize.
func Open(path string, busyTimeout time.Duration, readerPoolSize int) (*Handle, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path, busyTimeout.Milliseconds())

	writer, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening writer connection: %w", err)
	}
	// A single physical connection serializes every write, the way the rest
	// of the store's synchronous-mutex discipline expects.
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("pinging writer connection: %w", err)
	}

	readDSN := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&mode=ro&_foreign_keys=on",
		path, busyTimeout.Milliseconds())
	reader, err := sqlx.Open("sqlite3", readDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader pool: %w", err)
	}
	if readerPoolSize <= 0 {
		readerPoolSize = 4
	}
	reader.SetMaxOpenConns(readerPoolSize)

	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("pinging reader pool: %w", err)
	}

	return &Handle{Writer: writer, Reader: reader}, nil
}

// Close closes both connections, writer first.
func (h *Handle) Close() error {
	var firstErr error
	if err := h.Writer.Close(); err != nil {
		firstErr = err
	}
	if err := h.Reader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
