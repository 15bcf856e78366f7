package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
	dbpkg "github.com/infiniact/agent-hub-sub000/internal/common/db"
)

// Repository is the single entry point onto the SQLite-backed data model.
// Writes are serialized by both the writer connection's single-conn pool and
// an explicit mutex, matching the "single SQLite connection behind a
// synchronous mutex" requirement; reads may use the separate read pool
// concurrently.
type Repository struct {
	writer *sqlx.DB
	reader *sqlx.DB
	mu     sync.Mutex
}

// New wraps an already-opened db.Handle, creating the schema if needed.
func New(h *dbpkg.Handle) (*Repository, error) {
	if err := initSchema(h.Writer); err != nil {
		return nil, fmt.Errorf("initializing store schema: %w", err)
	}
	return &Repository{writer: h.Writer, reader: h.Reader}, nil
}

// withWrite serializes a write under the repository mutex, matching the
// single-writer discipline the data model expects.
func (r *Repository) withWrite(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := fn(ctx); err != nil {
		return err
	}
	return nil
}

func mapNoRows(err error, what string) error {
	if err == sql.ErrNoRows {
		return apperr.NotFound(what)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, what, err)
	}
	return nil
}
