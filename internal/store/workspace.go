package store

import (
	"context"
	"fmt"

	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
)

// CreateWorkspace inserts a new Workspace.
func (r *Repository) CreateWorkspace(ctx context.Context, w *Workspace) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO workspaces (id, name, working_dir, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			w.ID, w.Name, w.WorkingDir, w.CreatedAt, w.UpdatedAt)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "creating workspace", err)
		}
		return nil
	})
}

// GetWorkspace fetches a Workspace by id.
func (r *Repository) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	var w Workspace
	err := r.reader.GetContext(ctx, &w, `SELECT * FROM workspaces WHERE id = ?`, id)
	if err := mapNoRows(err, fmt.Sprintf("workspace %s not found", id)); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkspaces returns every Workspace, oldest first.
func (r *Repository) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var out []Workspace
	if err := r.reader.SelectContext(ctx, &out, `SELECT * FROM workspaces ORDER BY created_at ASC`); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "listing workspaces", err)
	}
	return out, nil
}
