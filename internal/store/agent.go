package store

import (
	"context"
	"fmt"

	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
)

// CreateAgent inserts a new Agent.
func (r *Repository) CreateAgent(ctx context.Context, a *Agent) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO agents (
				id, workspace_id, display_name, description, model_name, temperature,
				max_output_tokens, capabilities, skills, is_control_hub, is_enabled,
				disabled_reason, max_concurrency, command, argv, available_models,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.WorkspaceID, a.DisplayName, a.Description, a.ModelName, a.Temperature,
			a.MaxOutputTokens, a.Capabilities, a.Skills, a.IsControlHub, a.IsEnabled,
			a.DisabledReason, a.MaxConcurrency, a.Command, a.Argv, a.AvailableModels,
			a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "creating agent", err)
		}
		return nil
	})
}

// UpdateAgent overwrites a mutable Agent's fields by id.
func (r *Repository) UpdateAgent(ctx context.Context, a *Agent) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		res, err := r.writer.ExecContext(ctx, `
			UPDATE agents SET
				display_name = ?, description = ?, model_name = ?, temperature = ?,
				max_output_tokens = ?, capabilities = ?, skills = ?, is_enabled = ?,
				disabled_reason = ?, max_concurrency = ?, command = ?, argv = ?,
				available_models = ?, updated_at = ?
			WHERE id = ?`,
			a.DisplayName, a.Description, a.ModelName, a.Temperature,
			a.MaxOutputTokens, a.Capabilities, a.Skills, a.IsEnabled,
			a.DisabledReason, a.MaxConcurrency, a.Command, a.Argv,
			a.AvailableModels, a.UpdatedAt, a.ID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "updating agent", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound(fmt.Sprintf("agent %s not found", a.ID))
		}
		return nil
	})
}

// DeleteAgent removes an Agent by id.
func (r *Repository) DeleteAgent(ctx context.Context, id string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "deleting agent", err)
		}
		return nil
	})
}

// GetAgent fetches an Agent by id.
func (r *Repository) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	err := r.reader.GetContext(ctx, &a, `SELECT * FROM agents WHERE id = ?`, id)
	if err := mapNoRows(err, fmt.Sprintf("agent %s not found", id)); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAgents returns every Agent in a workspace.
func (r *Repository) ListAgents(ctx context.Context, workspaceID string) ([]Agent, error) {
	var out []Agent
	err := r.reader.SelectContext(ctx, &out,
		`SELECT * FROM agents WHERE workspace_id = ? ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "listing agents", err)
	}
	return out, nil
}

// GetControlHub returns the workspace's control-hub agent, if any.
func (r *Repository) GetControlHub(ctx context.Context, workspaceID string) (*Agent, error) {
	var a Agent
	err := r.reader.GetContext(ctx, &a,
		`SELECT * FROM agents WHERE workspace_id = ? AND is_control_hub = 1`, workspaceID)
	if err := mapNoRows(err, fmt.Sprintf("no control hub configured for workspace %s", workspaceID)); err != nil {
		return nil, err
	}
	return &a, nil
}

// SetControlHub clears any existing control hub in the workspace and marks
// agentID as the new one, enforcing "at most one per workspace" atomically
// under the write mutex.
func (r *Repository) SetControlHub(ctx context.Context, workspaceID, agentID string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		tx, err := r.writer.BeginTxx(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "beginning control hub transaction", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`UPDATE agents SET is_control_hub = 0 WHERE workspace_id = ?`, workspaceID); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "clearing control hub", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET is_control_hub = 1 WHERE id = ? AND workspace_id = ?`, agentID, workspaceID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "setting control hub", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound(fmt.Sprintf("agent %s not found in workspace %s", agentID, workspaceID))
		}
		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "committing control hub transaction", err)
		}
		return nil
	})
}

// SetAgentEnabled toggles an agent's enabled flag and optional reason.
func (r *Repository) SetAgentEnabled(ctx context.Context, id string, enabled bool, reason string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx,
			`UPDATE agents SET is_enabled = ?, disabled_reason = ? WHERE id = ?`, enabled, reason, id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "setting agent enabled state", err)
		}
		return nil
	})
}

// SetAvailableModels caches a fetched model list for an agent.
func (r *Repository) SetAvailableModels(ctx context.Context, id string, models []string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx,
			`UPDATE agents SET available_models = ? WHERE id = ?`, TagSet(models), id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "caching available models", err)
		}
		return nil
	})
}

// ReplaceDiscoveredAgents atomically replaces the discovered-agents snapshot.
func (r *Repository) ReplaceDiscoveredAgents(ctx context.Context, agents []DiscoveredAgent) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		tx, err := r.writer.BeginTxx(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "beginning discovery transaction", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM discovered_agents`); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "clearing discovered agents", err)
		}
		for _, a := range agents {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO discovered_agents (registry_id, display_name, command, available, version)
				VALUES (?, ?, ?, ?, ?)`,
				a.RegistryID, a.DisplayName, a.Command, a.Available, a.Version); err != nil {
				return apperr.Wrap(apperr.KindDatabase, "inserting discovered agent", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.KindDatabase, "committing discovery transaction", err)
		}
		return nil
	})
}

// ListDiscoveredAgents returns the current discovered-agents snapshot.
func (r *Repository) ListDiscoveredAgents(ctx context.Context) ([]DiscoveredAgent, error) {
	var out []DiscoveredAgent
	if err := r.reader.SelectContext(ctx, &out, `SELECT * FROM discovered_agents ORDER BY registry_id ASC`); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "listing discovered agents", err)
	}
	return out, nil
}
