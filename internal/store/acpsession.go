package store

import (
	"context"
	"fmt"

	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
)

// UpsertACPSession creates or overwrites an ACP Session binding.
func (r *Repository) UpsertACPSession(ctx context.Context, s *ACPSession) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO acp_sessions (external_session_id, agent_id, protocol_session_id, state, created_at, last_used_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_session_id) DO UPDATE SET
				agent_id = excluded.agent_id,
				protocol_session_id = excluded.protocol_session_id,
				state = excluded.state,
				last_used_at = excluded.last_used_at`,
			s.ExternalSessionID, s.AgentID, s.ProtocolSessionID, s.State, s.CreatedAt, s.LastUsedAt)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "upserting acp session", err)
		}
		return nil
	})
}

// GetACPSession fetches an ACP Session by its external id.
func (r *Repository) GetACPSession(ctx context.Context, externalSessionID string) (*ACPSession, error) {
	var s ACPSession
	err := r.reader.GetContext(ctx, &s, `SELECT * FROM acp_sessions WHERE external_session_id = ?`, externalSessionID)
	if err := mapNoRows(err, fmt.Sprintf("acp session %s not found", externalSessionID)); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteACPSession removes an ACP Session binding (on Ended or owning process stop).
func (r *Repository) DeleteACPSession(ctx context.Context, externalSessionID string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `DELETE FROM acp_sessions WHERE external_session_id = ?`, externalSessionID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "deleting acp session", err)
		}
		return nil
	})
}

// DeleteACPSessionsForAgent removes every session bound to an agent, called
// when the owning AgentProcess stops.
func (r *Repository) DeleteACPSessionsForAgent(ctx context.Context, agentID string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `DELETE FROM acp_sessions WHERE agent_id = ?`, agentID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "deleting acp sessions for agent", err)
		}
		return nil
	})
}
