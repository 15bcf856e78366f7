package store

import (
	"context"
	"fmt"
	"time"

	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
)

// CreateChatTool inserts a new Chat Tool.
func (r *Repository) CreateChatTool(ctx context.Context, c *ChatTool) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO chat_tools (
				id, workspace_id, name, plugin_type, config_json, linked_agent_id,
				status, auto_reply_mode, message_count, last_active_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.WorkspaceID, c.Name, c.PluginType, c.ConfigJSON, c.LinkedAgentID,
			c.Status, c.AutoReply, c.MessageCount, c.LastActiveAt, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "creating chat tool", err)
		}
		return nil
	})
}

// GetChatTool fetches a Chat Tool by id.
func (r *Repository) GetChatTool(ctx context.Context, id string) (*ChatTool, error) {
	var c ChatTool
	err := r.reader.GetContext(ctx, &c, `SELECT * FROM chat_tools WHERE id = ?`, id)
	if err := mapNoRows(err, fmt.Sprintf("chat tool %s not found", id)); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChatTools returns every Chat Tool in a workspace.
func (r *Repository) ListChatTools(ctx context.Context, workspaceID string) ([]ChatTool, error) {
	var out []ChatTool
	err := r.reader.SelectContext(ctx, &out,
		`SELECT * FROM chat_tools WHERE workspace_id = ? ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "listing chat tools", err)
	}
	return out, nil
}

// SetChatToolStatus updates a Chat Tool's status and bumps its updated_at.
func (r *Repository) SetChatToolStatus(ctx context.Context, id string, status ChatToolStatus, updatedAt time.Time) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx,
			`UPDATE chat_tools SET status = ?, updated_at = ? WHERE id = ?`, status, updatedAt, id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "setting chat tool status", err)
		}
		return nil
	})
}

// TouchChatTool bumps last_active_at and increments the message counter.
func (r *Repository) TouchChatTool(ctx context.Context, id string, at time.Time) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			UPDATE chat_tools SET last_active_at = ?, message_count = message_count + 1, updated_at = ?
			WHERE id = ?`, at, at, id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "touching chat tool", err)
		}
		return nil
	})
}

// CreateChatMessage inserts a Chat Message.
func (r *Repository) CreateChatMessage(ctx context.Context, m *ChatMessage) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO chat_messages (
				id, chat_tool_id, direction, external_sender_id, sender_name, content,
				content_type, processed, agent_response, error_message, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ChatToolID, m.Direction, m.ExternalSenderID, m.SenderName, m.Content,
			m.ContentType, m.Processed, m.AgentResponse, m.ErrorMessage, m.CreatedAt)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "creating chat message", err)
		}
		return nil
	})
}

// ListUnprocessedMessages returns a chat tool's unprocessed inbound messages,
// oldest first, for the batch loop.
func (r *Repository) ListUnprocessedMessages(ctx context.Context, chatToolID string) ([]ChatMessage, error) {
	var out []ChatMessage
	err := r.reader.SelectContext(ctx, &out, `
		SELECT * FROM chat_messages
		WHERE chat_tool_id = ? AND direction = 'inbound' AND processed = 0
		ORDER BY created_at ASC`, chatToolID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "listing unprocessed chat messages", err)
	}
	return out, nil
}

// MarkMessagesProcessed marks the given message ids processed, optionally
// attaching the agent's response text.
func (r *Repository) MarkMessagesProcessed(ctx context.Context, ids []string, response string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			_, err := r.writer.ExecContext(ctx,
				`UPDATE chat_messages SET processed = 1, agent_response = ? WHERE id = ?`, response, id)
			if err != nil {
				return apperr.Wrap(apperr.KindDatabase, "marking chat message processed", err)
			}
		}
		return nil
	})
}

// MarkMessagesFailed annotates the given message ids with an error, without
// marking them processed so a future batch can retry them.
func (r *Repository) MarkMessagesFailed(ctx context.Context, ids []string, errMsg string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			_, err := r.writer.ExecContext(ctx,
				`UPDATE chat_messages SET error_message = ? WHERE id = ?`, errMsg, id)
			if err != nil {
				return apperr.Wrap(apperr.KindDatabase, "marking chat message failed", err)
			}
		}
		return nil
	})
}

// GetContact fetches a Contact by (chat tool, external id).
func (r *Repository) GetContact(ctx context.Context, chatToolID, externalID string) (*Contact, error) {
	var c Contact
	err := r.reader.GetContext(ctx, &c,
		`SELECT * FROM contacts WHERE chat_tool_id = ? AND external_id = ?`, chatToolID, externalID)
	if err := mapNoRows(err, fmt.Sprintf("contact %s not found", externalID)); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertContact creates or updates a Contact.
func (r *Repository) UpsertContact(ctx context.Context, c *Contact) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO contacts (chat_tool_id, external_id, display_name, blocked)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(chat_tool_id, external_id) DO UPDATE SET
				display_name = excluded.display_name,
				blocked = excluded.blocked`,
			c.ChatToolID, c.ExternalID, c.DisplayName, c.Blocked)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "upserting contact", err)
		}
		return nil
	})
}

// IsBlocked reports whether a sender is blocked on a chat tool. Unknown
// senders are treated as not blocked.
func (r *Repository) IsBlocked(ctx context.Context, chatToolID, externalID string) (bool, error) {
	c, err := r.GetContact(ctx, chatToolID, externalID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return c.Blocked, nil
}

// ListContacts returns every Contact for a chat tool.
func (r *Repository) ListContacts(ctx context.Context, chatToolID string) ([]Contact, error) {
	var out []Contact
	err := r.reader.SelectContext(ctx, &out,
		`SELECT * FROM contacts WHERE chat_tool_id = ? ORDER BY display_name ASC`, chatToolID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "listing contacts", err)
	}
	return out, nil
}
