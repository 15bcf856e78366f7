package chatbridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/store"
)

// sessionShapeTokens mark a Prompt failure as a stale-session error worth one
// fresh-session retry, rather than a permanent failure.
var sessionShapeTokens = []string{"session", "timed out", "channel closed"}

func isSessionShaped(msg string) bool {
	for _, tok := range sessionShapeTokens {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return false
}

// runBatchLoop repeatedly drains a chat tool's unprocessed inbound messages
// until none remain, dispatching one merged prompt per batch. It runs as its
// own background task so the event loop reading bridge stdout is never
// blocked waiting on a reply.
func (d *Driver) runBatchLoop(ctx context.Context) {
	defer func() {
		d.mu.Lock()
		d.processing = false
		d.mu.Unlock()
	}()

	for {
		messages, err := d.store.ListUnprocessedMessages(ctx, d.tool.ID)
		if err != nil {
			d.log.Error("failed to list unprocessed chat messages", zap.Error(err))
			return
		}
		if len(messages) == 0 {
			return
		}

		if !d.processBatch(ctx, messages) {
			return
		}
	}
}

// processBatch sends one merged prompt for the given messages and records
// the outcome. Returns false if the caller should stop looping (hub absent,
// permanent failure already handled).
func (d *Driver) processBatch(ctx context.Context, messages []store.ChatMessage) bool {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(fmt.Sprintf("[Message from %s]: %s\n", m.SenderName, m.Content))
	}
	prompt := sb.String()

	workspace, err := d.store.GetWorkspace(ctx, d.tool.WorkspaceID)
	if err != nil {
		d.markBatchFailed(ctx, messages, "workspace not found")
		return false
	}
	hub, err := d.store.GetControlHub(ctx, d.tool.WorkspaceID)
	if err != nil {
		// No control hub configured: stop quietly, leave messages unprocessed.
		return false
	}

	run, err := d.ensureTaskRun(ctx, prompt)
	if err != nil {
		d.log.Error("failed to persist chat task run", zap.Error(err))
		return false
	}

	reply, err := d.promptHub(ctx, *hub, workspace.WorkingDir, prompt)
	if err != nil {
		d.markBatchFailed(ctx, messages, err.Error())
		_ = d.store.UpdateTaskRunStatus(ctx, run.ID, store.TaskRunFailed, time.Now())
		return false
	}

	ids := make([]string, len(messages))
	senders := make(map[string]bool)
	for i, m := range messages {
		ids[i] = m.ID
		senders[m.ExternalSenderID] = true
	}
	if err := d.store.MarkMessagesProcessed(ctx, ids, reply); err != nil {
		d.log.Error("failed to mark chat messages processed", zap.Error(err))
	}
	_ = d.store.UpdateTaskRunStatus(ctx, run.ID, store.TaskRunCompleted, time.Now())

	d.mu.Lock()
	c := d.conn
	d.mu.Unlock()

	for senderID := range senders {
		if c != nil {
			_ = c.send(Command{Type: "send_message", RecipientID: senderID, Content: reply})
		}
		now := time.Now()
		_ = d.store.CreateChatMessage(ctx, &store.ChatMessage{
			ID:               uuid.NewString(),
			ChatToolID:       d.tool.ID,
			Direction:        "outbound",
			ExternalSenderID: senderID,
			Content:          reply,
			ContentType:      "text",
			Processed:        true,
			CreatedAt:        now,
		})
		d.publish("chat_tool:message_processed", map[string]interface{}{
			"sender_id": senderID,
			"reply":     reply,
		})
	}
	return true
}

// promptHub ensures the Control Hub is running, opens or reuses the
// chat-tool-scoped session, and sends the merged prompt, retrying once with
// a fresh session on a session-shaped error.
func (d *Driver) promptHub(ctx context.Context, hub store.Agent, workingDir, prompt string) (string, error) {
	client, err := d.agents.EnsureRunning(ctx, hub, workingDir)
	if err != nil {
		return "", err
	}

	key := session.ChatKey(d.tool.ID)
	protocolID, err := client.EnsureSession(ctx, key, hub.ID, workingDir)
	if err != nil {
		return "", err
	}

	reply, err := client.Prompt(ctx, protocolID, prompt, true)
	if err != nil && isSessionShaped(err.Error()) {
		d.sess.Remove(key)
		protocolID, err = client.EnsureSession(ctx, key, hub.ID, workingDir)
		if err != nil {
			return "", err
		}
		reply, err = client.Prompt(ctx, protocolID, prompt, true)
	}
	return reply, err
}

// markBatchFailed annotates every message in the batch with the error,
// leaving them unprocessed for a future batch's retry sweep to re-read.
func (d *Driver) markBatchFailed(ctx context.Context, messages []store.ChatMessage, errMsg string) {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	if err := d.store.MarkMessagesFailed(ctx, ids, errMsg); err != nil {
		d.log.Error("failed to annotate failed chat messages", zap.Error(err))
	}
}

// ensureTaskRun returns the chat tool's persistent "Chat: <name>" Task Run,
// creating it on first use and overwriting its prompt on every batch.
func (d *Driver) ensureTaskRun(ctx context.Context, prompt string) (*store.TaskRun, error) {
	d.mu.Lock()
	id := d.taskRunID
	d.mu.Unlock()

	now := time.Now()
	if id != "" {
		if err := d.store.UpdateTaskRunPrompt(ctx, id, prompt, store.TaskRunRunning, now); err == nil {
			return &store.TaskRun{ID: id, UserPrompt: prompt, Status: store.TaskRunRunning}, nil
		}
		// fall through: run may have been deleted out from under us, make a new one
	}

	run := &store.TaskRun{
		ID:           uuid.NewString(),
		Title:        "Chat: " + d.tool.Name,
		UserPrompt:   prompt,
		WorkspaceID:  d.tool.WorkspaceID,
		Status:       store.TaskRunRunning,
		ScheduleType: "none",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.store.CreateTaskRun(ctx, run); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.taskRunID = run.ID
	d.mu.Unlock()
	return run, nil
}
