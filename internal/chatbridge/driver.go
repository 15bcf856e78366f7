package chatbridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/agentmanager"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"github.com/infiniact/agent-hub-sub000/internal/process"
	"github.com/infiniact/agent-hub-sub000/internal/store"
)

const (
	idleCheckInterval = 45 * time.Second
	idleThreshold     = 90 * time.Second
	pongWait          = 10 * time.Second
	restartDelay      = 3 * time.Second
)

// fatalTokens are the substrings of an error event's payload that mark the
// bridge connection unrecoverable without a restart.
var fatalTokens = []string{
	"timeout",
	"超时",
	"must logout first",
	"尝试重启",
	"Unhandled rejection",
	"ECONNRESET",
	"socket hang up",
}

func isFatal(msg string) bool {
	for _, tok := range fatalTokens {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return false
}

// BridgeCommand resolves the subprocess to exec for a given plugin_type.
type BridgeCommand func(pluginType string) (command string, args []string, err error)

// Driver owns one chat tool's bridge subprocess: the event loop, liveness
// timers, fatal-error restarts, and the message batch pipeline.
type Driver struct {
	tool    store.ChatTool
	resolve BridgeCommand
	store   *store.Repository
	agents  *agentmanager.Manager
	sess    *session.Registry
	bus     bus.EventBus
	log     *logger.Logger

	mu       sync.Mutex
	proc     *process.Process
	conn     *conn
	taskRunID string

	processing bool // batch loop already running for this tool

	cancel context.CancelFunc
}

// New constructs a Driver for one configured Chat Tool. resolve maps the
// tool's plugin_type to a subprocess command (npm package, binary, etc).
func New(tool store.ChatTool, resolve BridgeCommand, repo *store.Repository, agents *agentmanager.Manager, sess *session.Registry, evt bus.EventBus, log *logger.Logger) *Driver {
	return &Driver{
		tool:    tool,
		resolve: resolve,
		store:   repo,
		agents:  agents,
		sess:    sess,
		bus:     evt,
		log:     log.With(zap.String("chat_tool_id", tool.ID)),
	}
}

// Start spawns the bridge subprocess and runs its event loop until Stop is
// called or the loop gives up for good.
func (d *Driver) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	if err := d.spawn(runCtx); err != nil {
		cancel()
		return err
	}

	go d.eventLoop(runCtx)
	return nil
}

// Stop cancels the driver's run context and terminates its subprocess.
func (d *Driver) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	proc := d.proc
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if proc == nil {
		return nil
	}
	_ = d.store.SetChatToolStatus(context.Background(), d.tool.ID, store.ChatToolStopped, time.Now())
	return proc.Stop()
}

// spawn resolves the plugin command, starts the subprocess, and wraps its
// stdio in a conn.
func (d *Driver) spawn(ctx context.Context) error {
	command, args, err := d.resolve(d.tool.PluginType)
	if err != nil {
		return fmt.Errorf("resolving chat-bridge command for %s: %w", d.tool.PluginType, err)
	}

	proc, err := process.Spawn(process.Spec{
		Command: command,
		Args:    args,
		Env: []string{
			"CHAT_TOOL_ID=" + d.tool.ID,
			"CHAT_TOOL_CONFIG=" + d.tool.ConfigJSON,
		},
	}, d.log)
	if err != nil {
		_ = d.store.SetChatToolStatus(ctx, d.tool.ID, store.ChatToolError, time.Now())
		return fmt.Errorf("spawning chat bridge %s: %w", d.tool.Name, err)
	}

	d.mu.Lock()
	d.proc = proc
	d.conn = newConn(proc.Stdin, proc.Stdout, d.log)
	d.mu.Unlock()

	return d.store.SetChatToolStatus(ctx, d.tool.ID, store.ChatToolStarting, time.Now())
}

// eventLoop reads bridge events, dispatches them, and drives the idle/ping
// liveness check until ctx is cancelled.
func (d *Driver) eventLoop(ctx context.Context) {
	lastActivity := time.Now()
	idleTimer := time.NewTicker(idleCheckInterval)
	defer idleTimer.Stop()

	d.mu.Lock()
	c := d.conn
	d.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-c.events:
			if !ok {
				d.log.Warn("chat bridge stdout closed")
				if d.restart(ctx) {
					d.mu.Lock()
					c = d.conn
					d.mu.Unlock()
					lastActivity = time.Now()
					continue
				}
				return
			}
			lastActivity = time.Now()
			if fatal := d.dispatch(ctx, evt); fatal {
				if d.restart(ctx) {
					d.mu.Lock()
					c = d.conn
					d.mu.Unlock()
					lastActivity = time.Now()
					continue
				}
				return
			}

		case <-idleTimer.C:
			if time.Since(lastActivity) <= idleThreshold {
				continue
			}
			if !d.pingAndWait(ctx, c) {
				if d.restart(ctx) {
					d.mu.Lock()
					c = d.conn
					d.mu.Unlock()
				} else {
					return
				}
			}
			lastActivity = time.Now()
		}
	}
}

// pingAndWait sends ping{ts=now} and blocks for a pong up to pongWait,
// continuing to dispatch intervening events. Returns false if the bridge is
// unresponsive (alive, no pong) or dead.
func (d *Driver) pingAndWait(ctx context.Context, c *conn) bool {
	if err := c.send(Command{Type: "ping", TS: time.Now().UnixMilli()}); err != nil {
		d.log.Warn("failed to send liveness ping", zap.Error(err))
		return false
	}

	deadline := time.After(pongWait)
	for {
		select {
		case evt, ok := <-c.events:
			if !ok {
				return false
			}
			if evt.Type == "pong" {
				return true
			}
			d.dispatch(ctx, evt)
		case <-deadline:
			d.mu.Lock()
			proc := d.proc
			d.mu.Unlock()
			if proc != nil && proc.Status() == process.StatusRunning {
				d.log.Warn("chat bridge unresponsive to ping, killing")
				_ = proc.Stop()
			}
			return false
		case <-ctx.Done():
			return true
		}
	}
}

// restart terminates the old process and respawns, per the fatal-error
// auto-restart design. Skipped if ctx is already cancelled.
func (d *Driver) restart(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	d.mu.Lock()
	proc := d.proc
	d.mu.Unlock()
	if proc != nil {
		_ = proc.Stop()
	}

	_ = d.store.SetChatToolStatus(ctx, d.tool.ID, store.ChatToolStarting, time.Now())
	d.publish("chat_tool:status_changed", map[string]interface{}{"status": string(store.ChatToolStarting), "reason": "restart"})

	select {
	case <-time.After(restartDelay):
	case <-ctx.Done():
		return false
	}

	if fresh, err := d.store.GetChatTool(ctx, d.tool.ID); err == nil {
		d.tool = *fresh
	}

	if err := d.spawn(ctx); err != nil {
		d.log.Error("chat bridge restart failed", zap.Error(err))
		_ = d.store.SetChatToolStatus(ctx, d.tool.ID, store.ChatToolError, time.Now())
		return false
	}
	return true
}

func (d *Driver) publish(name string, payload map[string]interface{}) {
	if d.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["chat_tool_id"] = d.tool.ID
	d.bus.Publish(context.Background(), bus.Event{Name: name, Payload: payload})
}

// dispatch handles one bridge event, returning true if it was a fatal error
// that should trigger a restart.
func (d *Driver) dispatch(ctx context.Context, evt Event) bool {
	switch evt.Type {
	case "status":
		_ = d.store.SetChatToolStatus(ctx, d.tool.ID, store.ChatToolStatus(evt.Status), time.Now())
		d.publish("chat_tool:status_changed", map[string]interface{}{"status": evt.Status, "reason": evt.Reason})

	case "qrcode":
		d.tool.CachedQR = evt.QRCode
		d.publish("chat_tool:qr_code", map[string]interface{}{"qrcode": evt.QRCode})

	case "login":
		_ = d.store.SetChatToolStatus(ctx, d.tool.ID, store.ChatToolRunning, time.Now())
		d.publish("chat_tool:login", nil)

	case "logout":
		_ = d.store.SetChatToolStatus(ctx, d.tool.ID, store.ChatToolLoginRequired, time.Now())
		d.publish("chat_tool:logout", nil)

	case "message":
		d.handleInboundMessage(ctx, evt)

	case "contacts":
		for _, c := range evt.Contacts {
			_ = d.store.UpsertContact(ctx, &store.Contact{
				ChatToolID:  d.tool.ID,
				ExternalID:  c.ExternalID,
				DisplayName: c.DisplayName,
			})
		}

	case "error":
		msg := evt.ErrorText()
		d.publish("chat_tool:error", map[string]interface{}{"error": msg})
		if isFatal(msg) {
			d.log.Warn("fatal chat bridge error, restarting", zap.String("error", msg))
			return true
		}

	case "heartbeat", "pong":
		// liveness only; no action beyond refreshing last-activity, already
		// done by the caller.

	default:
		d.log.Warn("unhandled chat bridge event type", zap.String("type", evt.Type))
	}
	return false
}

// handleInboundMessage implements the blocked-sender drop, persistence, and
// auto-reply batch-loop kickoff for one inbound "message" event.
func (d *Driver) handleInboundMessage(ctx context.Context, evt Event) {
	blocked, err := d.store.IsBlocked(ctx, d.tool.ID, evt.SenderID)
	if err != nil {
		d.log.Warn("failed to check blocked sender", zap.Error(err))
	}
	if blocked {
		return
	}

	now := time.Now()
	msg := &store.ChatMessage{
		ID:               uuid.NewString(),
		ChatToolID:        d.tool.ID,
		Direction:         "inbound",
		ExternalSenderID:  evt.SenderID,
		SenderName:        evt.SenderName,
		Content:           evt.Content,
		ContentType:       evt.ContentType,
		Processed:         false,
		CreatedAt:         now,
	}
	if err := d.store.CreateChatMessage(ctx, msg); err != nil {
		d.log.Error("failed to persist inbound chat message", zap.Error(err))
		return
	}
	_ = d.store.TouchChatTool(ctx, d.tool.ID, now)
	d.publish("chat_tool:message_received", map[string]interface{}{
		"message_id":  msg.ID,
		"sender_id":   msg.ExternalSenderID,
		"sender_name": msg.SenderName,
		"content":     msg.Content,
	})

	if d.tool.AutoReply == store.AutoReplyNone {
		return
	}

	d.mu.Lock()
	alreadyProcessing := d.processing
	if !alreadyProcessing {
		d.processing = true
	}
	d.mu.Unlock()

	if alreadyProcessing {
		d.sendBusyReply(evt.SenderID)
		return
	}

	go d.runBatchLoop(context.Background())
}

func (d *Driver) sendBusyReply(recipientID string) {
	d.mu.Lock()
	c := d.conn
	d.mu.Unlock()
	if c == nil {
		return
	}
	_ = c.send(Command{Type: "send_message", RecipientID: recipientID, Content: "Still working on the previous message, one moment."})
}
