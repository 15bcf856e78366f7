package commandsurface

import (
	"context"
	"fmt"
	"sync"

	"github.com/infiniact/agent-hub-sub000/internal/acp/jsonrpc"
	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
)

// directPermissions answers session/requestPermission for ACP sessions
// opened directly by the GUI (create_acp_session), as opposed to sessions
// owned by an in-flight orchestration run. Keyed by toolCallID, matching the
// orchestrator's own simplification (the ACP Client's PermissionHandler
// signature exposes decoded params, not the raw JSON-RPC request id).
type directPermissions struct {
	mu      sync.Mutex
	pending map[string]chan jsonrpc.PermissionOutcome
	bus     bus.EventBus
}

func newDirectPermissions(evt bus.EventBus) *directPermissions {
	return &directPermissions{
		pending: make(map[string]chan jsonrpc.PermissionOutcome),
		bus:     evt,
	}
}

func (d *directPermissions) handle(ctx context.Context, params jsonrpc.RequestPermissionParams) (jsonrpc.PermissionOutcome, error) {
	ch := make(chan jsonrpc.PermissionOutcome, 1)
	d.mu.Lock()
	d.pending[params.ToolCall.ToolCallID] = ch
	d.mu.Unlock()

	if d.bus != nil {
		d.bus.Publish(ctx, bus.Event{Name: "acp:permission_request", Payload: map[string]interface{}{
			"session_id":   params.SessionID,
			"tool_call_id": params.ToolCall.ToolCallID,
			"tool_call":    params.ToolCall,
			"options":      params.Options,
		}})
	}

	select {
	case outcome := <-ch:
		return outcome, nil
	case <-ctx.Done():
		return jsonrpc.PermissionOutcome{Outcome: "cancelled"}, ctx.Err()
	}
}

func (d *directPermissions) respond(toolCallID, optionID, userMessage string) error {
	d.mu.Lock()
	ch, ok := d.pending[toolCallID]
	if ok {
		delete(d.pending, toolCallID)
	}
	d.mu.Unlock()
	if !ok {
		return apperr.NotFound(fmt.Sprintf("no pending permission request %s", toolCallID))
	}
	ch <- jsonrpc.PermissionOutcome{Outcome: "selected", OptionID: optionID, UserMessage: userMessage}
	return nil
}

// PermissionHandler routes a requestPermission call to the orchestrator, if
// the session is orchestration-owned, or to the direct per-session router
// otherwise. Installed once on agentmanager.Manager, after both the
// Orchestrator and Server exist.
func (s *Server) PermissionHandler(ctx context.Context, params jsonrpc.RequestPermissionParams) (jsonrpc.PermissionOutcome, error) {
	if s.deps.Orch != nil && s.deps.Orch.Owns(params.SessionID) {
		return s.deps.Orch.PermissionHandler(ctx, params)
	}
	return s.directPerms.handle(ctx, params)
}
