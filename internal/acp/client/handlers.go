package client

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/infiniact/agent-hub-sub000/internal/acp/jsonrpc"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"go.uber.org/zap"
)

// dispatchInbound handles one agent-originated request or notification:
// session/update is forwarded to the event bus (and, if it matches
// scopeSessionID, accumulated by the in-flight caller); requests get a
// response written back over the transport.
func (c *Client) dispatchInbound(ctx context.Context, msg *jsonrpc.RawMessage, scopeSessionID string, accumulate func(string)) {
	switch msg.Method {
	case jsonrpc.NotificationSessionUpdate:
		c.handleSessionUpdate(msg, scopeSessionID, accumulate)
	case jsonrpc.MethodRequestPermission:
		c.handleRequestPermission(ctx, msg)
	case jsonrpc.MethodFSReadTextFile:
		c.handleFSRead(msg)
	case jsonrpc.MethodFSWriteTextFile:
		c.handleFSWrite(msg)
	case jsonrpc.MethodTerminalCreate:
		c.handleTerminalCreate(msg)
	case jsonrpc.MethodTerminalKill:
		c.handleTerminalKill(msg)
	case jsonrpc.MethodTerminalWaitExit:
		c.handleTerminalWaitExit(msg)
	default:
		c.log.Warn("unhandled inbound ACP method", zap.String("method", msg.Method))
	}
}

func (c *Client) handleSessionUpdate(msg *jsonrpc.RawMessage, scopeSessionID string, accumulate func(string)) {
	var params jsonrpc.SessionUpdateParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.log.Warn("malformed session/update params", zap.Error(err))
		return
	}

	var envelope struct {
		SessionUpdate string `json:"sessionUpdate"`
	}
	_ = json.Unmarshal(params.SessionUpdate, &envelope)

	if c.bus != nil {
		c.bus.Publish(context.Background(), bus.Event{
			Name: "acp:session_update:" + envelope.SessionUpdate,
			Payload: map[string]interface{}{
				"agentId":       c.agentID,
				"sessionId":     params.SessionID,
				"updateType":    envelope.SessionUpdate,
				"sessionUpdate": params.SessionUpdate,
			},
		})
	}

	if accumulate == nil || params.SessionID != scopeSessionID {
		return
	}

	switch envelope.SessionUpdate {
	case jsonrpc.UpdateAgentMessageChunk, jsonrpc.UpdateUserMessageChunk, jsonrpc.UpdateAgentThoughtChunk:
		var chunk jsonrpc.TextChunk
		if err := json.Unmarshal(params.SessionUpdate, &chunk); err == nil && chunk.Content.Type == "text" {
			accumulate(chunk.Content.Text)
		}
	}
}

// handleRequestPermission forwards the request to the installed
// PermissionHandler (or, absent one, cancels it) and writes back a response
// whose id echoes the inbound request id.
func (c *Client) handleRequestPermission(ctx context.Context, msg *jsonrpc.RawMessage) {
	var params jsonrpc.RequestPermissionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.respondError(msg.ID, jsonrpc.CodeInvalidParams, "malformed requestPermission params")
		return
	}

	c.log.Info("session/requestPermission",
		zap.String("session_id", params.SessionID),
		zap.String("tool_call_id", params.ToolCall.ToolCallID),
		zap.Int("num_options", len(params.Options)))

	var outcome jsonrpc.PermissionOutcome
	switch {
	case len(params.Options) == 0:
		outcome = jsonrpc.PermissionOutcome{Outcome: "cancelled"}
	case c.permissionHandler != nil:
		result, err := c.permissionHandler(ctx, params)
		if err != nil {
			c.log.Warn("permission handler failed", zap.Error(err))
			outcome = jsonrpc.PermissionOutcome{Outcome: "cancelled"}
		} else {
			outcome = result
		}
	default:
		outcome = jsonrpc.PermissionOutcome{Outcome: "cancelled"}
	}

	c.respondResult(msg.ID, jsonrpc.RequestPermissionResult{Outcome: outcome})
}

func (c *Client) handleFSRead(msg *jsonrpc.RawMessage) {
	var params jsonrpc.FSReadTextFileParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.respondError(msg.ID, jsonrpc.CodeInvalidParams, "malformed fs/read_text_file params")
		return
	}

	data, err := os.ReadFile(c.resolvePath(params.Path))
	if err != nil {
		c.respondError(msg.ID, jsonrpc.CodeIOError, err.Error())
		return
	}
	c.respondResult(msg.ID, jsonrpc.FSReadTextFileResult{Content: string(data)})
}

func (c *Client) handleFSWrite(msg *jsonrpc.RawMessage) {
	var params jsonrpc.FSWriteTextFileParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.respondError(msg.ID, jsonrpc.CodeInvalidParams, "malformed fs/write_text_file params")
		return
	}

	path := c.resolvePath(params.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.respondError(msg.ID, jsonrpc.CodeIOError, err.Error())
		return
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		c.respondError(msg.ID, jsonrpc.CodeIOError, err.Error())
		return
	}
	c.respondResult(msg.ID, jsonrpc.FSWriteTextFileResult{})
}

func (c *Client) resolvePath(path string) string {
	if filepath.IsAbs(path) || c.workspaceRoot == "" {
		return path
	}
	return filepath.Join(c.workspaceRoot, path)
}

func (c *Client) handleTerminalCreate(msg *jsonrpc.RawMessage) {
	var params jsonrpc.TerminalCreateParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.respondError(msg.ID, jsonrpc.CodeInvalidParams, "malformed terminal/create params")
		return
	}

	cwd := params.Cwd
	if cwd == "" {
		cwd = c.workspaceRoot
	}

	id, err := c.terminals.create(params.Command, params.Args, cwd)
	if err != nil {
		c.respondError(msg.ID, jsonrpc.CodeIOError, err.Error())
		return
	}
	c.respondResult(msg.ID, jsonrpc.TerminalCreateResult{TerminalID: id})
}

func (c *Client) handleTerminalKill(msg *jsonrpc.RawMessage) {
	var params jsonrpc.TerminalKillParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.respondError(msg.ID, jsonrpc.CodeInvalidParams, "malformed terminal/kill params")
		return
	}
	if err := c.terminals.kill(params.TerminalID); err != nil {
		c.respondError(msg.ID, jsonrpc.CodeNotFound, err.Error())
		return
	}
	c.respondResult(msg.ID, struct{}{})
}

func (c *Client) handleTerminalWaitExit(msg *jsonrpc.RawMessage) {
	var params jsonrpc.TerminalWaitForExitParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.respondError(msg.ID, jsonrpc.CodeInvalidParams, "malformed terminal/wait_for_exit params")
		return
	}
	exitCode, signal, err := c.terminals.waitForExit(params.TerminalID)
	if err != nil {
		c.respondError(msg.ID, jsonrpc.CodeNotFound, err.Error())
		return
	}
	c.respondResult(msg.ID, jsonrpc.TerminalWaitForExitResult{ExitCode: exitCode, Signal: signal})
}

func (c *Client) respondResult(id json.RawMessage, result interface{}) {
	payload, err := json.Marshal(result)
	if err != nil {
		c.log.Error("marshaling ACP response result", zap.Error(err))
		return
	}
	resp := jsonrpc.Response{JSONRPC: "2.0", ID: rawIDToInterface(id), Result: payload}
	if err := c.transport.SendRaw(resp); err != nil {
		c.log.Warn("sending ACP response failed", zap.Error(err))
	}
}

func (c *Client) respondError(id json.RawMessage, code int, message string) {
	resp := jsonrpc.Response{
		JSONRPC: "2.0",
		ID:      rawIDToInterface(id),
		Error:   &jsonrpc.Error{Code: code, Message: message},
	}
	if err := c.transport.SendRaw(resp); err != nil {
		c.log.Warn("sending ACP error response failed", zap.Error(err))
	}
}

// rawIDToInterface decodes a json.RawMessage id back into a bare Go value so
// it re-marshals identically regardless of whether the agent used a string
// or a number.
func rawIDToInterface(id json.RawMessage) interface{} {
	var v interface{}
	if err := json.Unmarshal(id, &v); err != nil {
		return nil
	}
	return v
}
