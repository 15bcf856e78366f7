// Package client implements the host side of the Assistant Control Protocol
// state machine: initialize, session/new, session/load, session/prompt,
// session/cancel, session/end, plus the inbound notification/request handling
// (session/update, session/requestPermission, filesystem, terminal) that an
// agent subprocess expects its host to answer.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/infiniact/agent-hub-sub000/internal/acp/jsonrpc"
	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/acp/transport"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"go.uber.org/zap"
)

// Protocol and collection-loop timeouts from the timeout table.
const (
	initializeTimeout     = 120 * time.Second
	sessionNewTimeout     = 90 * time.Second
	promptDefaultTimeout  = 120 * time.Second
	promptInteractiveTTL  = 300 * time.Second
	authRecoveryTimeout   = 30 * time.Second
	promptPollInterval    = 10 * time.Millisecond
)

// authCandidateMethods are tried in order during auth recovery.
var authCandidateMethods = []string{"oauth-personal", "oauth", "login"}

// authShapedSubstrings mark a session/new failure as auth-shaped.
var authShapedSubstrings = []string{"auth", "login", "authenticate", "unauthorized", "api key"}

// PermissionHandler decides the outcome of an inbound session/requestPermission
// call. It is installed through WithPermissionHandler by whoever constructs
// this Client (normally the agent manager) and may block while the user is
// asked to decide.
type PermissionHandler func(ctx context.Context, params jsonrpc.RequestPermissionParams) (jsonrpc.PermissionOutcome, error)

// Option configures a Client at construction time.
type Option func(*Client)

// WithEventBus forwards inbound session/update notifications to evt.
func WithEventBus(evt bus.EventBus) Option {
	return func(c *Client) { c.bus = evt }
}

// WithPermissionHandler installs the callback used to answer
// session/requestPermission.
func WithPermissionHandler(h PermissionHandler) Option {
	return func(c *Client) { c.permissionHandler = h }
}

// WithWorkspaceRoot sets the base directory relative paths in fs/* requests
// are resolved against.
func WithWorkspaceRoot(root string) Option {
	return func(c *Client) { c.workspaceRoot = root }
}

// WithAgentID tags every forwarded event with the owning agent's id.
func WithAgentID(agentID string) Option {
	return func(c *Client) { c.agentID = agentID }
}

// Client drives the ACP state machine for a single agent subprocess, over
// the Transport already wrapping that subprocess's stdio.
type Client struct {
	transport *transport.Transport
	log       *logger.Logger
	sessions  *session.Registry

	bus               bus.EventBus
	permissionHandler PermissionHandler
	workspaceRoot     string
	agentID           string

	terminals *terminalRegistry

	mu          sync.Mutex // guards idSeq and authMethods
	idSeq       int64
	authMethods []jsonrpc.AuthMethod

	pendingMu sync.Mutex
	pending   map[string]*jsonrpc.RawMessage

	recvMu sync.Mutex // serializes mailbox polls across concurrent callers
}

// New constructs a Client over t, tracking session state in registry.
func New(t *transport.Transport, registry *session.Registry, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		transport: t,
		sessions:  registry,
		log:       log,
		terminals: newTerminalRegistry(),
		pending:   make(map[string]*jsonrpc.RawMessage),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) nextID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idSeq++
	return c.idSeq
}

// Initialize performs the handshake and caches the agent's auth methods.
func (c *Client) Initialize(ctx context.Context) (*jsonrpc.InitializeResult, error) {
	req := &jsonrpc.Request{
		ID:     c.nextID(),
		Method: jsonrpc.MethodInitialize,
		Params: jsonrpc.InitializeParams{
			ProtocolVersion: 1,
			ClientInfo:      jsonrpc.ClientInfo{Name: "agent-hub", Version: "1.0.0"},
			ClientCapabilities: jsonrpc.ClientCapabilities{
				FS:       jsonrpc.FSCapabilities{ReadTextFile: true, WriteTextFile: true},
				Terminal: true,
			},
		},
	}

	msg, err := c.callAndWait(ctx, req, initializeTimeout, "", nil)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("initialize: agent returned error: %s", msg.Error.Error())
	}

	var result jsonrpc.InitializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return nil, fmt.Errorf("initialize: decoding result: %w", err)
	}

	c.mu.Lock()
	c.authMethods = result.AuthMethods
	c.mu.Unlock()

	return &result, nil
}

// SessionNew opens a fresh ACP session, attempting auth recovery once if the
// agent reports an auth-shaped failure.
func (c *Client) SessionNew(ctx context.Context, cwd string) (*jsonrpc.SessionNewResult, error) {
	result, err := c.sessionNewOnce(ctx, cwd)
	if err == nil {
		return result, nil
	}
	if !isAuthShaped(err.Error()) {
		return nil, err
	}

	loginURL, authErr := c.recoverAuth(ctx)
	if authErr != nil {
		return nil, fmt.Errorf("session/new failed (%v); auth recovery also failed: %w", err, authErr)
	}
	return nil, fmt.Errorf("authentication required: %s", loginURL)
}

func (c *Client) sessionNewOnce(ctx context.Context, cwd string) (*jsonrpc.SessionNewResult, error) {
	req := &jsonrpc.Request{
		ID:     c.nextID(),
		Method: jsonrpc.MethodSessionNew,
		Params: jsonrpc.SessionNewParams{Cwd: cwd, McpServers: []jsonrpc.McpServer{}},
	}

	msg, err := c.callAndWait(ctx, req, sessionNewTimeout, "", nil)
	if err != nil {
		return nil, fmt.Errorf("session/new: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("session/new: %s", msg.Error.Error())
	}

	var result jsonrpc.SessionNewResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return nil, fmt.Errorf("session/new: decoding result: %w", err)
	}
	return &result, nil
}

// isAuthShaped reports whether an error message suggests the agent wants the
// user to authenticate.
func isAuthShaped(msg string) bool {
	lower := strings.ToLower(msg)
	for _, needle := range authShapedSubstrings {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// recoverAuth tries authenticate/auth/start with each candidate method id in
// turn, returning the first login URL surfaced.
func (c *Client) recoverAuth(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, authRecoveryTimeout)
	defer cancel()

	for _, methodID := range authCandidateMethods {
		for _, method := range []string{jsonrpc.MethodAuthenticate, jsonrpc.MethodAuthStart} {
			url, err := c.tryAuth(ctx, method, methodID)
			if err == nil && url != "" {
				return url, nil
			}
		}
	}
	return "", fmt.Errorf("no candidate auth method produced a login url")
}

func (c *Client) tryAuth(ctx context.Context, method, methodID string) (string, error) {
	req := &jsonrpc.Request{
		ID:     c.nextID(),
		Method: method,
		Params: jsonrpc.AuthenticateParams{MethodID: methodID},
	}

	msg, err := c.callAndWait(ctx, req, authRecoveryTimeout, "", nil)
	if err != nil {
		return "", err
	}
	if msg.Error != nil {
		return "", fmt.Errorf("%s: %s", method, msg.Error.Error())
	}

	var result jsonrpc.AuthenticateResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return "", err
	}
	return result.URL, nil
}

// SessionLoad resumes a previously-seen protocol session id.
func (c *Client) SessionLoad(ctx context.Context, protocolSessionID string) error {
	req := &jsonrpc.Request{
		ID:     c.nextID(),
		Method: jsonrpc.MethodSessionLoad,
		Params: jsonrpc.SessionLoadParams{SessionID: protocolSessionID},
	}

	msg, err := c.callAndWait(ctx, req, sessionNewTimeout, "", nil)
	if err != nil {
		return fmt.Errorf("session/load: %w", err)
	}
	if msg.Error != nil {
		return fmt.Errorf("session/load: %s", msg.Error.Error())
	}
	return nil
}

// EnsureSession implements the session-reuse design: reuse an Active
// protocol session, validate a New one via session/load, or create one from
// scratch, keyed by externalSessionID in the Session Registry.
func (c *Client) EnsureSession(ctx context.Context, externalSessionID, agentID, cwd string) (string, error) {
	if info, ok := c.sessions.Get(externalSessionID); ok {
		switch info.State {
		case session.StateActive:
			return info.ProtocolSessionID, nil
		case session.StateNew:
			if err := c.SessionLoad(ctx, info.ProtocolSessionID); err == nil {
				c.sessions.MarkActive(externalSessionID)
				return info.ProtocolSessionID, nil
			}
			c.sessions.Remove(externalSessionID)
		}
	}

	// Reuse the agent-wide "temp" model-discovery slot for the first real
	// session opened against this agent, promoting it in place.
	tempKey := session.TempKey(agentID)
	if externalSessionID != tempKey {
		if temp, ok := c.sessions.Get(tempKey); ok && temp.IsUsable() {
			c.sessions.Remove(tempKey)
			c.sessions.Create(externalSessionID, agentID)
			c.sessions.SetProtocolSessionID(externalSessionID, temp.ProtocolSessionID)
			c.sessions.MarkActive(externalSessionID)
			return temp.ProtocolSessionID, nil
		}
	}

	result, err := c.SessionNew(ctx, cwd)
	if err != nil {
		return "", err
	}

	c.sessions.Create(externalSessionID, agentID)
	c.sessions.SetProtocolSessionID(externalSessionID, result.SessionID)
	c.sessions.MarkActive(externalSessionID)
	return result.SessionID, nil
}

// Prompt sends session/prompt and runs the collection loop described in
// §4.D: poll the mailbox non-blocking with a 10ms sleep between attempts,
// accumulating streamed text chunks for protocolSessionID, until the
// matching response arrives, the deadline elapses, or the mailbox closes.
func (c *Client) Prompt(ctx context.Context, protocolSessionID, text string, interactive bool) (string, error) {
	id := time.Now().UnixMilli()
	req := &jsonrpc.Request{
		ID:     id,
		Method: jsonrpc.MethodSessionPrompt,
		Params: jsonrpc.SessionPromptParams{
			SessionID: protocolSessionID,
			Prompt:    []jsonrpc.ContentBlock{{Type: "text", Text: text}},
		},
	}

	timeout := promptDefaultTimeout
	if interactive {
		timeout = promptInteractiveTTL
	}

	var collected strings.Builder
	accumulate := func(chunk string) { collected.WriteString(chunk) }

	msg, err := c.callAndWait(ctx, req, timeout, protocolSessionID, accumulate)
	if err != nil {
		if collected.Len() > 0 {
			return collected.String(), fmt.Errorf("session/prompt: %w (partial output collected)", err)
		}
		return "", fmt.Errorf("session/prompt: %w", err)
	}
	if msg.Error != nil {
		return collected.String(), fmt.Errorf("session/prompt: %s", msg.Error.Error())
	}

	var result jsonrpc.SessionPromptResult
	if err := json.Unmarshal(msg.Result, &result); err == nil {
		for _, item := range result.Content {
			if item.Type == "text" {
				collected.WriteString(item.Text)
			}
		}
	}
	return collected.String(), nil
}

// Cancel sends session/cancel as a notification (no id, no response expected).
func (c *Client) Cancel(protocolSessionID string) error {
	req := &jsonrpc.Request{
		Method: jsonrpc.MethodSessionCancel,
		Params: jsonrpc.SessionCancelParams{SessionID: protocolSessionID},
	}
	return c.transport.Send(req)
}

// End sends session/end and waits briefly for acknowledgement; failures here
// are logged, not surfaced, since this runs during shutdown.
func (c *Client) End(ctx context.Context, protocolSessionID string) {
	req := &jsonrpc.Request{
		ID:     c.nextID(),
		Method: jsonrpc.MethodSessionEnd,
		Params: jsonrpc.SessionEndParams{SessionID: protocolSessionID},
	}
	if _, err := c.callAndWait(ctx, req, 10*time.Second, "", nil); err != nil {
		c.log.Debug("session/end did not complete cleanly", zap.Error(err), zap.String("session_id", protocolSessionID))
	}
}

// callAndWait sends req and polls the shared mailbox until a response with a
// matching id arrives, the deadline elapses, or the mailbox closes.
// Non-matching requests/notifications encountered along the way are
// dispatched inline; if scopeSessionID is non-empty and accumulate is set,
// session/update chunks for that session are also appended to the caller's
// output.
func (c *Client) callAndWait(ctx context.Context, req *jsonrpc.Request, timeout time.Duration, scopeSessionID string, accumulate func(string)) (*jsonrpc.RawMessage, error) {
	if err := c.transport.Send(req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	wantID, err := json.Marshal(req.ID)
	if err != nil {
		return nil, fmt.Errorf("marshaling request id: %w", err)
	}
	wantKey := string(trimJSON(wantID))

	deadline := time.Now().Add(timeout)
	for {
		if msg, ok := c.claimPending(wantKey); ok {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for response id=%v", req.ID)
		}

		msg, ok, closed := c.pollOnce()
		if !ok {
			if closed {
				return nil, fmt.Errorf("channel closed")
			}
			time.Sleep(promptPollInterval)
			continue
		}

		switch msg.Classify() {
		case jsonrpc.KindResponse:
			key := string(trimJSON(msg.ID))
			if key == wantKey {
				return msg, nil
			}
			c.stashPending(key, msg)
		case jsonrpc.KindRequest, jsonrpc.KindNotification:
			c.dispatchInbound(context.Background(), msg, scopeSessionID, accumulate)
		default:
			c.log.Warn("dropping unclassifiable ACP message")
		}
	}
}

func (c *Client) pollOnce() (*jsonrpc.RawMessage, bool, bool) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.transport.TryReceive()
}

func (c *Client) claimPending(key string) (*jsonrpc.RawMessage, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	msg, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return msg, ok
}

func (c *Client) stashPending(key string, msg *jsonrpc.RawMessage) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending[key] = msg
}

func trimJSON(raw json.RawMessage) json.RawMessage {
	start, end := 0, len(raw)
	for start < end && isJSONSpace(raw[start]) {
		start++
	}
	for end > start && isJSONSpace(raw[end-1]) {
		end--
	}
	return raw[start:end]
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
