package commandsurface

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infiniact/agent-hub-sub000/internal/acp/jsonrpc"
	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/agentmanager"
	dbpkg "github.com/infiniact/agent-hub-sub000/internal/common/db"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"github.com/infiniact/agent-hub-sub000/internal/provisioner"
	"github.com/infiniact/agent-hub-sub000/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	handle, err := dbpkg.Open(dbPath, 5*time.Second, 2)
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })
	repo, err := store.New(handle)
	require.NoError(t, err)

	registry := provisioner.NewRegistry()
	prov, err := provisioner.New(registry, t.TempDir(), time.Minute, logger.Default())
	require.NoError(t, err)
	sess := session.New()
	agents := agentmanager.New(sess, prov, repo, bus.NewMemoryBus(), logger.Default(), nil)

	deps := Deps{
		Store:       repo,
		Agents:      agents,
		Sessions:    sess,
		ChatTools:   nil,
		Discovery:   provisioner.NewDiscovery(registry, logger.Default()),
		Registry:    registry,
		Provisioner: prov,
		Bus:         bus.NewMemoryBus(),
	}
	return NewServer(deps, logger.Default())
}

func postCommand(t *testing.T, s *Server, name string, args interface{}) *httptest.ResponseRecorder {
	t.Helper()
	argsJSON, err := json.Marshal(args)
	require.NoError(t, err)
	body, err := json.Marshal(commandRequest{Name: name, Args: argsJSON})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/command", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHandleCommand_UnknownNameReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := postCommand(t, s, "no_such_command", map[string]interface{}{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCommand_MalformedBodyReturns400(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/command", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCommand_RespondPermissionWithNoPendingRequestReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := postCommand(t, s, "respond_permission", map[string]interface{}{
		"request_id": "tc-missing", "option_id": "allow",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCommand_RespondPermissionResolvesPendingRequest(t *testing.T) {
	s := newTestServer(t)

	ch := make(chan struct{})
	go func() {
		defer close(ch)
		_, _ = s.directPerms.handle(context.Background(), jsonrpc.RequestPermissionParams{
			SessionID: "s1",
			ToolCall:  jsonrpc.ToolCallInfo{ToolCallID: "tc-1"},
		})
	}()

	require.Eventually(t, func() bool {
		s.directPerms.mu.Lock()
		defer s.directPerms.mu.Unlock()
		_, ok := s.directPerms.pending["tc-1"]
		return ok
	}, time.Second, 5*time.Millisecond)

	rec := postCommand(t, s, "respond_permission", map[string]interface{}{
		"request_id": "tc-1", "option_id": "allow-once",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("permission request was never resolved")
	}
}

func TestHandleCommand_ListRegistryAgentsReturnsBuiltins(t *testing.T) {
	s := newTestServer(t)
	rec := postCommand(t, s, "list_registry_agents", map[string]interface{}{})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Result []provisioner.RegistryEntry `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.GreaterOrEqual(t, len(body.Result), 3)
}

func TestHandleCommand_ListAgentsOnEmptyWorkspaceReturnsEmptyResult(t *testing.T) {
	s := newTestServer(t)
	rec := postCommand(t, s, "list_agents", map[string]interface{}{"workspace_id": "ws-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Result []store.Agent `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Result)
}
