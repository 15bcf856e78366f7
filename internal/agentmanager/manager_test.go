package agentmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infiniact/agent-hub-sub000/internal/acp/client"
	"github.com/infiniact/agent-hub-sub000/internal/acp/jsonrpc"
	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/acp/transport"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"github.com/infiniact/agent-hub-sub000/internal/process"
	"github.com/infiniact/agent-hub-sub000/internal/provisioner"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	sess := session.New()
	registry := provisioner.NewRegistry()
	prov, err := provisioner.New(registry, t.TempDir(), time.Minute, logger.Default())
	require.NoError(t, err)
	return New(sess, prov, nil, bus.NewMemoryBus(), logger.Default(), nil)
}

func TestStatus_ReturnsStoppedForUnknownAgent(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, process.StatusStopped, m.Status("ghost"))
}

func TestClient_ReturnsFalseForUnknownAgent(t *testing.T) {
	m := newTestManager(t)
	c, ok := m.Client("ghost")
	assert.False(t, ok)
	assert.Nil(t, c)
}

func TestStop_IsNoopForUnknownAgent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Stop("ghost"))
}

// TestStop_ClearsOwnedSessionsAndProcessSlot wires a real subprocess (a tiny
// shell script standing in for an agent) that replies to exactly one
// session/end request, so Manager.Stop's best-effort session/end sweep gets
// its answer without a real ACP agent binary; the test then checks that the
// agent's session registry entries and process map slot are gone.
func TestStop_ClearsOwnedSessionsAndProcessSlot(t *testing.T) {
	m := newTestManager(t)

	script := `read _line; printf '{"jsonrpc":"2.0","id":1,"result":{}}\n'`
	proc, err := process.Spawn(process.Spec{Command: "sh", Args: []string{"-c", script}}, logger.Default())
	require.NoError(t, err)

	tr := transport.New(proc.Stdin, proc.Stdout, logger.Default())
	c := client.New(tr, m.sess, logger.Default())

	m.sess.Create("chat_tool:tool-1", "agent-1")
	m.sess.SetProtocolSessionID("chat_tool:tool-1", "proto-1")
	m.sess.MarkActive("chat_tool:tool-1")

	m.mu.Lock()
	m.agents["agent-1"] = &runtimeAgent{proc: proc, client: c}
	m.mu.Unlock()

	require.NoError(t, m.Stop("agent-1"))

	_, ok := m.sess.Get("chat_tool:tool-1")
	assert.False(t, ok, "Stop must clear the agent's session registry entries")

	_, ok = m.Client("agent-1")
	assert.False(t, ok)
}

func TestSetPermissionHandler_InstallsNewHandler(t *testing.T) {
	m := newTestManager(t)
	m.SetPermissionHandler(func(ctx context.Context, _ jsonrpc.RequestPermissionParams) (jsonrpc.PermissionOutcome, error) {
		return jsonrpc.PermissionOutcome{Outcome: "cancelled"}, nil
	})

	require.NotNil(t, m.permHdl)
	outcome, err := m.permHdl(context.Background(), jsonrpc.RequestPermissionParams{})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", outcome.Outcome)
}
