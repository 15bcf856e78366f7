package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyConventions(t *testing.T) {
	assert.Equal(t, "temp:agent-1", TempKey("agent-1"))
	assert.Equal(t, "orch:agent-1", OrchKey("agent-1"))
	assert.Equal(t, "chat_tool:tool-1", ChatKey("tool-1"))
}

func TestInfo_IsUsable(t *testing.T) {
	assert.True(t, (&Info{State: StateNew}).IsUsable())
	assert.True(t, (&Info{State: StateActive}).IsUsable())
	assert.False(t, (&Info{State: StateEnded}).IsUsable())
}

func TestRegistry_CreateGetLifecycle(t *testing.T) {
	r := New()
	info := r.Create("sess-1", "agent-1")
	assert.Equal(t, StateNew, info.State)

	got, ok := r.Get("sess-1")
	require.True(t, ok)
	assert.Same(t, info, got)

	r.SetProtocolSessionID("sess-1", "proto-1")
	assert.Equal(t, "proto-1", got.ProtocolSessionID)

	r.MarkActive("sess-1")
	assert.Equal(t, StateActive, got.State)

	r.MarkEnded("sess-1")
	assert.Equal(t, StateEnded, got.State)
	assert.False(t, got.IsUsable())
}

func TestRegistry_MarkActive_NoopOnceEnded(t *testing.T) {
	r := New()
	r.Create("sess-1", "agent-1")
	r.MarkEnded("sess-1")
	r.MarkActive("sess-1")

	info, ok := r.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, StateEnded, info.State)
}

func TestRegistry_Remove(t *testing.T) {
	r := New()
	r.Create("sess-1", "agent-1")
	r.Remove("sess-1")
	_, ok := r.Get("sess-1")
	assert.False(t, ok)
}

func TestRegistry_RemoveForAgent(t *testing.T) {
	r := New()
	r.Create("sess-1", "agent-1")
	r.Create("sess-2", "agent-1")
	r.Create("sess-3", "agent-2")

	r.RemoveForAgent("agent-1")

	_, ok1 := r.Get("sess-1")
	_, ok2 := r.Get("sess-2")
	_, ok3 := r.Get("sess-3")
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3)
}

func TestRegistry_ProtocolSessionIDsForAgent_OnlyUsableWithProtocolID(t *testing.T) {
	r := New()
	r.Create("sess-1", "agent-1")
	r.SetProtocolSessionID("sess-1", "proto-1")
	r.MarkActive("sess-1")

	r.Create("sess-2", "agent-1")
	r.SetProtocolSessionID("sess-2", "proto-2")
	r.MarkActive("sess-2")
	r.MarkEnded("sess-2") // ended: must be excluded

	r.Create("sess-3", "agent-1") // never got a protocol session id: must be excluded

	r.Create("sess-4", "agent-2")
	r.SetProtocolSessionID("sess-4", "proto-4")
	r.MarkActive("sess-4")

	got := r.ProtocolSessionIDsForAgent("agent-1")
	assert.ElementsMatch(t, []string{"proto-1"}, got)
}

func TestRegistry_ProtocolSessionIDsForAgent_EmptyForUnknownAgent(t *testing.T) {
	r := New()
	assert.Empty(t, r.ProtocolSessionIDsForAgent("ghost"))
}

func TestRegistry_CreateOverwritesExisting(t *testing.T) {
	r := New()
	first := r.Create("sess-1", "agent-1")
	r.MarkActive("sess-1")
	second := r.Create("sess-1", "agent-2")

	assert.NotSame(t, first, second)
	info, _ := r.Get("sess-1")
	assert.Equal(t, "agent-2", info.AgentID)
	assert.Equal(t, StateNew, info.State)
}
