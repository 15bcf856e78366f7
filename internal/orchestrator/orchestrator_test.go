package orchestrator

import (
	"context"
	"os"
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

func newTestOrchestrator(t *testing.T) *Orchestrator {
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
	agents := agentmanager.New(session.New(), prov, repo, bus.NewMemoryBus(), logger.Default(), nil)

	return New(repo, agents, bus.NewMemoryBus(), logger.Default(), t.TempDir())
}

func TestTitleFromPrompt(t *testing.T) {
	assert.Equal(t, "Untitled orchestration", titleFromPrompt("   "))
	assert.Equal(t, "hello world", titleFromPrompt("  hello world  "))

	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	got := titleFromPrompt(long)
	assert.True(t, len(got) == 83)
	assert.Contains(t, got, "...")
}

func TestOwns_FalseWhenSessionNotTracked(t *testing.T) {
	o := newTestOrchestrator(t)
	assert.False(t, o.Owns("unknown-session"))
}

func TestPermissionHandler_NoOwningRunReturnsCancelled(t *testing.T) {
	o := newTestOrchestrator(t)
	outcome, err := o.PermissionHandler(context.Background(), jsonrpc.RequestPermissionParams{SessionID: "nope"})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", outcome.Outcome)
}

func TestCancel_NotFoundForUnknownRun(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.Cancel("missing-run")
	assert.Error(t, err)
}

func TestConfirm_NotFoundForUnknownRun(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.Confirm("missing-run")
	assert.Error(t, err)
}

func TestRegenerateAgent_NotFoundForUnknownRun(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.RegenerateAgent("missing-run", "agent-1")
	assert.Error(t, err)
}

func TestRespondPermission_NotFoundForUnknownRun(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.RespondPermission("missing-run", "tc-1", "opt-1", "")
	assert.Error(t, err)
}

func TestStart_EnforcesOneActiveRunPerWorkspace(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	run, err := o.Start(ctx, "ws-1", "do the thing", "hub-agent")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	_, err = o.Start(ctx, "ws-1", "do another thing", "hub-agent")
	assert.Error(t, err, "a second concurrent run in the same workspace must be rejected")

	// A different workspace is unaffected by the guard.
	run2, err := o.Start(ctx, "ws-2", "unrelated", "hub-agent")
	require.NoError(t, err)
	assert.NotEqual(t, run.ID, run2.ID)

	// Let the background pipelines fail out (no such workspace/agent rows
	// exist) and release their workspace slots before the test ends.
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		_, busy1 := o.active["ws-1"]
		_, busy2 := o.active["ws-2"]
		return !busy1 && !busy2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWriteSummaryFile_WritesMarkdownTranscript(t *testing.T) {
	o := newTestOrchestrator(t)

	assignments := []store.TaskAssignment{
		{AgentName: "Researcher", Status: "completed", OutputText: "found three leads"},
	}
	require.NoError(t, o.writeSummaryFile("run-xyz", "overall summary text", assignments))

	data, err := os.ReadFile(filepath.Join(o.homeDir, "output", "run-xyz", "summary.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "overall summary text")
	assert.Contains(t, content, "Researcher")
	assert.Contains(t, content, "found three leads")
}
