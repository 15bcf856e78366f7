package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dbpkg "github.com/infiniact/agent-hub-sub000/internal/common/db"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	handle, err := dbpkg.Open(path, 5*time.Second, 2)
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })

	repo, err := New(handle)
	require.NoError(t, err)
	return repo
}

func TestRepository_WorkspaceCRUD(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	ws := &Workspace{ID: "ws-1", Name: "Default", WorkingDir: "/tmp/ws-1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreateWorkspace(ctx, ws))

	got, err := repo.GetWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, "Default", got.Name)

	all, err := repo.ListWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRepository_GetWorkspace_NotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetWorkspace(context.Background(), "missing")
	require.Error(t, err)
}

func TestRepository_AgentControlHubAssignment(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.CreateWorkspace(ctx, &Workspace{ID: "ws-1", Name: "Default", WorkingDir: "/tmp", CreatedAt: now, UpdatedAt: now}))

	a1 := &Agent{ID: "a1", WorkspaceID: "ws-1", DisplayName: "Hub", Command: "claude", CreatedAt: now, UpdatedAt: now}
	a2 := &Agent{ID: "a2", WorkspaceID: "ws-1", DisplayName: "Worker", Command: "goose", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreateAgent(ctx, a1))
	require.NoError(t, repo.CreateAgent(ctx, a2))

	require.NoError(t, repo.SetControlHub(ctx, "ws-1", "a1"))

	hub, err := repo.GetControlHub(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, "a1", hub.ID)
	require.True(t, hub.IsControlHub)

	// Reassigning the control hub clears the previous one.
	require.NoError(t, repo.SetControlHub(ctx, "ws-1", "a2"))
	hub2, err := repo.GetControlHub(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, "a2", hub2.ID)

	listed, err := repo.ListAgents(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

func TestRepository_TaskRunPromptOverwrite(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.CreateWorkspace(ctx, &Workspace{ID: "ws-1", Name: "Default", WorkingDir: "/tmp", CreatedAt: now, UpdatedAt: now}))

	run := &TaskRun{
		ID:           "run-1",
		Title:        "Chat: wa-bridge",
		UserPrompt:   "first batch",
		WorkspaceID:  "ws-1",
		Status:       TaskRunRunning,
		ScheduleType: "none",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.CreateTaskRun(ctx, run))

	require.NoError(t, repo.UpdateTaskRunPrompt(ctx, "run-1", "second batch merged", TaskRunCompleted, time.Now()))

	got, err := repo.GetTaskRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "second batch merged", got.UserPrompt)
	require.Equal(t, TaskRunCompleted, got.Status)
}
