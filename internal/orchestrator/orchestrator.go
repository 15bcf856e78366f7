// Package orchestrator runs a Task Run's plan against a workspace's agents:
// it asks the Control Hub for a plan, executes assignments group by group in
// sequence-order, collects outputs, and parks for confirmation before
// finalizing a summary.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infiniact/agent-hub-sub000/internal/acp/jsonrpc"
	"github.com/infiniact/agent-hub-sub000/internal/agentmanager"
	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"github.com/infiniact/agent-hub-sub000/internal/store"
)

// confirmDecision is what the GUI calls back with once a run parks in
// awaiting_confirmation.
type confirmDecision struct {
	kind         string // "confirm", "regenerate_agent", "regenerate_all"
	regenerateID string
}

// runState tracks one in-flight orchestration.
type runState struct {
	runID      string
	workspace  string
	cancel     context.CancelFunc
	cancelled  bool
	mu         sync.Mutex
	confirmCh  chan confirmDecision
	pendingPerm map[string]chan jsonrpc.PermissionOutcome // key: toolCallID
}

// Orchestrator runs the Task Run state machine described in §4.F.
type Orchestrator struct {
	store   *store.Repository
	agents  *agentmanager.Manager
	bus     bus.EventBus
	log     *logger.Logger
	homeDir string

	mu         sync.Mutex
	active     map[string]*runState // workspaceID -> run
	byRunID    map[string]*runState
	sessionRun map[string]string // protocolSessionID -> runID, for permission routing
}

// New constructs an Orchestrator. homeDir is "<home>/.iaagenthub".
func New(repo *store.Repository, agents *agentmanager.Manager, evt bus.EventBus, log *logger.Logger, homeDir string) *Orchestrator {
	return &Orchestrator{
		store:      repo,
		agents:     agents,
		bus:        evt,
		log:        log,
		homeDir:    homeDir,
		active:     make(map[string]*runState),
		byRunID:    make(map[string]*runState),
		sessionRun: make(map[string]string),
	}
}

// PermissionHandler is installed on every agentmanager.Manager Client to
// forward session/requestPermission to whichever run owns the session.
func (o *Orchestrator) PermissionHandler(ctx context.Context, params jsonrpc.RequestPermissionParams) (jsonrpc.PermissionOutcome, error) {
	o.mu.Lock()
	runID, ok := o.sessionRun[params.SessionID]
	var rs *runState
	if ok {
		rs = o.byRunID[runID]
	}
	o.mu.Unlock()

	if rs == nil {
		return jsonrpc.PermissionOutcome{Outcome: "cancelled"}, nil
	}

	ch := make(chan jsonrpc.PermissionOutcome, 1)
	rs.mu.Lock()
	rs.pendingPerm[params.ToolCall.ToolCallID] = ch
	rs.mu.Unlock()

	o.publish(runID, "orchestration:permission_request", map[string]interface{}{
		"task_run_id":  runID,
		"tool_call_id": params.ToolCall.ToolCallID,
		"tool_call":    params.ToolCall,
		"options":      params.Options,
	})

	select {
	case outcome := <-ch:
		return outcome, nil
	case <-ctx.Done():
		return jsonrpc.PermissionOutcome{Outcome: "cancelled"}, ctx.Err()
	}
}

// Owns reports whether protocolSessionID belongs to an in-flight
// orchestration run, for the command surface's permission-handler routing
// between orchestration-owned sessions and directly opened ACP sessions.
func (o *Orchestrator) Owns(protocolSessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sessionRun[protocolSessionID]
	return ok
}

// RespondPermission resolves a pending permission request registered under
// (taskRunID, toolCallID).
func (o *Orchestrator) RespondPermission(taskRunID, toolCallID, optionID, userMessage string) error {
	o.mu.Lock()
	rs, ok := o.byRunID[taskRunID]
	o.mu.Unlock()
	if !ok {
		return apperr.NotFound(fmt.Sprintf("no active run %s", taskRunID))
	}

	rs.mu.Lock()
	ch, ok := rs.pendingPerm[toolCallID]
	if ok {
		delete(rs.pendingPerm, toolCallID)
	}
	rs.mu.Unlock()
	if !ok {
		return apperr.NotFound(fmt.Sprintf("no pending permission request %s for run %s", toolCallID, taskRunID))
	}

	ch <- jsonrpc.PermissionOutcome{Outcome: "selected", OptionID: optionID, UserMessage: userMessage}
	return nil
}

func (o *Orchestrator) publish(runID, name string, payload map[string]interface{}) {
	if o.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["task_run_id"] = runID
	o.bus.Publish(context.Background(), bus.Event{Name: name, Payload: payload})
}

// Start enforces the one-active-orchestration-per-workspace concurrency
// guard, creates the Task Run record, and launches the pipeline in the
// background.
func (o *Orchestrator) Start(ctx context.Context, workspaceID, userPrompt, controlHubID string) (*store.TaskRun, error) {
	o.mu.Lock()
	if _, busy := o.active[workspaceID]; busy {
		o.mu.Unlock()
		return nil, apperr.New(apperr.KindInvalidRequest, "an orchestration is already active in this workspace")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rs := &runState{
		workspace:   workspaceID,
		cancel:      cancel,
		confirmCh:   make(chan confirmDecision, 1),
		pendingPerm: make(map[string]chan jsonrpc.PermissionOutcome),
	}
	o.active[workspaceID] = rs
	o.mu.Unlock()

	now := time.Now()
	run := &store.TaskRun{
		ID:           uuid.NewString(),
		Title:        titleFromPrompt(userPrompt),
		UserPrompt:   userPrompt,
		ControlHubID: controlHubID,
		WorkspaceID:  workspaceID,
		Status:       store.TaskRunPending,
		ScheduleType: "none",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.CreateTaskRun(ctx, run); err != nil {
		o.mu.Lock()
		delete(o.active, workspaceID)
		o.mu.Unlock()
		return nil, err
	}

	rs.runID = run.ID
	o.mu.Lock()
	o.byRunID[run.ID] = rs
	o.mu.Unlock()

	o.publish(run.ID, "orchestration:task_run_created", map[string]interface{}{"status": run.Status})
	go o.runPipeline(runCtx, rs, run)

	return run, nil
}

// Cancel signals a run's cancellation token.
func (o *Orchestrator) Cancel(taskRunID string) error {
	o.mu.Lock()
	rs, ok := o.byRunID[taskRunID]
	o.mu.Unlock()
	if !ok {
		return apperr.NotFound(fmt.Sprintf("no active run %s", taskRunID))
	}
	rs.mu.Lock()
	rs.cancelled = true
	rs.mu.Unlock()
	rs.cancel()
	return nil
}

// Confirm resolves an awaiting_confirmation run with the GUI's approval.
func (o *Orchestrator) Confirm(taskRunID string) error {
	return o.sendDecision(taskRunID, confirmDecision{kind: "confirm"})
}

// RegenerateAgent re-executes a single assignment of an awaiting_confirmation
// run, or every assignment when agentID is "__all__".
func (o *Orchestrator) RegenerateAgent(taskRunID, agentID string) error {
	if agentID == "__all__" {
		return o.sendDecision(taskRunID, confirmDecision{kind: "regenerate_all"})
	}
	return o.sendDecision(taskRunID, confirmDecision{kind: "regenerate_agent", regenerateID: agentID})
}

func (o *Orchestrator) sendDecision(taskRunID string, d confirmDecision) error {
	o.mu.Lock()
	rs, ok := o.byRunID[taskRunID]
	o.mu.Unlock()
	if !ok {
		return apperr.NotFound(fmt.Sprintf("no active run %s", taskRunID))
	}
	select {
	case rs.confirmCh <- d:
		return nil
	default:
		return apperr.New(apperr.KindInvalidRequest, "run is not awaiting a decision")
	}
}

func (o *Orchestrator) finishRun(rs *runState) {
	o.mu.Lock()
	delete(o.active, rs.workspace)
	delete(o.byRunID, rs.runID)
	for sessionID, runID := range o.sessionRun {
		if runID == rs.runID {
			delete(o.sessionRun, sessionID)
		}
	}
	o.mu.Unlock()
}

func titleFromPrompt(prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) > 80 {
		return trimmed[:80] + "..."
	}
	if trimmed == "" {
		return "Untitled orchestration"
	}
	return trimmed
}

// writeSummaryFile writes the human-readable Markdown transcript under
// <home>/.iaagenthub/output/<run_id>/summary.md.
func (o *Orchestrator) writeSummaryFile(runID, summary string, assignments []store.TaskAssignment) error {
	dir := filepath.Join(o.homeDir, "output", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("# Orchestration Summary\n\n")
	sb.WriteString(summary)
	sb.WriteString("\n\n## Assignments\n\n")
	for _, a := range assignments {
		sb.WriteString(fmt.Sprintf("### %s (%s)\n\n%s\n\n", a.AgentName, a.Status, a.OutputText))
	}

	return os.WriteFile(filepath.Join(dir, "summary.md"), []byte(sb.String()), 0o644)
}
