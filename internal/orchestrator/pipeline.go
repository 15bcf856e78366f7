package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/infiniact/agent-hub-sub000/internal/acp/client"
	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/store"
	"go.uber.org/zap"
)

const planningPromptTemplate = `You are the Control Hub coordinating a team of agents. Given the user's request and the catalog of available agents below, produce a plan.

User request:
%s

Agent catalog:
%s

Reply with a single JSON object of the form:
{"analysis": "...", "assignments": [{"agent_id": "...", "task_description": "...", "sequence_order": 0, "depends_on": []}]}`

const feedbackPromptTemplate = `Here are the results collected so far:

%s

Are these results satisfactory?`

const summaryPromptTemplate = `Summarize the outcome of this orchestration run in a few sentences, given the following assignment outputs:

%s`

func (o *Orchestrator) runPipeline(ctx context.Context, rs *runState, run *store.TaskRun) {
	defer o.finishRun(rs)

	setStatus := func(status store.TaskRunStatus) {
		run.Status = status
		run.UpdatedAt = time.Now()
		if err := o.store.UpdateTaskRunStatus(context.Background(), run.ID, status, run.UpdatedAt); err != nil {
			o.log.Warn("failed to persist task run status", zap.Error(err), zap.String("run_id", run.ID))
		}
		o.publish(run.ID, "orchestration:task_run_updated", map[string]interface{}{"status": status})
	}

	fail := func(reason string) {
		setStatus(store.TaskRunFailed)
		o.publish(run.ID, "orchestration:error", map[string]interface{}{"error": reason})
	}

	workspace, err := o.store.GetWorkspace(context.Background(), run.WorkspaceID)
	if err != nil {
		fail(fmt.Sprintf("loading workspace: %v", err))
		return
	}

	hubAgent, err := o.store.GetAgent(context.Background(), run.ControlHubID)
	if err != nil {
		fail(fmt.Sprintf("loading control hub: %v", err))
		return
	}

	// pending -> analyzing
	setStatus(store.TaskRunAnalyzing)
	o.publish(run.ID, "orchestration:started", nil)

	hubClient, err := o.agents.EnsureRunning(ctx, *hubAgent, workspace.WorkingDir)
	if err != nil {
		fail(fmt.Sprintf("starting control hub: %v", err))
		return
	}

	hubSessionKey := session.OrchKey(hubAgent.ID)
	hubProtocolID, err := hubClient.EnsureSession(ctx, hubSessionKey, hubAgent.ID, workspace.WorkingDir)
	if err != nil {
		fail(fmt.Sprintf("opening control hub session: %v", err))
		return
	}
	o.trackSession(run.ID, hubProtocolID)

	if ctx.Err() != nil {
		o.cancelRun(setStatus)
		return
	}

	// analyzing -> planning
	setStatus(store.TaskRunPlanning)

	agents, err := o.store.ListAgents(context.Background(), run.WorkspaceID)
	if err != nil {
		fail(fmt.Sprintf("listing agents: %v", err))
		return
	}
	catalog := buildCatalog(agents)
	planningPrompt := fmt.Sprintf(planningPromptTemplate, run.UserPrompt, catalog)

	planText, err := hubClient.Prompt(ctx, hubProtocolID, planningPrompt, false)
	if err != nil {
		fail(fmt.Sprintf("requesting plan: %v", err))
		return
	}

	plan, err := parsePlan(planText)
	if err != nil {
		fail(fmt.Sprintf("parsing plan: %v", err))
		return
	}

	// planning -> running
	planJSON := planText
	if err := o.store.SetTaskRunPlan(context.Background(), run.ID, planJSON, time.Now()); err != nil {
		o.log.Warn("failed to persist plan", zap.Error(err))
	}
	run.Status = store.TaskRunRunning
	o.publish(run.ID, "orchestration:plan_ready", map[string]interface{}{"analysis": plan.Analysis, "assignments": plan.Assignments})

	outputs := make(map[string]string)
	names := make(map[string]string)
	for _, a := range agents {
		names[a.ID] = a.DisplayName
	}

	order, groups := groupBySequence(plan.Assignments)
	agentByID := make(map[string]store.Agent, len(agents))
	for _, a := range agents {
		agentByID[a.ID] = a
	}

	cancelled := o.executeGroups(ctx, run, workspace.WorkingDir, order, groups, agentByID, names, outputs, hubClient, hubProtocolID)
	if cancelled || ctx.Err() != nil {
		o.cancelRun(setStatus)
		return
	}

	// running -> awaiting_confirmation
	o.awaitConfirmation(ctx, rs, run, workspace.WorkingDir, setStatus, fail, hubClient, hubProtocolID, plan, agentByID, outputs, names)
}

// executeGroups runs every assignment of order/groups in ascending
// sequence-order, sequentially within each group, sending a feedback prompt
// to the hub after each group. It returns true if cancellation was observed
// mid-run.
func (o *Orchestrator) executeGroups(ctx context.Context, run *store.TaskRun, workingDir string, order []int, groups map[int][]PlanAssignment, agentByID map[string]store.Agent, names map[string]string, outputs map[string]string, hubClient *client.Client, hubProtocolID string) bool {
	cancelledMidRun := false

groupLoop:
	for _, seq := range order {
		for _, assignment := range groups[seq] {
			if ctx.Err() != nil {
				cancelledMidRun = true
				break groupLoop
			}

			target, ok := agentByID[assignment.AgentID]
			if !ok {
				o.recordAssignmentFailure(run.ID, assignment, fmt.Sprintf("unknown agent %s", assignment.AgentID))
				continue
			}

			input := buildAssignmentInput(assignment, outputs, names)
			assignmentRow := &store.TaskAssignment{
				ID:            uuid.NewString(),
				RunID:         run.ID,
				AgentID:       assignment.AgentID,
				AgentName:     target.DisplayName,
				SequenceOrder: assignment.SequenceOrder,
				DependsOn:     store.TagSet(assignment.DependsOn),
				InputText:     input,
				Status:        store.AssignmentRunning,
				CreatedAt:     time.Now(),
			}
			startedAt := time.Now()
			assignmentRow.StartedAt = &startedAt
			if err := o.store.CreateAssignment(context.Background(), assignmentRow); err != nil {
				o.log.Warn("failed to persist assignment", zap.Error(err))
			}
			o.publish(run.ID, "orchestration:agent_started", map[string]interface{}{"agent_id": assignment.AgentID, "agent_name": target.DisplayName})

			if ctx.Err() != nil {
				assignmentRow.Status = store.AssignmentSkipped
				_ = o.store.UpdateAssignment(context.Background(), assignmentRow)
				cancelledMidRun = true
				break groupLoop
			}

			targetClient, err := o.agents.EnsureRunning(ctx, target, workingDir)
			if err != nil {
				o.finishAssignment(run.ID, assignmentRow, "", err)
				continue
			}

			protocolID, err := targetClient.EnsureSession(ctx, session.OrchKey(target.ID), target.ID, workingDir)
			if err != nil {
				o.finishAssignment(run.ID, assignmentRow, "", err)
				continue
			}
			o.trackSession(run.ID, protocolID)

			output, err := targetClient.Prompt(ctx, protocolID, input, false)
			if err != nil {
				o.finishAssignment(run.ID, assignmentRow, output, err)
				continue
			}

			outputs[assignment.AgentID] = output
			o.finishAssignment(run.ID, assignmentRow, output, nil)
		}

		if cancelledMidRun {
			break
		}

		o.sendFeedback(ctx, hubClient, hubProtocolID, outputs, names)
	}

	return cancelledMidRun
}

// executeSingle re-runs one assignment in isolation, used by RegenerateAgent.
func (o *Orchestrator) executeSingle(ctx context.Context, run *store.TaskRun, workingDir string, assignment PlanAssignment, agentByID map[string]store.Agent, names map[string]string, outputs map[string]string) {
	target, ok := agentByID[assignment.AgentID]
	if !ok {
		return
	}

	input := buildAssignmentInput(assignment, outputs, names)
	assignmentRow := &store.TaskAssignment{
		ID:            uuid.NewString(),
		RunID:         run.ID,
		AgentID:       assignment.AgentID,
		AgentName:     target.DisplayName,
		SequenceOrder: assignment.SequenceOrder,
		DependsOn:     store.TagSet(assignment.DependsOn),
		InputText:     input,
		Status:        store.AssignmentRunning,
		CreatedAt:     time.Now(),
	}
	startedAt := time.Now()
	assignmentRow.StartedAt = &startedAt
	if err := o.store.CreateAssignment(context.Background(), assignmentRow); err != nil {
		o.log.Warn("failed to persist regenerated assignment", zap.Error(err))
	}
	o.publish(run.ID, "orchestration:agent_started", map[string]interface{}{"agent_id": assignment.AgentID, "agent_name": target.DisplayName})

	targetClient, err := o.agents.EnsureRunning(ctx, target, workingDir)
	if err != nil {
		o.finishAssignment(run.ID, assignmentRow, "", err)
		return
	}
	protocolID, err := targetClient.EnsureSession(ctx, session.OrchKey(target.ID), target.ID, workingDir)
	if err != nil {
		o.finishAssignment(run.ID, assignmentRow, "", err)
		return
	}
	o.trackSession(run.ID, protocolID)

	output, err := targetClient.Prompt(ctx, protocolID, input, false)
	if err != nil {
		o.finishAssignment(run.ID, assignmentRow, output, err)
		return
	}
	outputs[assignment.AgentID] = output
	o.finishAssignment(run.ID, assignmentRow, output, nil)
}

func (o *Orchestrator) cancelRun(setStatus func(store.TaskRunStatus)) {
	setStatus(store.TaskRunCancelled)
}

func (o *Orchestrator) trackSession(runID, protocolSessionID string) {
	o.mu.Lock()
	o.sessionRun[protocolSessionID] = runID
	o.mu.Unlock()
}

func (o *Orchestrator) recordAssignmentFailure(runID string, assignment PlanAssignment, reason string) {
	o.publish(runID, "orchestration:agent_completed", map[string]interface{}{
		"agent_id": assignment.AgentID, "status": store.AssignmentFailed, "error": reason,
	})
}

func (o *Orchestrator) finishAssignment(runID string, row *store.TaskAssignment, output string, err error) {
	completedAt := time.Now()
	row.CompletedAt = &completedAt
	if row.StartedAt != nil {
		row.DurationMillis = completedAt.Sub(*row.StartedAt).Milliseconds()
	}
	if err != nil {
		row.Status = store.AssignmentFailed
		row.ErrorMessage = err.Error()
	} else {
		row.Status = store.AssignmentCompleted
		row.OutputText = output
	}
	if updateErr := o.store.UpdateAssignment(context.Background(), row); updateErr != nil {
		o.log.Warn("failed to persist assignment result", zap.Error(updateErr))
	}
	o.publish(runID, "orchestration:agent_completed", map[string]interface{}{
		"agent_id": row.AgentID, "status": row.Status, "error": row.ErrorMessage,
	})
}

func (o *Orchestrator) sendFeedback(ctx context.Context, hubClient *client.Client, hubProtocolID string, outputs map[string]string, names map[string]string) {
	var sb strings.Builder
	for agentID, output := range outputs {
		sb.WriteString(dependencyHeader(names[agentID], output))
		sb.WriteString("\n\n")
	}
	prompt := fmt.Sprintf(feedbackPromptTemplate, sb.String())

	if _, err := hubClient.Prompt(ctx, hubProtocolID, prompt, false); err != nil {
		o.log.Debug("feedback prompt failed, ignoring", zap.Error(err))
	}
}

func buildAssignmentInput(assignment PlanAssignment, outputs map[string]string, names map[string]string) string {
	var sb strings.Builder
	sb.WriteString(assignment.TaskDescription)
	for _, depID := range assignment.DependsOn {
		output, ok := outputs[depID]
		if !ok {
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(dependencyHeader(names[depID], output))
	}
	return sb.String()
}

func buildCatalog(agents []store.Agent) string {
	var sb strings.Builder
	for _, a := range agents {
		if !a.IsEnabled {
			continue
		}
		sb.WriteString(fmt.Sprintf("- id=%s name=%q description=%q model=%q capabilities=%v skills=%v\n",
			a.ID, a.DisplayName, a.Description, a.ModelName, []string(a.Capabilities), []string(a.Skills)))
	}
	return sb.String()
}
