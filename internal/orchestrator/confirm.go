package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/infiniact/agent-hub-sub000/internal/acp/client"
	"github.com/infiniact/agent-hub-sub000/internal/store"
	"go.uber.org/zap"
)

// awaitConfirmation parks the run in awaiting_confirmation until the GUI
// calls Confirm, RegenerateAgent, or RegenerateAll, looping back to this same
// wait after a regenerate decision.
func (o *Orchestrator) awaitConfirmation(
	ctx context.Context,
	rs *runState,
	run *store.TaskRun,
	workingDir string,
	setStatus func(store.TaskRunStatus),
	fail func(string),
	hubClient *client.Client,
	hubProtocolID string,
	plan *Plan,
	agentByID map[string]store.Agent,
	outputs map[string]string,
	names map[string]string,
) {
	for {
		setStatus(store.TaskRunAwaitingConfirmation)
		o.publish(run.ID, "orchestration:feedback", map[string]interface{}{"outputs": outputs})

		select {
		case decision := <-rs.confirmCh:
			switch decision.kind {
			case "confirm":
				o.finalize(ctx, run, hubClient, hubProtocolID, setStatus, fail, outputs, names)
				return
			case "regenerate_agent":
				assignment, ok := findAssignment(plan, decision.regenerateID)
				if !ok {
					continue
				}
				o.executeSingle(ctx, run, workingDir, assignment, agentByID, names, outputs)
			case "regenerate_all":
				order, groups := groupBySequence(plan.Assignments)
				o.executeGroups(ctx, run, workingDir, order, groups, agentByID, names, outputs, hubClient, hubProtocolID)
			}
		case <-ctx.Done():
			setStatus(store.TaskRunCancelled)
			return
		}
	}
}

func findAssignment(plan *Plan, agentID string) (PlanAssignment, bool) {
	for _, a := range plan.Assignments {
		if a.AgentID == agentID {
			return a, true
		}
	}
	return PlanAssignment{}, false
}

// finalize asks the hub for a summary, persists it, writes the Markdown
// transcript, and transitions the run to completed.
func (o *Orchestrator) finalize(ctx context.Context, run *store.TaskRun, hubClient *client.Client, hubProtocolID string, setStatus func(store.TaskRunStatus), fail func(string), outputs map[string]string, names map[string]string) {
	var sb strings.Builder
	for agentID, output := range outputs {
		sb.WriteString(dependencyHeader(names[agentID], output))
		sb.WriteString("\n\n")
	}
	summaryPrompt := fmt.Sprintf(summaryPromptTemplate, sb.String())

	started := time.Now()
	summary, err := hubClient.Prompt(ctx, hubProtocolID, summaryPrompt, false)
	if err != nil {
		fail(fmt.Sprintf("requesting summary: %v", err))
		return
	}
	duration := time.Since(started).Milliseconds()

	if err := o.store.FinalizeTaskRun(context.Background(), run.ID, summary, duration, time.Now()); err != nil {
		o.log.Warn("failed to persist task run summary", zap.Error(err))
	}

	assignments, err := o.store.ListAssignments(context.Background(), run.ID)
	if err != nil {
		o.log.Warn("failed to list assignments for summary file", zap.Error(err))
	} else if err := o.writeSummaryFile(run.ID, summary, assignments); err != nil {
		o.log.Warn("failed to write summary file", zap.Error(err))
	}

	run.Status = store.TaskRunCompleted
	o.publish(run.ID, "orchestration:completed", map[string]interface{}{"summary": summary})
}
