package store

import (
	"context"
	"fmt"
	"time"

	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
)

// CreateTaskRun inserts a new Task Run.
func (r *Repository) CreateTaskRun(ctx context.Context, t *TaskRun) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO task_runs (
				id, title, user_prompt, control_hub_agent_id, workspace_id, status,
				plan, summary, tokens_in, tokens_out, cache_read, cache_create,
				duration_millis, schedule_type, next_run_at, is_paused, rating,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.UserPrompt, t.ControlHubID, t.WorkspaceID, t.Status,
			t.Plan, t.Summary, t.TokensIn, t.TokensOut, t.CacheRead, t.CacheCreate,
			t.DurationMillis, t.ScheduleType, t.NextRunAt, t.IsPaused, t.Rating,
			t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "creating task run", err)
		}
		return nil
	})
}

// GetTaskRun fetches a Task Run by id.
func (r *Repository) GetTaskRun(ctx context.Context, id string) (*TaskRun, error) {
	var t TaskRun
	err := r.reader.GetContext(ctx, &t, `SELECT * FROM task_runs WHERE id = ?`, id)
	if err := mapNoRows(err, fmt.Sprintf("task run %s not found", id)); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTaskRunStatus transitions a Task Run's status.
func (r *Repository) UpdateTaskRunStatus(ctx context.Context, id string, status TaskRunStatus, updatedAt time.Time) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx,
			`UPDATE task_runs SET status = ?, updated_at = ? WHERE id = ?`, status, updatedAt, id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "updating task run status", err)
		}
		return nil
	})
}

// UpdateTaskRunPrompt overwrites a Task Run's user_prompt and status, for the
// chat-bridge driver's persistent per-tool run reused across message batches.
func (r *Repository) UpdateTaskRunPrompt(ctx context.Context, id, prompt string, status TaskRunStatus, updatedAt time.Time) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx,
			`UPDATE task_runs SET user_prompt = ?, status = ?, updated_at = ? WHERE id = ?`,
			prompt, status, updatedAt, id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "updating task run prompt", err)
		}
		return nil
	})
}

// SetTaskRunPlan persists the extracted plan and moves status to running.
func (r *Repository) SetTaskRunPlan(ctx context.Context, id, plan string, updatedAt time.Time) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx,
			`UPDATE task_runs SET plan = ?, status = ?, updated_at = ? WHERE id = ?`,
			plan, TaskRunRunning, updatedAt, id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "setting task run plan", err)
		}
		return nil
	})
}

// FinalizeTaskRun persists a completed run's summary and totals.
func (r *Repository) FinalizeTaskRun(ctx context.Context, id, summary string, durationMillis int64, updatedAt time.Time) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			UPDATE task_runs SET summary = ?, status = ?, duration_millis = ?, updated_at = ?
			WHERE id = ?`,
			summary, TaskRunCompleted, durationMillis, updatedAt, id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "finalizing task run", err)
		}
		return nil
	})
}

// ListDueTaskRuns returns schedulable runs whose next_run_at has passed and
// that are not paused — the scheduler's due-set query.
func (r *Repository) ListDueTaskRuns(ctx context.Context, now time.Time) ([]TaskRun, error) {
	var out []TaskRun
	err := r.reader.SelectContext(ctx, &out, `
		SELECT * FROM task_runs
		WHERE next_run_at IS NOT NULL AND next_run_at <= ? AND is_paused = 0
		ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "listing due task runs", err)
	}
	return out, nil
}

// SetTaskRunNextRunAt persists the scheduler's computed next fire time, or
// clears it for one-shot schedules.
func (r *Repository) SetTaskRunNextRunAt(ctx context.Context, id string, next *time.Time) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx,
			`UPDATE task_runs SET next_run_at = ? WHERE id = ?`, next, id)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "setting next_run_at", err)
		}
		return nil
	})
}

// CreateAssignment inserts a new Task Assignment.
func (r *Repository) CreateAssignment(ctx context.Context, a *TaskAssignment) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO task_assignments (
				id, run_id, agent_id, agent_name, sequence_order, depends_on,
				input_text, output_text, status, model, tokens_in, tokens_out,
				duration_millis, error_message, started_at, completed_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.RunID, a.AgentID, a.AgentName, a.SequenceOrder, a.DependsOn,
			a.InputText, a.OutputText, a.Status, a.Model, a.TokensIn, a.TokensOut,
			a.DurationMillis, a.ErrorMessage, a.StartedAt, a.CompletedAt, a.CreatedAt)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "creating task assignment", err)
		}
		return nil
	})
}

// UpdateAssignment persists an assignment's mutable progress fields.
func (r *Repository) UpdateAssignment(ctx context.Context, a *TaskAssignment) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			UPDATE task_assignments SET
				output_text = ?, status = ?, model = ?, tokens_in = ?, tokens_out = ?,
				duration_millis = ?, error_message = ?, started_at = ?, completed_at = ?
			WHERE id = ?`,
			a.OutputText, a.Status, a.Model, a.TokensIn, a.TokensOut,
			a.DurationMillis, a.ErrorMessage, a.StartedAt, a.CompletedAt, a.ID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "updating task assignment", err)
		}
		return nil
	})
}

// ListAssignments returns every assignment for a run, ordered by sequence then creation.
func (r *Repository) ListAssignments(ctx context.Context, runID string) ([]TaskAssignment, error) {
	var out []TaskAssignment
	err := r.reader.SelectContext(ctx, &out,
		`SELECT * FROM task_assignments WHERE run_id = ? ORDER BY sequence_order ASC, created_at ASC`, runID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "listing task assignments", err)
	}
	return out, nil
}

// UpsertSchedule creates or overwrites a Task Run's Schedule.
func (r *Repository) UpsertSchedule(ctx context.Context, s *Schedule) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO schedules (
				run_id, schedule_type, once_at, frequency, time_of_day, interval,
				days_of_week, day_of_month, month, next_run_at, is_paused
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				schedule_type = excluded.schedule_type,
				once_at = excluded.once_at,
				frequency = excluded.frequency,
				time_of_day = excluded.time_of_day,
				interval = excluded.interval,
				days_of_week = excluded.days_of_week,
				day_of_month = excluded.day_of_month,
				month = excluded.month,
				next_run_at = excluded.next_run_at,
				is_paused = excluded.is_paused`,
			s.RunID, s.ScheduleType, s.OnceAt, s.Frequency, s.TimeOfDay, s.Interval,
			s.DaysOfWeek, s.DayOfMonth, s.Month, s.NextRunAt, s.IsPaused)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "upserting schedule", err)
		}
		return nil
	})
}

// GetSchedule fetches a Task Run's Schedule.
func (r *Repository) GetSchedule(ctx context.Context, runID string) (*Schedule, error) {
	var s Schedule
	err := r.reader.GetContext(ctx, &s, `SELECT * FROM schedules WHERE run_id = ?`, runID)
	if err := mapNoRows(err, fmt.Sprintf("schedule for run %s not found", runID)); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSchedulePaused toggles a Schedule's pause flag.
func (r *Repository) SetSchedulePaused(ctx context.Context, runID string, paused bool) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx,
			`UPDATE schedules SET is_paused = ? WHERE run_id = ?`, paused, runID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "setting schedule pause state", err)
		}
		_, err = r.writer.ExecContext(ctx,
			`UPDATE task_runs SET is_paused = ? WHERE id = ?`, paused, runID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "setting task run pause state", err)
		}
		return nil
	})
}

// ClearSchedule removes a Task Run's Schedule (used for one-shot runs after firing).
func (r *Repository) ClearSchedule(ctx context.Context, runID string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `DELETE FROM schedules WHERE run_id = ?`, runID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "clearing schedule", err)
		}
		_, err = r.writer.ExecContext(ctx,
			`UPDATE task_runs SET schedule_type = 'none', next_run_at = NULL WHERE id = ?`, runID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "clearing task run schedule fields", err)
		}
		return nil
	})
}
