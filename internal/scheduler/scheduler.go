// Package scheduler wakes periodically to re-invoke orchestrations whose Task
// Run carries a due recurrence, then computes and persists the next
// next_run_at per the stored recurrence pattern.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/store"
)

// TickInterval is how often the scheduler polls for due task runs.
const TickInterval = 60 * time.Second

// Orchestrator is the subset of orchestrator.Orchestrator the scheduler
// needs, kept narrow so this package doesn't import the orchestrator
// package directly (it is wired the other way around in cmd/agenthub).
type Orchestrator interface {
	Start(ctx context.Context, workspaceID, userPrompt, controlHubID string) (*store.TaskRun, error)
}

// Scheduler polls the store for due recurring Task Runs and re-invokes the
// orchestrator for each.
type Scheduler struct {
	store *store.Repository
	orch  Orchestrator
	log   *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Scheduler.
func New(repo *store.Repository, orch Orchestrator, log *logger.Logger) *Scheduler {
	return &Scheduler{
		store: repo,
		orch:  orch,
		log:   log.With(zap.String("component", "scheduler")),
	}
}

// Start begins the 60s polling loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the polling loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one polling pass: every due, unpaused Task Run is reset to
// pending, re-invoked, and rescheduled.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.ListDueTaskRuns(ctx, time.Now())
	if err != nil {
		s.log.Error("failed to list due task runs", zap.Error(err))
		return
	}

	for _, run := range due {
		s.runDue(ctx, run)
	}
}

func (s *Scheduler) runDue(ctx context.Context, run store.TaskRun) {
	if err := s.store.UpdateTaskRunStatus(ctx, run.ID, store.TaskRunPending, time.Now()); err != nil {
		s.log.Error("failed to reset due task run to pending", zap.String("run_id", run.ID), zap.Error(err))
		return
	}

	if _, err := s.orch.Start(ctx, run.WorkspaceID, run.UserPrompt, run.ControlHubID); err != nil {
		s.log.Error("failed to invoke orchestrator for scheduled run", zap.String("run_id", run.ID), zap.Error(err))
	}

	sched, err := s.store.GetSchedule(ctx, run.ID)
	if err != nil {
		s.log.Warn("due task run has no schedule row", zap.String("run_id", run.ID), zap.Error(err))
		return
	}

	if sched.ScheduleType == "once" {
		if err := s.store.ClearSchedule(ctx, run.ID); err != nil {
			s.log.Error("failed to clear one-shot schedule", zap.String("run_id", run.ID), zap.Error(err))
		}
		return
	}

	next, err := nextRunAt(*sched, time.Now())
	if err != nil {
		s.log.Error("failed to compute next run time", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	if err := s.store.SetTaskRunNextRunAt(ctx, run.ID, &next); err != nil {
		s.log.Error("failed to persist next run time", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// nextRunAt computes the next occurrence strictly after `from`, in the host
// time zone, for the given recurrence.
func nextRunAt(sched store.Schedule, from time.Time) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(sched.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	interval := sched.Interval
	if interval <= 0 {
		interval = 1
	}

	switch sched.Frequency {
	case store.FrequencyDaily:
		return nextDaily(from, hour, minute, interval), nil
	case store.FrequencyWeekly:
		return nextWeekly(from, hour, minute, interval, sched.DaysOfWeek), nil
	case store.FrequencyMonthly:
		return nextMonthly(from, hour, minute, interval, sched.DayOfMonth), nil
	case store.FrequencyYearly:
		return nextYearly(from, hour, minute, sched.Month, sched.DayOfMonth), nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence frequency %q", sched.Frequency)
	}
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	if s == "" {
		return 0, 0, nil
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("parsing time_of_day %q: %w", s, err)
	}
	return hour, minute, nil
}

func atTimeOfDay(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

func nextDaily(from time.Time, hour, minute, interval int) time.Time {
	candidate := atTimeOfDay(from, hour, minute)
	if !candidate.After(from) {
		candidate = candidate.AddDate(0, 0, interval)
	}
	return candidate
}

func nextWeekly(from time.Time, hour, minute, interval int, days []string) time.Time {
	candidate := atTimeOfDay(from, hour, minute)
	allowed := weekdaySet(days)

	if len(allowed) == 0 {
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 0, 7*interval)
		}
		return candidate
	}

	for i := 0; i < 7*interval+7; i++ {
		day := candidate.AddDate(0, 0, i)
		if allowed[day.Weekday()] && day.After(from) {
			return day
		}
	}
	return candidate.AddDate(0, 0, 7*interval)
}

func weekdaySet(days []string) map[time.Weekday]bool {
	names := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
		"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	}
	out := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if wd, ok := names[d]; ok {
			out[wd] = true
		}
	}
	return out
}

func nextMonthly(from time.Time, hour, minute, interval, dayOfMonth int) time.Time {
	if dayOfMonth <= 0 {
		dayOfMonth = from.Day()
	}
	candidate := time.Date(from.Year(), from.Month(), dayOfMonth, hour, minute, 0, 0, from.Location())
	if !candidate.After(from) {
		candidate = time.Date(candidate.Year(), candidate.Month()+time.Month(interval), dayOfMonth, hour, minute, 0, 0, candidate.Location())
	}
	return candidate
}

func nextYearly(from time.Time, hour, minute, month, dayOfMonth int) time.Time {
	if month <= 0 {
		month = int(from.Month())
	}
	if dayOfMonth <= 0 {
		dayOfMonth = from.Day()
	}
	candidate := time.Date(from.Year(), time.Month(month), dayOfMonth, hour, minute, 0, 0, from.Location())
	if !candidate.After(from) {
		candidate = time.Date(candidate.Year()+1, time.Month(month), dayOfMonth, hour, minute, 0, 0, candidate.Location())
	}
	return candidate
}
