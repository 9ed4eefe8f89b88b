package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/dispatch"
	"github.com/mtzanidakis/nimbus/internal/natsbus"
	"github.com/mtzanidakis/nimbus/internal/schedule"
	"github.com/mtzanidakis/nimbus/internal/store"
)

// Executor runs a directive to completion. *dispatch.Dispatcher satisfies
// it.
type Executor interface {
	Execute(ctx context.Context, directive string, agentIDs []string) (dispatch.RunState, error)
}

// Notifier delivers the outcome of a scheduled run to an operator chat.
type Notifier interface {
	NotifyRun(ctx context.Context, chatID int64, title string, run dispatch.RunState) error
}

type Scheduler struct {
	store    *store.Store
	exec     Executor
	events   dispatch.EventPublisher
	notifier Notifier

	mu           sync.Mutex
	pollInterval time.Duration
	retention    time.Duration
	mainChatID   int64
	lastPrune    time.Time
	reloadCh     chan struct{}

	now func() time.Time
}

// New creates a scheduler. events may be nil.
func New(s *store.Store, exec Executor, events dispatch.EventPublisher, cfg config.SchedulerConfig, mainChatID int64) *Scheduler {
	return &Scheduler{
		store:        s,
		exec:         exec,
		events:       events,
		pollInterval: cfg.PollInterval,
		retention:    cfg.RunRetention,
		mainChatID:   mainChatID,
		reloadCh:     make(chan struct{}, 1),
		now:          time.Now,
	}
}

func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// UpdateConfig applies a reloaded poll interval, retention and main chat,
// then resets the run loop ticker.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig, mainChatID int64) {
	s.mu.Lock()
	s.pollInterval = cfg.PollInterval
	s.retention = cfg.RunRetention
	s.mainChatID = mainChatID
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		return 30 * time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) chatID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mainChatID
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.RunDue(ctx)
			s.maybePrune()
		}
	}
}

// RunDue executes every schedule that is due and returns how many ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	due, err := s.store.GetDueSchedules(s.now())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return 0
	}
	for _, d := range due {
		if ctx.Err() != nil {
			return 0
		}
		s.execute(ctx, d)
	}
	return len(due)
}

// pruneEvery bounds how often the run archive is trimmed.
const pruneEvery = time.Hour

func (s *Scheduler) maybePrune() {
	s.mu.Lock()
	due := s.now().Sub(s.lastPrune) >= pruneEvery
	s.mu.Unlock()
	if due {
		s.PruneRuns()
	}
}

// PruneRuns deletes archived runs older than the retention window and
// returns how many were removed.
func (s *Scheduler) PruneRuns() int64 {
	s.mu.Lock()
	retention := s.retention
	now := s.now()
	s.lastPrune = now
	s.mu.Unlock()

	if retention <= 0 {
		return 0
	}
	n, err := s.store.PruneRuns(now.Add(-retention))
	if err != nil {
		slog.Error("failed to prune runs", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("pruned archived runs", "count", n, "retention", retention)
	}
	return n
}

func (s *Scheduler) execute(ctx context.Context, d store.ScheduledDirective) {
	slog.Info("executing scheduled directive", "id", d.ID, "name", d.Name, "agents", strings.Join(d.Agents, ","))

	run, err := s.exec.Execute(dispatch.WithSource(ctx, "schedule"), d.Directive, d.Agents)

	lastStatus, lastError := "success", ""
	switch {
	case errors.Is(err, dispatch.ErrSuperseded):
		lastStatus = "superseded"
		slog.Warn("scheduled run superseded by a newer run", "id", d.ID, "run", run.ID)
	case err != nil:
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled directive failed", "id", d.ID, "error", err)
	default:
		if _, failed, _ := run.Counts(); failed > 0 {
			lastStatus = "partial"
			lastError = fmt.Sprintf("%d of %d agents failed", failed, len(run.Agents))
		}
	}

	nextRun := schedule.NextRun(d.Schedule, s.now())
	if err := s.store.UpdateScheduleRun(d.ID, run.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update schedule run", "id", d.ID, "error", err)
	}

	if nextRun == nil {
		slog.Info("no next run, marking schedule completed", "id", d.ID, "name", d.Name)
		if err := s.store.UpdateScheduleStatus(d.ID, store.ScheduleCompleted); err != nil {
			slog.Error("failed to complete schedule", "id", d.ID, "error", err)
		}
	}

	s.publishExecuted(d, run.ID, lastStatus)

	if s.notifier != nil && run.ID != "" {
		if chat := s.chatID(); chat != 0 {
			if err := s.notifier.NotifyRun(ctx, chat, "Scheduled: "+d.Name, run); err != nil {
				slog.Warn("notify scheduled run failed", "id", d.ID, "error", err)
			}
		}
	}
}

func (s *Scheduler) publishExecuted(d store.ScheduledDirective, runID, status string) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"id":     d.ID,
		"name":   d.Name,
		"status": status,
	}
	if err := s.events.PublishEvent(natsbus.TopicEventsSchedule, natsbus.EventScheduleExecuted, runID, payload); err != nil {
		slog.Warn("publish schedule event failed", "id", d.ID, "error", err)
	}
}

// Prepare validates and normalises a new or edited schedule: it assigns an
// id when missing, rewrites the schedule expression to JSON and computes
// the first due time.
func Prepare(d *store.ScheduledDirective, now time.Time) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(d.Directive) == "" {
		return dispatch.ErrEmptyDirective
	}
	if len(d.Agents) == 0 {
		return dispatch.ErrNoAgents
	}
	normalized, err := schedule.Normalize(d.Schedule)
	if err != nil {
		return err
	}
	d.Schedule = normalized
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = store.ScheduleActive
	}
	d.NextRunAt = schedule.NextRun(normalized, now)
	if d.NextRunAt == nil {
		return fmt.Errorf("schedule never fires after %s", now.Format(time.RFC3339))
	}
	return nil
}
