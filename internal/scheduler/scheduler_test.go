package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/dispatch"
	"github.com/mtzanidakis/nimbus/internal/store"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
	run   dispatch.RunState
}

func (f *fakeExecutor) Execute(_ context.Context, directive string, agentIDs []string) (dispatch.RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, directive)
	run := f.run
	run.Directive = directive
	run.Agents = agentIDs
	return run, f.err
}

type fakeNotifier struct {
	chats  []int64
	titles []string
}

func (n *fakeNotifier) NotifyRun(_ context.Context, chatID int64, title string, _ dispatch.RunState) error {
	n.chats = append(n.chats, chatID)
	n.titles = append(n.titles, title)
	return nil
}

type recordingEvents struct {
	types []string
}

func (r *recordingEvents) PublishEvent(_, eventType, _ string, _ any) error {
	r.types = append(r.types, eventType)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveDue(t *testing.T, s *store.Store, id, raw string) {
	t.Helper()
	past := time.Now().Add(-time.Minute)
	err := s.SaveSchedule(&store.ScheduledDirective{
		ID:        id,
		Name:      "storm sweep " + id,
		Schedule:  raw,
		Directive: "Check overnight hail reports",
		Agents:    []string{"inspector", "marketing"},
		NextRunAt: &past,
	})
	if err != nil {
		t.Fatalf("save schedule: %v", err)
	}
}

func TestRunDueExecutesAndReschedules(t *testing.T) {
	s := newTestStore(t)
	saveDue(t, s, "s1", `{"kind":"interval","interval_ms":3600000}`)

	exec := &fakeExecutor{run: dispatch.RunState{
		ID: "run-1",
		Outcomes: map[string]dispatch.Outcome{
			"inspector": {Status: dispatch.StatusSuccess},
			"marketing": {Status: dispatch.StatusSuccess},
		},
	}}
	events := &recordingEvents{}
	notifier := &fakeNotifier{}
	sched := New(s, exec, events, config.SchedulerConfig{PollInterval: time.Second}, 77)
	sched.SetNotifier(notifier)

	if n := sched.RunDue(context.Background()); n != 1 {
		t.Fatalf("expected 1 executed, got %d", n)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "Check overnight hail reports" {
		t.Errorf("unexpected executor calls %v", exec.calls)
	}

	got, _ := s.GetSchedule("s1")
	if got.LastStatus != "success" || got.LastRunID != "run-1" {
		t.Errorf("unexpected last run %+v", got)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Error("expected next run in the future")
	}
	if got.Status != store.ScheduleActive {
		t.Errorf("expected active, got %s", got.Status)
	}

	if len(events.types) != 1 || events.types[0] != "schedule_executed" {
		t.Errorf("unexpected events %v", events.types)
	}
	if len(notifier.chats) != 1 || notifier.chats[0] != 77 {
		t.Errorf("unexpected notifications %v", notifier.chats)
	}

	// Nothing due on the next poll.
	if n := sched.RunDue(context.Background()); n != 0 {
		t.Errorf("expected nothing due, got %d", n)
	}
}

func TestRunDueOneOffCompletes(t *testing.T) {
	s := newTestStore(t)
	saveDue(t, s, "once", `{"kind":"once","at_ms":1000}`)

	sched := New(s, &fakeExecutor{run: dispatch.RunState{ID: "r"}}, nil, config.SchedulerConfig{}, 0)
	sched.RunDue(context.Background())

	got, _ := s.GetSchedule("once")
	if got.Status != store.ScheduleCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestRunDueRecordsFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		run    dispatch.RunState
		status string
	}{
		{"rejected", dispatch.ErrNoAgents, dispatch.RunState{}, "error"},
		{"superseded", dispatch.ErrSuperseded, dispatch.RunState{ID: "r"}, "superseded"},
		{"partial", nil, dispatch.RunState{ID: "r", Outcomes: map[string]dispatch.Outcome{
			"inspector": {Status: dispatch.StatusSuccess},
			"marketing": {Status: dispatch.StatusFailure},
		}}, "partial"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			saveDue(t, s, "s", "{\"kind\":\"interval\",\"interval_ms\":60000}")

			sched := New(s, &fakeExecutor{err: tt.err, run: tt.run}, nil, config.SchedulerConfig{}, 0)
			sched.RunDue(context.Background())

			got, _ := s.GetSchedule("s")
			if got.LastStatus != tt.status {
				t.Errorf("expected %s, got %s", tt.status, got.LastStatus)
			}
			if tt.status == "error" && got.LastError == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestPrepare(t *testing.T) {
	now := time.Now()

	d := &store.ScheduledDirective{
		Name:      "weekday sweep",
		Schedule:  "0 7 * * 1-5",
		Directive: "Summarise overnight storm reports",
		Agents:    []string{"inspector"},
	}
	if err := Prepare(d, now); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if d.ID == "" || d.NextRunAt == nil || d.Status != store.ScheduleActive {
		t.Errorf("unexpected prepared schedule %+v", d)
	}
	if d.Schedule[0] != '{' {
		t.Errorf("expected json schedule, got %s", d.Schedule)
	}

	bad := []*store.ScheduledDirective{
		{Name: "", Schedule: "@hourly", Directive: "x", Agents: []string{"inspector"}},
		{Name: "n", Schedule: "@hourly", Directive: " ", Agents: []string{"inspector"}},
		{Name: "n", Schedule: "@hourly", Directive: "x"},
		{Name: "n", Schedule: "whenever", Directive: "x", Agents: []string{"inspector"}},
		{Name: "n", Schedule: `{"kind":"once","at_ms":1000}`, Directive: "x", Agents: []string{"inspector"}},
	}
	for i, b := range bad {
		if err := Prepare(b, now); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
	if err := Prepare(&store.ScheduledDirective{Name: "n", Schedule: "@hourly", Directive: "x"}, now); !errors.Is(err, dispatch.ErrNoAgents) {
		t.Errorf("expected ErrNoAgents, got %v", err)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, &fakeExecutor{}, nil, config.SchedulerConfig{PollInterval: 10 * time.Millisecond}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	sched.UpdateConfig(config.SchedulerConfig{PollInterval: 20 * time.Millisecond}, 5)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if sched.chatID() != 5 {
		t.Errorf("expected updated chat id, got %d", sched.chatID())
	}
}

func TestPruneRunsHonoursRetention(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	for id, age := range map[string]time.Duration{"stale": 40 * 24 * time.Hour, "recent": time.Hour} {
		err := s.SaveRun(&store.RunRecord{
			ID:        id,
			Epoch:     1,
			Directive: "Hail hit Frisco",
			Status:    store.RunCompleted,
			Agents:    []string{"inspector"},
			StartedAt: now.Add(-age),
		})
		if err != nil {
			t.Fatalf("save run: %v", err)
		}
	}

	keepAll := New(s, &fakeExecutor{}, nil, config.SchedulerConfig{}, 0)
	if n := keepAll.PruneRuns(); n != 0 {
		t.Errorf("zero retention must keep everything, pruned %d", n)
	}

	sched := New(s, &fakeExecutor{}, nil, config.SchedulerConfig{RunRetention: 30 * 24 * time.Hour}, 0)
	if n := sched.PruneRuns(); n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if got, _ := s.GetRun("stale"); got != nil {
		t.Error("stale run should be gone")
	}
	if got, _ := s.GetRun("recent"); got == nil {
		t.Error("recent run should be kept")
	}
}

func TestMaybePruneRunsHourly(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, &fakeExecutor{}, nil, config.SchedulerConfig{RunRetention: time.Hour}, 0)
	clock := time.Now()
	sched.now = func() time.Time { return clock }

	sched.maybePrune()
	first := sched.lastPrune
	if !first.Equal(clock) {
		t.Fatalf("expected first tick to prune, last prune %v", first)
	}

	clock = clock.Add(time.Minute)
	sched.maybePrune()
	if !sched.lastPrune.Equal(first) {
		t.Error("pruned again before the hour elapsed")
	}

	clock = clock.Add(time.Hour)
	sched.maybePrune()
	if !sched.lastPrune.Equal(clock) {
		t.Error("expected prune after an hour")
	}
}
