package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Listener receives aggregator changes. Calls happen outside the
// aggregator lock, on the goroutine that caused the change.
type Listener interface {
	RunStarted(run RunState)
	OutcomeRecorded(run RunState, outcome Outcome)
	RunCompleted(run RunState)
	RunSuperseded(run RunState)
}

type runSlot struct {
	state      RunState
	remaining  int
	done       chan struct{}
	superseded bool
}

// Aggregator owns the outcome map of the one live run. Starting a new run
// replaces the map; writes tagged with an older epoch are rejected.
type Aggregator struct {
	mu        sync.RWMutex
	epoch     uint64
	cur       *runSlot
	listeners []Listener
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Subscribe registers l for all future changes.
func (a *Aggregator) Subscribe(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// BeginRun discards the current run and opens one pending slot per distinct
// agent id. An empty selection is rejected with ErrNoAgents and leaves the
// current run in place.
func (a *Aggregator) BeginRun(directive string, agentIDs []string) (RunState, error) {
	slot, err := a.begin(directive, "", agentIDs)
	if err != nil {
		return RunState{}, err
	}
	return slot.state.clone(), nil
}

func (a *Aggregator) begin(directive, source string, agentIDs []string) (*runSlot, error) {
	ids := make([]string, 0, len(agentIDs))
	seen := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrNoAgents
	}

	a.mu.Lock()

	var prev RunState
	hadLive := false
	if a.cur != nil && a.cur.remaining > 0 {
		a.cur.superseded = true
		close(a.cur.done)
		prev = a.cur.state.clone()
		hadLive = true
	}

	a.epoch++
	slot := &runSlot{
		state: RunState{
			ID:        uuid.New().String(),
			Epoch:     a.epoch,
			Directive: directive,
			Source:    source,
			Agents:    ids,
			Outcomes:  make(map[string]Outcome, len(ids)),
			StartedAt: time.Now().UTC(),
		},
		remaining: len(ids),
		done:      make(chan struct{}),
	}
	for _, id := range ids {
		slot.state.Outcomes[id] = Outcome{AgentID: id, Status: StatusPending}
	}
	a.cur = slot

	started := slot.state.clone()
	listeners := a.listeners
	a.mu.Unlock()

	for _, l := range listeners {
		if hadLive {
			l.RunSuperseded(prev)
		}
		l.RunStarted(started)
	}
	return slot, nil
}

// RecordOutcome settles one slot of the run identified by epoch.
func (a *Aggregator) RecordOutcome(epoch uint64, agentID string, o Outcome) error {
	if !o.Terminal() {
		return ErrPending
	}

	a.mu.Lock()
	if a.cur == nil || a.cur.state.Epoch != epoch {
		a.mu.Unlock()
		return fmt.Errorf("%w: epoch %d", ErrStaleRun, epoch)
	}
	slot := a.cur
	existing, ok := slot.state.Outcomes[agentID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownSlot, agentID)
	}
	if existing.Terminal() {
		a.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSlotSettled, agentID)
	}

	o.AgentID = agentID
	slot.state.Outcomes[agentID] = o
	slot.remaining--

	completed := slot.remaining == 0
	if completed {
		now := time.Now().UTC()
		slot.state.CompletedAt = &now
		close(slot.done)
	}
	snap := slot.state.clone()
	listeners := a.listeners
	a.mu.Unlock()

	for _, l := range listeners {
		l.OutcomeRecorded(snap, o)
		if completed {
			l.RunCompleted(snap)
		}
	}
	return nil
}

// Snapshot returns a copy of the live run. ok is false before the first
// run.
func (a *Aggregator) Snapshot() (RunState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.cur == nil {
		return RunState{}, false
	}
	return a.cur.state.clone(), true
}

// Epoch returns the epoch of the live run, zero before the first run.
func (a *Aggregator) Epoch() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.epoch
}

func (a *Aggregator) wait(ctx context.Context, slot *runSlot) (RunState, error) {
	select {
	case <-slot.done:
	case <-ctx.Done():
		a.mu.RLock()
		snap := slot.state.clone()
		a.mu.RUnlock()
		return snap, ctx.Err()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := slot.state.clone()
	if slot.superseded {
		return snap, ErrSuperseded
	}
	return snap, nil
}
