// Package dispatch fans a single directive out to a set of agents and
// collects one outcome per agent.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/registry"
	"github.com/mtzanidakis/nimbus/internal/telemetry"
)

// Dispatcher launches one invocation per selected agent. Invocations of
// the same run never cancel each other; each is bounded by its own
// timeout.
type Dispatcher struct {
	registry *registry.Registry
	gen      llm.Generator
	agg      *Aggregator

	mu   sync.RWMutex
	opts config.DispatchConfig

	inflight sync.WaitGroup

	tracer      trace.Tracer
	invocations metric.Int64Counter
	latency     metric.Float64Histogram
}

func New(reg *registry.Registry, gen llm.Generator, agg *Aggregator, opts config.DispatchConfig) *Dispatcher {
	meter := telemetry.Meter("nimbus/dispatch")
	invocations, _ := meter.Int64Counter("nimbus.agent.invocations",
		metric.WithDescription("Agent invocations by outcome"),
	)
	latency, _ := meter.Float64Histogram("nimbus.agent.duration",
		metric.WithDescription("Agent invocation latency (ms)"),
		metric.WithUnit("ms"),
	)
	if agg == nil {
		agg = NewAggregator()
	}
	return &Dispatcher{
		registry:    reg,
		gen:         gen,
		agg:         agg,
		opts:        opts,
		tracer:      telemetry.Tracer("nimbus/dispatch"),
		invocations: invocations,
		latency:     latency,
	}
}

func (d *Dispatcher) Aggregator() *Aggregator { return d.agg }

func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// UpdateOptions swaps the timeout and concurrency settings. Runs already in
// flight keep the values they started with.
func (d *Dispatcher) UpdateOptions(opts config.DispatchConfig) {
	d.mu.Lock()
	d.opts = opts
	d.mu.Unlock()
}

func (d *Dispatcher) options() config.DispatchConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

// Run is a handle on one dispatched run.
type Run struct {
	ID    string
	Epoch uint64

	agg  *Aggregator
	slot *runSlot
}

// State returns the current outcome map of the run.
func (r *Run) State() RunState {
	r.agg.mu.RLock()
	defer r.agg.mu.RUnlock()
	return r.slot.state.clone()
}

// Done is closed once every slot is terminal or the run is superseded.
func (r *Run) Done() <-chan struct{} { return r.slot.done }

// Wait blocks until the run completes. It returns ErrSuperseded if a newer
// run replaced this one first, along with the state at that moment.
func (r *Run) Wait(ctx context.Context) (RunState, error) {
	return r.agg.wait(ctx, r.slot)
}

// Dispatch validates the selection, opens a new run and launches every
// invocation. It returns before any invocation completes. Invocations are
// detached from ctx cancellation but keep its values.
func (d *Dispatcher) Dispatch(ctx context.Context, directive string, agentIDs []string) (*Run, error) {
	directive = strings.TrimSpace(directive)
	if directive == "" {
		return nil, ErrEmptyDirective
	}

	profiles, err := d.resolve(agentIDs)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}

	slot, err := d.agg.begin(directive, sourceFrom(ctx), ids)
	if err != nil {
		return nil, err
	}
	run := &Run{ID: slot.state.ID, Epoch: slot.state.Epoch, agg: d.agg, slot: slot}

	opts := d.options()
	slog.Info("dispatching run", "run", run.ID, "epoch", run.Epoch, "agents", strings.Join(ids, ","))

	bg := context.WithoutCancel(ctx)
	var g errgroup.Group
	if opts.MaxConcurrency > 0 {
		g.SetLimit(opts.MaxConcurrency)
	}
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		for _, p := range profiles {
			g.Go(func() error {
				// Queued behind the concurrency limit while a newer run began.
				if d.agg.Epoch() != run.Epoch {
					slog.Debug("skipping agent of superseded run", "run", run.ID, "agent", p.ID)
					return nil
				}
				d.invoke(bg, run, p, directive, opts.AgentTimeout)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return run, nil
}

// Execute dispatches and waits for the run to complete.
func (d *Dispatcher) Execute(ctx context.Context, directive string, agentIDs []string) (RunState, error) {
	run, err := d.Dispatch(ctx, directive, agentIDs)
	if err != nil {
		return RunState{}, err
	}
	return run.Wait(ctx)
}

// Drain blocks until every launched invocation has returned, including
// those of superseded runs.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) resolve(agentIDs []string) ([]registry.AgentProfile, error) {
	seen := make(map[string]bool, len(agentIDs))
	var profiles []registry.AgentProfile
	for _, id := range agentIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		p, err := d.registry.Get(id)
		if err != nil {
			return nil, err
		}
		seen[id] = true
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return nil, ErrNoAgents
	}
	return profiles, nil
}

func (d *Dispatcher) invoke(ctx context.Context, run *Run, p registry.AgentProfile, directive string, timeout time.Duration) {
	ctx, span := d.tracer.Start(ctx, "agent "+p.ID,
		trace.WithAttributes(
			attribute.String("nimbus.run_id", run.ID),
			attribute.String("nimbus.agent_id", p.ID),
			attribute.String("gen_ai.request.model", p.Model),
		),
	)
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	out := d.call(ctx, p, directive)
	elapsed := time.Since(start)
	out.DurationMs = elapsed.Milliseconds()

	attrs := metric.WithAttributes(
		attribute.String("nimbus.agent_id", p.ID),
		attribute.String("nimbus.status", string(out.Status)),
	)
	d.invocations.Add(ctx, 1, attrs)
	d.latency.Record(ctx, float64(elapsed.Milliseconds()), attrs)

	if out.Status == StatusFailure {
		span.SetStatus(codes.Error, out.Error)
		slog.Warn("agent failed", "run", run.ID, "agent", p.ID, "kind", out.ErrorKind, "error", out.Error)
	} else {
		slog.Info("agent finished", "run", run.ID, "agent", p.ID, "duration", elapsed.Round(time.Millisecond))
	}

	if err := d.agg.RecordOutcome(run.Epoch, p.ID, out); err != nil {
		if errors.Is(err, ErrStaleRun) {
			slog.Info("discarding outcome of superseded run", "run", run.ID, "agent", p.ID)
			return
		}
		slog.Error("record outcome failed", "run", run.ID, "agent", p.ID, "error", err)
	}
}

// call runs one agent and always returns a terminal outcome.
func (d *Dispatcher) call(ctx context.Context, p registry.AgentProfile, directive string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent invocation panicked", "agent", p.ID, "panic", r, "stack", string(debug.Stack()))
			out = Failure(&llm.TransportError{Op: "invoke", Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	resp, err := d.gen.Generate(ctx, p.BuildRequest(directive))
	if err != nil {
		return Failure(err)
	}
	if resp == nil {
		return Failure(&llm.TransportError{Op: "generate", Err: llm.ErrEmptyResponse})
	}

	text := resp.Text
	if p.Validate != nil {
		text = llm.StripFences(text)
		if err := p.Validate(text); err != nil {
			return Failure(err)
		}
	}
	return Success(p.Kind, text, resp.Citations)
}
