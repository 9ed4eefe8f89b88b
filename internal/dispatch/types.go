package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/registry"
)

var (
	ErrEmptyDirective = errors.New("directive is empty")
	ErrNoAgents       = errors.New("no agents selected")

	ErrStaleRun    = errors.New("run is no longer current")
	ErrUnknownSlot = errors.New("agent was not selected for this run")
	ErrSlotSettled = errors.New("outcome already recorded")
	ErrPending     = errors.New("outcome must be terminal")
	ErrSuperseded  = errors.New("run was superseded by a newer run")
)

// Status is the state of one outcome slot. A slot moves from pending to
// success or failure exactly once.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

type Outcome struct {
	AgentID    string         `json:"agent_id"`
	Status     Status         `json:"status"`
	Kind       registry.Kind  `json:"kind,omitempty"`
	Text       string         `json:"text,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  llm.ErrorKind  `json:"error_kind,omitempty"`
	Citations  []llm.Citation `json:"citations,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

func (o Outcome) Terminal() bool {
	return o.Status == StatusSuccess || o.Status == StatusFailure
}

// Success builds a success outcome.
func Success(kind registry.Kind, text string, citations []llm.Citation) Outcome {
	return Outcome{Status: StatusSuccess, Kind: kind, Text: text, Citations: citations}
}

// Failure builds a failure outcome from err.
func Failure(err error) Outcome {
	return Outcome{
		Status:    StatusFailure,
		Kind:      registry.KindError,
		Error:     llm.Message(err),
		ErrorKind: llm.ClassifyError(err),
	}
}

type sourceKey struct{}

// WithSource tags runs dispatched with ctx with the surface that issued
// them (web, telegram, schedule, cli).
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}

// RunState is a point-in-time copy of a run's outcome map.
type RunState struct {
	ID          string             `json:"id"`
	Epoch       uint64             `json:"epoch"`
	Directive   string             `json:"directive"`
	Source      string             `json:"source,omitempty"`
	Agents      []string           `json:"agents"`
	Outcomes    map[string]Outcome `json:"outcomes"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// Done reports whether every selected slot is terminal.
func (s RunState) Done() bool {
	for _, id := range s.Agents {
		if !s.Outcomes[id].Terminal() {
			return false
		}
	}
	return len(s.Agents) > 0
}

// Counts returns the number of successful, failed and pending slots.
func (s RunState) Counts() (success, failure, pending int) {
	for _, id := range s.Agents {
		switch s.Outcomes[id].Status {
		case StatusSuccess:
			success++
		case StatusFailure:
			failure++
		default:
			pending++
		}
	}
	return success, failure, pending
}

// Ordered returns the outcomes in selection order.
func (s RunState) Ordered() []Outcome {
	out := make([]Outcome, 0, len(s.Agents))
	for _, id := range s.Agents {
		out = append(out, s.Outcomes[id])
	}
	return out
}

func (s RunState) clone() RunState {
	c := s
	c.Agents = append([]string(nil), s.Agents...)
	c.Outcomes = make(map[string]Outcome, len(s.Outcomes))
	for k, v := range s.Outcomes {
		c.Outcomes[k] = v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
