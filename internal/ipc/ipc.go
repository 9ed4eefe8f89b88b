// Package ipc serves nimbusctl requests over the bus.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/nimbus/internal/dispatch"
	"github.com/mtzanidakis/nimbus/internal/natsbus"
	"github.com/mtzanidakis/nimbus/internal/registry"
	"github.com/mtzanidakis/nimbus/internal/scheduler"
	"github.com/mtzanidakis/nimbus/internal/store"
	"github.com/nats-io/nats.go"
)

// Command types.
const (
	CmdDispatch       = "dispatch"
	CmdCurrent        = "current"
	CmdAgents         = "agents"
	CmdCreateSchedule = "create_schedule"
	CmdListSchedules  = "list_schedules"
	CmdDeleteSchedule = "delete_schedule"
)

type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the reply to every command; only the fields relevant to the
// command are set.
type Response struct {
	OK         bool                       `json:"ok,omitempty"`
	Error      string                     `json:"error,omitempty"`
	ID         string                     `json:"id,omitempty"`
	Superseded bool                       `json:"superseded,omitempty"`
	Run        *dispatch.RunState         `json:"run,omitempty"`
	Agents     []registry.AgentProfile    `json:"agents,omitempty"`
	Schedules  []store.ScheduledDirective `json:"schedules,omitempty"`
}

// DispatchPayload carries a chat-style message; leading @mentions select
// agents the same way they do in Telegram.
type DispatchPayload struct {
	Message string `json:"message"`
}

type SchedulePayload struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Schedule  string   `json:"schedule,omitempty"`
	Directive string   `json:"directive,omitempty"`
	Agents    []string `json:"agents,omitempty"`
}

// Parser is satisfied by *router.Router.
type Parser interface {
	Parse(ctx context.Context, message string) ([]string, string, error)
}

type Handler struct {
	disp   *dispatch.Dispatcher
	parser Parser
	store  *store.Store
	ctx    context.Context
}

// NewHandler binds the handler to ctx; dispatches started over IPC inherit
// its values.
func NewHandler(ctx context.Context, disp *dispatch.Dispatcher, parser Parser, s *store.Store) *Handler {
	return &Handler{disp: disp, parser: parser, store: s, ctx: ctx}
}

// Register subscribes the handler on the dispatch topic.
func (h *Handler) Register(client *natsbus.Client) (*nats.Subscription, error) {
	return client.Subscribe(natsbus.TopicIPCDispatch, h.Handle)
}

func (h *Handler) Handle(msg *nats.Msg) {
	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid IPC command", "error", err)
		h.respond(msg, Response{Error: "invalid command"})
		return
	}

	slog.Info("IPC command received", "type", cmd.Type)

	switch cmd.Type {
	case CmdDispatch:
		// Runs take as long as the slowest agent; keep the subscription free.
		go h.dispatch(msg, cmd.Payload)
	case CmdCurrent:
		h.current(msg)
	case CmdAgents:
		h.respond(msg, Response{OK: true, Agents: h.disp.Registry().List()})
	case CmdCreateSchedule:
		h.createSchedule(msg, cmd.Payload)
	case CmdListSchedules:
		h.listSchedules(msg)
	case CmdDeleteSchedule:
		h.deleteSchedule(msg, cmd.Payload)
	default:
		slog.Warn("unknown IPC command", "type", cmd.Type)
		h.respond(msg, Response{Error: "unknown command: " + cmd.Type})
	}
}

func (h *Handler) respond(msg *nats.Msg, resp Response) {
	if err := natsbus.RespondJSON(msg, resp); err != nil {
		slog.Error("failed to respond to IPC", "error", err)
	}
}

func (h *Handler) dispatch(msg *nats.Msg, payload json.RawMessage) {
	var req DispatchPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.respond(msg, Response{Error: "invalid payload"})
		return
	}

	ctx := dispatch.WithSource(h.ctx, "cli")
	ids, directive, err := h.parser.Parse(ctx, req.Message)
	if err != nil {
		h.respond(msg, Response{Error: err.Error()})
		return
	}

	run, err := h.disp.Execute(ctx, directive, ids)
	switch {
	case errors.Is(err, dispatch.ErrSuperseded):
		h.respond(msg, Response{ID: run.ID, Superseded: true, Run: &run})
	case err != nil:
		h.respond(msg, Response{Error: err.Error()})
	default:
		h.respond(msg, Response{OK: true, ID: run.ID, Run: &run})
	}
}

func (h *Handler) current(msg *nats.Msg) {
	run, ok := h.disp.Aggregator().Snapshot()
	if !ok {
		h.respond(msg, Response{Error: "no run has been dispatched"})
		return
	}
	h.respond(msg, Response{OK: true, ID: run.ID, Run: &run})
}

func (h *Handler) createSchedule(msg *nats.Msg, payload json.RawMessage) {
	var req SchedulePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.respond(msg, Response{Error: "invalid payload"})
		return
	}
	for _, id := range req.Agents {
		if !h.disp.Registry().Has(id) {
			h.respond(msg, Response{Error: fmt.Sprintf("unknown agent %q", id)})
			return
		}
	}

	d := &store.ScheduledDirective{
		Name:      req.Name,
		Schedule:  req.Schedule,
		Directive: req.Directive,
		Agents:    req.Agents,
	}
	if err := scheduler.Prepare(d, time.Now()); err != nil {
		h.respond(msg, Response{Error: fmt.Sprintf("invalid schedule: %v", err)})
		return
	}
	if err := h.store.SaveSchedule(d); err != nil {
		h.respond(msg, Response{Error: fmt.Sprintf("save failed: %v", err)})
		return
	}

	slog.Info("schedule created via IPC", "id", d.ID, "name", d.Name)
	h.respond(msg, Response{OK: true, ID: d.ID})
}

func (h *Handler) listSchedules(msg *nats.Msg) {
	list, err := h.store.ListSchedules()
	if err != nil {
		h.respond(msg, Response{Error: fmt.Sprintf("list failed: %v", err)})
		return
	}
	h.respond(msg, Response{OK: true, Schedules: list})
}

func (h *Handler) deleteSchedule(msg *nats.Msg, payload json.RawMessage) {
	var req SchedulePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		h.respond(msg, Response{Error: "id is required"})
		return
	}
	if err := h.store.DeleteSchedule(req.ID); err != nil {
		h.respond(msg, Response{Error: fmt.Sprintf("delete failed: %v", err)})
		return
	}
	h.respond(msg, Response{OK: true, ID: req.ID})
}
