package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/nimbus/internal/dispatch"
	"github.com/mtzanidakis/nimbus/internal/registry"
	"github.com/mtzanidakis/nimbus/internal/router"
	"github.com/mtzanidakis/nimbus/internal/schedule"
	"github.com/mtzanidakis/nimbus/internal/scheduler"
	"github.com/mtzanidakis/nimbus/internal/store"
	"github.com/mtzanidakis/nimbus/internal/tools"
)

const defaultRunListLimit = 50

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)

	// Runs
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs/current", s.currentRun)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)

	// Scheduled directives
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.getSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Tools
	mux.HandleFunc("GET /api/tools", s.listTools)
	mux.HandleFunc("POST /api/tools/{id}", s.runTool)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) registry() *registry.Registry {
	return s.Dispatcher.Registry()
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.registry().List())
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry().Get(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, p)
}

// createRun dispatches a directive and answers 202 with the pending state
// before any agent completes. With no agents listed the directive's
// leading mentions, or the default selection, decide.
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Directive string   `json:"directive"`
		Agents    []string `json:"agents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	directive, ids := body.Directive, body.Agents
	if len(ids) == 0 {
		var err error
		ids, directive, err = s.Router.Parse(r.Context(), body.Directive)
		if err != nil {
			jsonError(w, err.Error(), runErrorStatus(err))
			return
		}
	}

	ctx := dispatch.WithSource(context.WithoutCancel(r.Context()), "web")
	run, err := s.Dispatcher.Dispatch(ctx, directive, ids)
	if err != nil {
		jsonError(w, err.Error(), runErrorStatus(err))
		return
	}

	w.Header().Set("Location", "/api/runs/"+run.ID)
	jsonStatus(w, http.StatusAccepted, run.State())
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrEmptyDirective),
		errors.Is(err, dispatch.ErrNoAgents),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, router.ErrNoSelection):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) currentRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.Dispatcher.Aggregator().Snapshot()
	if !ok {
		jsonError(w, "no run has been dispatched", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.Store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	jsonResponse(w, runs)
}

// getRun serves the live run from the aggregator and anything older from
// the activity log.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if live, ok := s.Dispatcher.Aggregator().Snapshot(); ok && live.ID == id && !live.Done() {
		jsonResponse(w, live)
		return
	}
	rec, err := s.Store.GetRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, rec)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.Store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, d := range list {
		out = append(out, scheduleToAPI(d))
	}
	jsonResponse(w, out)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	d, err := s.Store.GetSchedule(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if d == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, scheduleToAPI(*d))
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string   `json:"name"`
		Schedule  string   `json:"schedule"`
		Directive string   `json:"directive"`
		Agents    []string `json:"agents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.checkAgents(body.Agents); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	d := &store.ScheduledDirective{
		Name:      body.Name,
		Schedule:  body.Schedule,
		Directive: body.Directive,
		Agents:    body.Agents,
	}
	if err := scheduler.Prepare(d, time.Now()); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Store.SaveSchedule(d); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonStatus(w, http.StatusCreated, scheduleToAPI(*d))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	existing, err := s.Store.GetSchedule(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name      *string   `json:"name"`
		Schedule  *string   `json:"schedule"`
		Directive *string   `json:"directive"`
		Agents    *[]string `json:"agents"`
		Enabled   *bool     `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.Schedule != nil {
		existing.Schedule = *body.Schedule
	}
	if body.Directive != nil {
		existing.Directive = *body.Directive
	}
	if body.Agents != nil {
		if err := s.checkAgents(*body.Agents); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		existing.Agents = *body.Agents
	}
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = store.ScheduleActive
		} else if existing.Status != store.ScheduleCompleted {
			existing.Status = store.SchedulePaused
		}
	}

	if existing.Status == store.ScheduleActive {
		if err := scheduler.Prepare(existing, time.Now()); err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
	} else {
		normalized, err := schedule.Normalize(existing.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
		existing.NextRunAt = nil
	}

	if err := s.Store.SaveSchedule(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(*existing))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteSchedule(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) checkAgents(ids []string) error {
	for _, id := range ids {
		if _, err := s.registry().Get(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.Tools.List())
}

func (s *Server) runTool(w http.ResponseWriter, r *http.Request) {
	var in tools.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.Tools.Run(r.Context(), r.PathValue("id"), in)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, tools.ErrEmptyPrompt), errors.Is(err, tools.ErrNoImage):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		jsonResponse(w, res)
	}
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	schedules, _ := s.Store.ListSchedules()
	active := 0
	for _, d := range schedules {
		if d.Status == store.ScheduleActive {
			active++
		}
	}

	status := map[string]any{
		"status":            "ok",
		"agents_count":      len(s.registry().IDs()),
		"active_schedules":  active,
		"websocket_clients": s.hub.Clients(),
		"uptime":            formatUptime(time.Since(s.startedAt)),
		"nats":              "ok",
		"timestamp":         time.Now().UTC(),
		"version":           s.version,
	}
	if s.Bus == nil {
		status["nats"] = "disabled"
	} else {
		status["nats_clients"] = s.Bus.Clients()
	}
	if run, ok := s.Dispatcher.Aggregator().Snapshot(); ok {
		succeeded, failed, pending := run.Counts()
		status["current_run"] = map[string]any{
			"id":        run.ID,
			"epoch":     run.Epoch,
			"succeeded": succeeded,
			"failed":    failed,
			"pending":   pending,
		}
	}

	jsonResponse(w, status)
}

func scheduleToAPI(d store.ScheduledDirective) map[string]any {
	m := map[string]any{
		"id":               d.ID,
		"name":             d.Name,
		"schedule":         d.Schedule,
		"schedule_display": schedule.Describe(d.Schedule),
		"directive":        d.Directive,
		"agents":           d.Agents,
		"enabled":          d.Status == store.ScheduleActive,
		"status":           d.Status,
	}
	if d.LastRunAt != nil {
		m["last_run"] = formatMessageTime(*d.LastRunAt)
		m["last_run_id"] = d.LastRunID
		m["last_status"] = d.LastStatus
	}
	if d.LastError != "" {
		m["last_error"] = d.LastError
	}
	if d.NextRunAt != nil {
		m["next_run"] = formatMessageTime(*d.NextRunAt)
	}
	return m
}

func formatMessageTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusOK, data)
}

func jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonStatus(w, code, map[string]string{"error": msg})
}
