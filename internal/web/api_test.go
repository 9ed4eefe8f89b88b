package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/dispatch"
	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/registry"
	"github.com/mtzanidakis/nimbus/internal/router"
	"github.com/mtzanidakis/nimbus/internal/store"
	"github.com/mtzanidakis/nimbus/internal/tools"
	"github.com/mtzanidakis/nimbus/internal/vault"
)

type testEnv struct {
	srv     *Server
	handler http.Handler
	disp    *dispatch.Dispatcher
	store   *store.Store
	release chan struct{}
}

func newTestEnv(t *testing.T, auth string) *testEnv {
	t.Helper()

	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "web.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg, err := registry.Default(nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	release := make(chan struct{})
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &llm.Response{Text: "done: " + req.Model}, nil
	})

	agg := dispatch.NewAggregator()
	agg.Subscribe(store.NewRecorder(st))
	disp := dispatch.New(reg, gen, agg, config.DispatchConfig{AgentTimeout: 5 * time.Second})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = disp.Drain(ctx)
	})

	set, err := tools.NewSet(reg, gen, nil, config.VideoConfig{})
	if err != nil {
		t.Fatalf("tools: %v", err)
	}

	srv := NewServer(Deps{
		Store:      st,
		Dispatcher: disp,
		Router:     router.New(reg, config.RouterConfig{DefaultAgents: []string{"marketing"}}),
		Tools:      set,
		Vault:      vault.New("test"),
	}, config.WebConfig{Auth: auth}, "test")

	h, err := srv.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return &testEnv{srv: srv, handler: h, disp: disp, store: st, release: release}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestListAgents(t *testing.T) {
	env := newTestEnv(t, "")
	close(env.release)

	rec := env.do(t, "GET", "/api/agents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	agents := decode[[]registry.AgentProfile](t, rec)
	if len(agents) != 6 {
		t.Errorf("expected 6 agents, got %d", len(agents))
	}

	if rec := env.do(t, "GET", "/api/agents/roofer", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown agent, got %d", rec.Code)
	}
}

func TestCreateRunAccepted(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, "POST", "/api/runs", `{"directive": "Hail hit Frisco", "agents": ["inspector", "scheduler"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	state := decode[dispatch.RunState](t, rec)
	for _, id := range []string{"inspector", "scheduler"} {
		if state.Outcomes[id].Status != dispatch.StatusPending {
			t.Errorf("%s: expected pending in accepted response, got %s", id, state.Outcomes[id].Status)
		}
	}

	current := decode[dispatch.RunState](t, env.do(t, "GET", "/api/runs/current", ""))
	if current.ID != state.ID {
		t.Errorf("current run %s, want %s", current.ID, state.ID)
	}

	close(env.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.disp.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	rec = env.do(t, "GET", "/api/runs/"+state.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected archived run, got %d", rec.Code)
	}
	archived := decode[store.RunRecord](t, rec)
	if archived.Status != store.RunCompleted || archived.Succeeded != 2 || archived.Source != "web" {
		t.Errorf("unexpected archived run %+v", archived)
	}
}

func TestCreateRunMentions(t *testing.T) {
	env := newTestEnv(t, "")
	close(env.release)

	rec := env.do(t, "POST", "/api/runs", `{"directive": "@fraud @compliance Review this estimate"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	state := decode[dispatch.RunState](t, rec)
	if len(state.Agents) != 2 || state.Agents[0] != "fraud" || state.Directive != "Review this estimate" {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestCreateRunRejected(t *testing.T) {
	env := newTestEnv(t, "")
	close(env.release)

	tests := []struct {
		name string
		body string
	}{
		{"empty directive", `{"directive": "  ", "agents": ["inspector"]}`},
		{"unknown agent", `{"directive": "hail", "agents": ["roofer"]}`},
		{"blank ids", `{"directive": "hail", "agents": [" "]}`},
		{"bad json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, "POST", "/api/runs", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}

	if _, ok := env.disp.Aggregator().Snapshot(); ok {
		t.Error("rejected requests must not open a run")
	}
	if rec := env.do(t, "GET", "/api/runs/current", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any run, got %d", rec.Code)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	env := newTestEnv(t, "")
	close(env.release)

	rec := env.do(t, "POST", "/api/schedules", `{"name": "morning sweep", "schedule": "0 7 * * *", "directive": "Check overnight hail reports", "agents": ["inspector"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[map[string]any](t, rec)
	id, _ := created["id"].(string)
	if id == "" || created["enabled"] != true || created["next_run"] == nil {
		t.Fatalf("unexpected schedule %+v", created)
	}

	rec = env.do(t, "PUT", "/api/schedules/"+id, `{"enabled": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[map[string]any](t, rec)
	if updated["status"] != store.SchedulePaused || updated["next_run"] != nil {
		t.Errorf("expected paused without next run, got %+v", updated)
	}

	if rec := env.do(t, "POST", "/api/schedules", `{"name": "x", "schedule": "0 7 * * *", "directive": "d", "agents": ["roofer"]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown agent, got %d", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/schedules", `{"name": "x", "schedule": "whenever", "directive": "d", "agents": ["inspector"]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad schedule, got %d", rec.Code)
	}

	if rec := env.do(t, "DELETE", "/api/schedules/"+id, ""); rec.Code != http.StatusOK {
		t.Errorf("delete: %d", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/schedules/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestRunTool(t *testing.T) {
	env := newTestEnv(t, "")
	close(env.release)

	rec := env.do(t, "POST", "/api/tools/grounded-search", `{"prompt": "storm restoration McKinney", "tab": "social"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[tools.Result](t, rec)
	if res.Tool != "grounded-search" || res.Text == "" {
		t.Errorf("unexpected result %+v", res)
	}

	if rec := env.do(t, "POST", "/api/tools/video", `{"prompt": "x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unavailable tool, got %d", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/tools/speech", `{"prompt": ""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty prompt, got %d", rec.Code)
	}

	if rec := env.do(t, "POST", "/api/tools/image-inspect", `{"prompt": "north slope"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without an image, got %d", rec.Code)
	}
	rec = env.do(t, "POST", "/api/tools/image-inspect", `{"image": {"mime_type": "image/jpeg", "data": "/9j/4A=="}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if res := decode[tools.Result](t, rec); res.Tool != "image-inspect" || res.Text != "done: gemini-2.5-flash" {
		t.Errorf("unexpected inspection %+v", res)
	}
}

func TestSecrets(t *testing.T) {
	env := newTestEnv(t, "")
	close(env.release)

	if rec := env.do(t, "POST", "/api/secrets", `{"name": "gemini", "value": "AIza-1"}`); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec := env.do(t, "GET", "/api/secrets", "")
	if strings.Contains(rec.Body.String(), "AIza-1") {
		t.Fatal("secret value leaked in listing")
	}
	if got := decode[[]store.Secret](t, rec); len(got) != 1 || got[0].Name != "gemini" {
		t.Errorf("unexpected listing %+v", got)
	}
	if rec := env.do(t, "DELETE", "/api/secrets/gemini", ""); rec.Code != http.StatusOK {
		t.Errorf("delete: %d", rec.Code)
	}
	if rec := env.do(t, "DELETE", "/api/secrets/gemini", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, "hunter2")
	close(env.release)

	if rec := env.do(t, "GET", "/api/agents", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/login", `{"password": "wrong"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", rec.Code)
	}

	rec := env.do(t, "POST", "/api/login", `{"password": "hunter2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected session cookie")
	}

	req := httptest.NewRequest("GET", "/api/agents", nil)
	req.AddCookie(cookies[0])
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Errorf("expected 200 with session, got %d", out.Code)
	}

	req = httptest.NewRequest("GET", "/api/status", nil)
	req.SetBasicAuth("", "hunter2")
	out = httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Errorf("expected 200 with basic auth, got %d", out.Code)
	}
}
