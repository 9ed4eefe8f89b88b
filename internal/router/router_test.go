package router

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/registry"
)

func newTestRouter(t *testing.T, cfg config.RouterConfig) *Router {
	t.Helper()
	reg, err := registry.Default(nil)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return New(reg, cfg)
}

func TestParseMentions(t *testing.T) {
	rtr := newTestRouter(t, config.RouterConfig{DefaultAgents: []string{"marketing"}})

	tests := []struct {
		name      string
		message   string
		wantIDs   []string
		directive string
	}{
		{"single", "@inspector Hail hit Frisco", []string{"inspector"}, "Hail hit Frisco"},
		{"multiple", "@inspector @scheduler Hail hit Frisco, mobilize crew", []string{"inspector", "scheduler"}, "Hail hit Frisco, mobilize crew"},
		{"comma list", "@inspector,scheduler mobilize", []string{"inspector", "scheduler"}, "mobilize"},
		{"case insensitive", "@Claims supplement please", []string{"claims"}, "supplement please"},
		{"duplicates", "@claims @claims text", []string{"claims"}, "text"},
		{"no directive", "@claims", []string{"claims"}, ""},
		{"default", "Storm in Plano", []string{"marketing"}, "Storm in Plano"},
		{"inline at sign", "email ops@example.com", []string{"marketing"}, "email ops@example.com"},
		{"newline kept", "@fraud\nLine one\nLine two", []string{"fraud"}, "Line one\nLine two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, directive, err := rtr.Parse(context.Background(), tt.message)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(ids, tt.wantIDs) {
				t.Errorf("expected %v, got %v", tt.wantIDs, ids)
			}
			if directive != tt.directive {
				t.Errorf("expected directive %q, got %q", tt.directive, directive)
			}
		})
	}
}

func TestParseAll(t *testing.T) {
	rtr := newTestRouter(t, config.RouterConfig{})

	ids, directive, err := rtr.Parse(context.Background(), "@all Hail hit Frisco")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 6 || ids[0] != "inspector" {
		t.Errorf("expected whole catalogue, got %v", ids)
	}
	if directive != "Hail hit Frisco" {
		t.Errorf("unexpected directive %q", directive)
	}
}

func TestParseUnknownMention(t *testing.T) {
	rtr := newTestRouter(t, config.RouterConfig{DefaultAgents: []string{"marketing"}})

	_, _, err := rtr.Parse(context.Background(), "@roofer fix the ridge")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseNoDefault(t *testing.T) {
	rtr := newTestRouter(t, config.RouterConfig{})

	_, _, err := rtr.Parse(context.Background(), "hello")
	if !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
}

func TestSetDefaultAgents(t *testing.T) {
	rtr := newTestRouter(t, config.RouterConfig{DefaultAgents: []string{"marketing"}})

	rtr.SetDefaultAgents([]string{"inspector", "bogus", "scheduler", "inspector"})
	if got := rtr.DefaultAgents(); !slices.Equal(got, []string{"inspector", "scheduler"}) {
		t.Errorf("unexpected defaults %v", got)
	}
}

func TestSmartSelection(t *testing.T) {
	rtr := newTestRouter(t, config.RouterConfig{DefaultAgents: []string{"marketing"}, SmartModel: "gemini-2.5-flash"})

	var prompt string
	rtr.SetGenerator(llm.GeneratorFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		prompt = req.Prompt
		return &llm.Response{Text: "inspector, @scheduler\nunknown"}, nil
	}))

	ids, _, err := rtr.Parse(context.Background(), "Hail hit Frisco, mobilize crew")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(ids, []string{"inspector", "scheduler"}) {
		t.Errorf("expected smart selection, got %v", ids)
	}
	if !strings.Contains(prompt, "- fraud:") {
		t.Error("expected catalogue in routing prompt")
	}
}

func TestSmartSelectionFallsBack(t *testing.T) {
	rtr := newTestRouter(t, config.RouterConfig{DefaultAgents: []string{"marketing"}, SmartModel: "gemini-2.5-flash"})
	rtr.SetGenerator(llm.GeneratorFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, errors.New("unavailable")
	}))

	ids, _, err := rtr.Parse(context.Background(), "Storm in Plano")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(ids, []string{"marketing"}) {
		t.Errorf("expected default fallback, got %v", ids)
	}
}
