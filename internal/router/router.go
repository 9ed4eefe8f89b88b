package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/registry"
)

var ErrNoSelection = errors.New("no agents selected and no default configured")

// Router turns an operator message into an agent selection and the
// directive text.
type Router struct {
	registry *registry.Registry

	mu            sync.RWMutex
	defaultAgents []string

	gen        llm.Generator
	smartModel string
}

func New(reg *registry.Registry, cfg config.RouterConfig) *Router {
	r := &Router{registry: reg, smartModel: cfg.SmartModel}
	r.SetDefaultAgents(cfg.DefaultAgents)
	return r
}

// SetGenerator enables model-assisted selection for messages without
// mentions. It is a no-op unless router.smart_model is configured.
func (r *Router) SetGenerator(gen llm.Generator) {
	r.gen = gen
}

// Parse reads leading @mentions. "@all" selects the whole catalogue. A
// message without mentions gets the smart or default selection. Unknown
// mentions are an error.
func (r *Router) Parse(ctx context.Context, message string) (agentIDs []string, directive string, err error) {
	rest := strings.TrimSpace(message)
	seen := make(map[string]bool)
	for strings.HasPrefix(rest, "@") {
		token, tail, _ := strings.Cut(rest, " ")
		if nl := strings.IndexAny(token, "\n\t"); nl >= 0 {
			token, tail = token[:nl], token[nl:]+" "+tail
		}
		rest = strings.TrimSpace(tail)

		for _, name := range strings.Split(strings.TrimPrefix(token, "@"), ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			if name == "all" {
				for _, id := range r.registry.IDs() {
					if !seen[id] {
						seen[id] = true
						agentIDs = append(agentIDs, id)
					}
				}
				continue
			}
			if !r.registry.Has(name) {
				return nil, "", fmt.Errorf("@%s: %w", name, registry.ErrNotFound)
			}
			if !seen[name] {
				seen[name] = true
				agentIDs = append(agentIDs, name)
			}
		}
	}
	directive = rest
	if len(agentIDs) > 0 {
		return agentIDs, directive, nil
	}

	if ids := r.smartSelect(ctx, directive); len(ids) > 0 {
		return ids, directive, nil
	}

	defaults := r.DefaultAgents()
	if len(defaults) == 0 {
		return nil, directive, ErrNoSelection
	}
	return defaults, directive, nil
}

func (r *Router) smartSelect(ctx context.Context, directive string) []string {
	if r.gen == nil || r.smartModel == "" || directive == "" {
		return nil
	}
	resp, err := r.gen.Generate(ctx, llm.Request{
		Model:  r.smartModel,
		Prompt: buildRoutingPrompt(r.registry.List(), directive),
	})
	if err != nil {
		slog.Debug("smart routing failed, using defaults", "error", err)
		return nil
	}

	var ids []string
	for _, name := range strings.FieldsFunc(resp.Text, func(c rune) bool {
		return c == ',' || c == '\n' || c == ' '
	}) {
		name = strings.ToLower(strings.Trim(name, "@`'\". "))
		if r.registry.Has(name) && !contains(ids, name) {
			ids = append(ids, name)
		}
	}
	if len(ids) == 0 {
		slog.Debug("smart routing returned no known agent, using defaults", "reply", resp.Text)
	}
	return ids
}

func (r *Router) DefaultAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.defaultAgents...)
}

// SetDefaultAgents replaces the fallback selection. Unknown ids are dropped.
func (r *Router) SetDefaultAgents(ids []string) {
	var valid []string
	for _, id := range ids {
		if !r.registry.Has(id) {
			slog.Warn("ignoring unknown default agent", "agent", id)
			continue
		}
		if !contains(valid, id) {
			valid = append(valid, id)
		}
	}
	r.mu.Lock()
	r.defaultAgents = valid
	r.mu.Unlock()
}

func buildRoutingPrompt(profiles []registry.AgentProfile, message string) string {
	var sb strings.Builder
	sb.WriteString("You are a message router for a roofing operations team. Given the operator's directive, decide which agents should handle it.\n\n")
	sb.WriteString("Available agents:\n")
	for _, p := range profiles {
		fmt.Fprintf(&sb, "- %s: %s\n", p.ID, p.Description)
	}
	sb.WriteString("\nDirective: ")
	sb.WriteString(message)
	sb.WriteString("\n\nRespond with ONLY a comma-separated list of agent ids, nothing else.")
	return sb.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
