package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/llm"
)

var ErrNotFound = errors.New("agent not found")

// Kind tags the content an agent produces on success.
type Kind string

const (
	KindText         Kind = "text"
	KindNotification Kind = "notification"
	KindError        Kind = "error"
)

// PromptRule turns a directive into a request payload. Implementations must
// be pure.
type PromptRule interface {
	BuildRequest(directive string) llm.Request
}

// PromptFunc adapts a function to PromptRule.
type PromptFunc func(directive string) llm.Request

func (f PromptFunc) BuildRequest(directive string) llm.Request { return f(directive) }

// AgentProfile pairs a display identity with a prompt rule.
type AgentProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        Kind   `json:"kind"`
	Model       string `json:"model"`
	Structured  bool   `json:"structured"`

	Rule PromptRule `json:"-"`

	// Validate checks a structured response; nil for free text agents.
	Validate func(text string) error `json:"-"`
}

// BuildRequest applies the prompt rule and fills in the profile model when
// the rule left it unset.
func (p AgentProfile) BuildRequest(directive string) llm.Request {
	req := p.Rule.BuildRequest(directive)
	if req.Model == "" {
		req.Model = p.Model
	}
	return req
}

// Registry is the fixed catalogue of agents. It is built once and never
// modified afterwards, so it is safe for concurrent use.
type Registry struct {
	profiles []AgentProfile
	byID     map[string]int
}

func New(profiles []AgentProfile, overrides map[string]config.AgentOverride) (*Registry, error) {
	r := &Registry{
		profiles: make([]AgentProfile, 0, len(profiles)),
		byID:     make(map[string]int, len(profiles)),
	}

	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("agent profile %q has no id", p.Name)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", p.ID)
		}
		if p.Rule == nil {
			return nil, fmt.Errorf("agent %q has no prompt rule", p.ID)
		}
		if p.Kind == "" {
			p.Kind = KindText
		}
		if o, ok := overrides[p.ID]; ok && o.Model != "" {
			p.Model = o.Model
		}
		r.byID[p.ID] = len(r.profiles)
		r.profiles = append(r.profiles, p)
	}

	for id := range overrides {
		if _, ok := r.byID[id]; !ok {
			slog.Warn("config override for unknown agent ignored", "agent", id)
		}
	}

	return r, nil
}

// Default returns the built-in catalogue with config overrides applied.
func Default(overrides map[string]config.AgentOverride) (*Registry, error) {
	return New(Catalog(), overrides)
}

// List returns the profiles in catalogue order.
func (r *Registry) List() []AgentProfile {
	out := make([]AgentProfile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

func (r *Registry) Get(id string) (AgentProfile, error) {
	i, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return AgentProfile{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return r.profiles[i], nil
}

func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

func (r *Registry) IDs() []string {
	ids := make([]string, len(r.profiles))
	for i, p := range r.profiles {
		ids[i] = p.ID
	}
	return ids
}

func (r *Registry) AgentDescriptions() map[string]string {
	descs := make(map[string]string, len(r.profiles))
	for _, p := range r.profiles {
		descs[p.ID] = p.Description
	}
	return descs
}
