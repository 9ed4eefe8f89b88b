// Package tools holds the single-purpose generation tools. Each call is one
// isolated request/response cycle with no run or aggregator involved.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/registry"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrEmptyPrompt = errors.New("prompt is required")
	ErrNoImage     = errors.New("image is required")
)

// Input is the union of every tool's parameters; each tool reads the fields
// it needs.
type Input struct {
	Prompt      string          `json:"prompt"`
	Tab         string          `json:"tab,omitempty"`
	Voice       string          `json:"voice,omitempty"`
	AspectRatio string          `json:"aspect_ratio,omitempty"`
	Image       *llm.Attachment `json:"image,omitempty"`
}

type Result struct {
	Tool       string         `json:"tool"`
	Text       string         `json:"text,omitempty"`
	Data       any            `json:"data,omitempty"`
	Citations  []llm.Citation `json:"citations,omitempty"`
	Audio      string         `json:"audio,omitempty"`
	SampleRate int            `json:"sample_rate,omitempty"`
	Media      *llm.Media     `json:"media,omitempty"`
}

type Tool interface {
	ID() string
	Description() string
	Run(ctx context.Context, in Input) (*Result, error)
}

// Info is the listing form of a tool.
type Info struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Set is the fixed collection of tools exposed by the gateway.
type Set struct {
	tools map[string]Tool
}

// NewSet builds every tool. The video tool is left out when video is nil.
func NewSet(reg *registry.Registry, gen llm.Generator, video llm.VideoBackend, cfg config.VideoConfig) (*Set, error) {
	fraud, err := reg.Get("fraud")
	if err != nil {
		return nil, fmt.Errorf("fraud profile: %w", err)
	}
	s := &Set{tools: make(map[string]Tool)}
	s.add(&FraudScan{gen: gen, profile: fraud})
	s.add(&GroundedSearch{gen: gen})
	s.add(&Speech{gen: gen})
	s.add(&ImageInspect{gen: gen})
	s.add(&RoofPreview{gen: gen})
	s.add(&Advisor{gen: gen})
	if video != nil {
		s.add(&Video{backend: video, cfg: cfg})
	}
	return s, nil
}

func (s *Set) add(t Tool) { s.tools[t.ID()] = t }

func (s *Set) Get(id string) (Tool, error) {
	t, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}
	return t, nil
}

func (s *Set) List() []Info {
	out := make([]Info, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, Info{ID: t.ID(), Description: t.Description()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run looks up and runs a tool in one step.
func (s *Set) Run(ctx context.Context, id string, in Input) (*Result, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	in.Prompt = strings.TrimSpace(in.Prompt)
	return t.Run(ctx, in)
}

func generate(ctx context.Context, gen llm.Generator, req llm.Request) (*llm.Response, error) {
	resp, err := gen.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &llm.TransportError{Op: "generate", Err: llm.ErrEmptyResponse}
	}
	return resp, nil
}
