package tools

import (
	"context"
	"fmt"

	"github.com/mtzanidakis/nimbus/internal/llm"
)

const searchModel = "gemini-2.5-flash"

var searchTabs = map[string]string{
	"content":   "Act as a Geo-Local SEO expert. Output must be indexable by Google/OpenAI.",
	"backlinks": "Act as an SEO Link Building Specialist. Focus on high domain authority opportunities for roofing contractors.",
	"social":    "Act as a Social Media Manager. Create platform-specific task lists and captions.",
}

// GroundedSearch answers with search grounding and returns the sources the
// model cited. Tab picks the persona; it defaults to "content".
type GroundedSearch struct {
	gen llm.Generator
}

func (g *GroundedSearch) ID() string { return "grounded-search" }

func (g *GroundedSearch) Description() string {
	return "Search-grounded SEO research (tabs: content, backlinks, social)"
}

func (g *GroundedSearch) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	tab := in.Tab
	if tab == "" {
		tab = "content"
	}
	instr, ok := searchTabs[tab]
	if !ok {
		return nil, fmt.Errorf("unknown search tab %q", tab)
	}

	resp, err := generate(ctx, g.gen, llm.Request{
		Model:        searchModel,
		Prompt:       fmt.Sprintf("%s Context: nimbusroofing.com McKinney TX. Task: %s", instr, in.Prompt),
		GoogleSearch: true,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Tool: g.ID(), Text: resp.Text, Citations: resp.Citations}, nil
}
