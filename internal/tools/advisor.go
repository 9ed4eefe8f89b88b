package tools

import (
	"context"

	"github.com/mtzanidakis/nimbus/internal/llm"
)

const advisorInstruction = `You are the Real-Time Decision Engine for Nimbus Roofing AI. Your core function is to guide the user through the 4-Step Business Lifecycle:

1. ACQUISITION: Use 'Market Authority' for SEO and 'Emergency Response' for lead intake.
2. FORENSICS: Use 'Roof Inspector' for damage assessment and 'Paperwork Scanner' for policy ingestion.
3. MONETIZATION: Use 'Claims Intelligence' to maximize value and 'ADK Workbench' to execute tasks.
4. GOVERNANCE: Use 'Security Ops' for protection and 'Command Center' for strategy.

Always frame your advice within these four steps. Speak with executive authority.`

// Advisor answers one operator question in the voice of the decision
// engine. It keeps no history between calls.
type Advisor struct {
	gen llm.Generator
}

func (a *Advisor) ID() string { return "advisor" }

func (a *Advisor) Description() string {
	return "Executive guidance across acquisition, forensics, monetization and governance"
}

func (a *Advisor) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	resp, err := generate(ctx, a.gen, llm.Request{
		Model:             inspectModel,
		Prompt:            in.Prompt,
		SystemInstruction: advisorInstruction,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Tool: a.ID(), Text: resp.Text}, nil
}
