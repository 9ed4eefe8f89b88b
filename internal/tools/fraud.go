package tools

import (
	"context"

	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/registry"
)

// FraudScan runs the fraud agent's prompt on a single estimate narrative
// and returns the decoded FraudAnalysis.
type FraudScan struct {
	gen     llm.Generator
	profile registry.AgentProfile
}

func (f *FraudScan) ID() string { return "fraud-scan" }

func (f *FraudScan) Description() string {
	return "Forensic scan of an insurance estimate narrative for denial tactics and code omissions"
}

func (f *FraudScan) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	resp, err := generate(ctx, f.gen, f.profile.BuildRequest(in.Prompt))
	if err != nil {
		return nil, err
	}
	text := llm.StripFences(resp.Text)
	if err := registry.ValidateFraudAnalysis(text); err != nil {
		return nil, err
	}
	analysis, err := llm.DecodeJSON[registry.FraudAnalysis](text)
	if err != nil {
		return nil, err
	}
	return &Result{Tool: f.ID(), Text: text, Data: analysis}, nil
}
