package tools

import (
	"context"
	"log/slog"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/llm"
)

// Video renders a short clip through a VideoJob. The call blocks until the
// job is ready, failed or out of polls.
type Video struct {
	backend llm.VideoBackend
	cfg     config.VideoConfig
}

func (v *Video) ID() string { return "video" }

func (v *Video) Description() string { return "Generate a short marketing or site video" }

func (v *Video) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	aspect := in.AspectRatio
	if aspect == "" {
		aspect = "16:9"
	}

	job := llm.NewVideoJob(v.backend, v.cfg.PollInterval, v.cfg.MaxPolls)
	media, err := job.Run(ctx, llm.VideoRequest{
		Model:       v.cfg.Model,
		Prompt:      in.Prompt,
		Image:       in.Image,
		AspectRatio: aspect,
	})
	slog.Info("video job finished", "state", job.State(), "polls", job.Polls())
	if err != nil {
		return nil, err
	}
	return &Result{Tool: v.ID(), Media: media}, nil
}
