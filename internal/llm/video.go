package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// VideoState is the lifecycle of a long-running video generation.
type VideoState string

const (
	VideoSubmitted VideoState = "submitted"
	VideoPolling   VideoState = "polling"
	VideoReady     VideoState = "ready"
	VideoFailed    VideoState = "failed"
)

var ErrPollLimit = errors.New("video generation did not finish within the poll limit")

type VideoRequest struct {
	Model       string
	Prompt      string
	Image       *Attachment
	AspectRatio string
}

// VideoOperation is the service-side handle of a video generation.
type VideoOperation struct {
	Name  string
	Done  bool
	Error string
	Video *Media

	handle any
}

type VideoBackend interface {
	SubmitVideo(ctx context.Context, req VideoRequest) (*VideoOperation, error)
	PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error)
}

// VideoJob drives one generation through submitted -> polling -> ready|failed,
// giving up after MaxPolls polls.
type VideoJob struct {
	backend  VideoBackend
	interval time.Duration
	maxPolls int

	state VideoState
	polls int
	err   error
}

func NewVideoJob(backend VideoBackend, interval time.Duration, maxPolls int) *VideoJob {
	return &VideoJob{
		backend:  backend,
		interval: interval,
		maxPolls: maxPolls,
	}
}

func (j *VideoJob) State() VideoState { return j.state }

func (j *VideoJob) Polls() int { return j.polls }

func (j *VideoJob) Err() error { return j.err }

// Run submits req and polls until the operation finishes, fails, the poll
// limit is reached, or ctx is done.
func (j *VideoJob) Run(ctx context.Context, req VideoRequest) (*Media, error) {
	op, err := j.backend.SubmitVideo(ctx, req)
	if err != nil {
		return nil, j.fail(&TransportError{Op: "submit video", Err: err})
	}
	j.state = VideoSubmitted
	slog.Info("video generation submitted", "operation", op.Name)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for !op.Done {
		if j.polls >= j.maxPolls {
			return nil, j.fail(ErrPollLimit)
		}
		select {
		case <-ctx.Done():
			return nil, j.fail(ctx.Err())
		case <-ticker.C:
		}

		j.state = VideoPolling
		j.polls++
		op, err = j.backend.PollVideo(ctx, op)
		if err != nil {
			return nil, j.fail(&TransportError{Op: "poll video", Err: err})
		}
	}

	if op.Error != "" {
		return nil, j.fail(&TransportError{Op: "generate video", Err: errors.New(op.Error)})
	}
	if op.Video == nil {
		return nil, j.fail(&TransportError{Op: "generate video", Err: ErrEmptyResponse})
	}

	j.state = VideoReady
	slog.Info("video generation ready", "operation", op.Name, "polls", j.polls)
	return op.Video, nil
}

func (j *VideoJob) fail(err error) error {
	j.state = VideoFailed
	j.err = err
	return err
}

func (g *Gemini) SubmitVideo(ctx context.Context, req VideoRequest) (*VideoOperation, error) {
	var img *genai.Image
	if req.Image != nil {
		img = &genai.Image{ImageBytes: req.Image.Data, MIMEType: req.Image.MIMEType}
	}
	cfg := &genai.GenerateVideosConfig{NumberOfVideos: 1}
	if req.AspectRatio != "" {
		cfg.AspectRatio = req.AspectRatio
	}

	op, err := g.client.Models.GenerateVideos(ctx, req.Model, req.Prompt, img, cfg)
	if err != nil {
		return nil, err
	}
	return convertVideoOperation(op), nil
}

func (g *Gemini) PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error) {
	raw, ok := op.handle.(*genai.GenerateVideosOperation)
	if !ok {
		return nil, fmt.Errorf("operation %q was not created by this backend", op.Name)
	}
	next, err := g.client.Operations.GetVideosOperation(ctx, raw, nil)
	if err != nil {
		return nil, err
	}
	return convertVideoOperation(next), nil
}

func convertVideoOperation(op *genai.GenerateVideosOperation) *VideoOperation {
	out := &VideoOperation{Name: op.Name, Done: op.Done, handle: op}
	if len(op.Error) > 0 {
		if msg, ok := op.Error["message"].(string); ok && msg != "" {
			out.Error = msg
		} else {
			out.Error = fmt.Sprintf("%v", op.Error)
		}
	}
	if op.Response != nil && len(op.Response.GeneratedVideos) > 0 {
		if v := op.Response.GeneratedVideos[0].Video; v != nil {
			mime := v.MIMEType
			if mime == "" {
				mime = "video/mp4"
			}
			out.Video = &Media{MIMEType: mime, Data: v.VideoBytes, URI: v.URI}
		}
	}
	return out
}
