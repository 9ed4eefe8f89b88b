package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeVideoBackend struct {
	doneAfter int
	opError   string
	pollErr   error
	polls     int
}

func (f *fakeVideoBackend) SubmitVideo(ctx context.Context, req VideoRequest) (*VideoOperation, error) {
	return &VideoOperation{Name: "operations/test"}, nil
}

func (f *fakeVideoBackend) PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error) {
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	next := &VideoOperation{Name: op.Name}
	if f.doneAfter > 0 && f.polls >= f.doneAfter {
		next.Done = true
		if f.opError != "" {
			next.Error = f.opError
		} else {
			next.Video = &Media{MIMEType: "video/mp4", URI: "https://example.com/v.mp4"}
		}
	}
	return next, nil
}

func TestVideoJobReady(t *testing.T) {
	backend := &fakeVideoBackend{doneAfter: 3}
	job := NewVideoJob(backend, time.Millisecond, 10)

	video, err := job.Run(context.Background(), VideoRequest{Prompt: "drone flyover"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if video.URI != "https://example.com/v.mp4" {
		t.Errorf("unexpected video %+v", video)
	}
	if job.State() != VideoReady {
		t.Errorf("expected ready, got %s", job.State())
	}
	if job.Polls() != 3 {
		t.Errorf("expected 3 polls, got %d", job.Polls())
	}
}

func TestVideoJobPollLimit(t *testing.T) {
	backend := &fakeVideoBackend{} // never finishes
	job := NewVideoJob(backend, time.Millisecond, 4)

	_, err := job.Run(context.Background(), VideoRequest{Prompt: "drone flyover"})
	if !errors.Is(err, ErrPollLimit) {
		t.Fatalf("expected ErrPollLimit, got %v", err)
	}
	if job.State() != VideoFailed {
		t.Errorf("expected failed, got %s", job.State())
	}
	if backend.polls != 4 {
		t.Errorf("expected exactly 4 polls, got %d", backend.polls)
	}
}

func TestVideoJobOperationError(t *testing.T) {
	backend := &fakeVideoBackend{doneAfter: 1, opError: "safety filter"}
	job := NewVideoJob(backend, time.Millisecond, 10)

	_, err := job.Run(context.Background(), VideoRequest{Prompt: "x"})
	if err == nil || job.State() != VideoFailed {
		t.Fatalf("expected failure, got err=%v state=%s", err, job.State())
	}
	if ClassifyError(err) != ErrorTransport {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestVideoJobCancelled(t *testing.T) {
	backend := &fakeVideoBackend{}
	job := NewVideoJob(backend, time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := job.Run(ctx, VideoRequest{Prompt: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job.State() != VideoFailed {
		t.Errorf("expected failed, got %s", job.State())
	}
}
