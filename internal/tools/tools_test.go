package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/registry"
)

const fraudJSON = "```json\n" + `{"integrityScore": 42, "riskLevel": "HIGH",
"flaggedSentences": [{"sentence": "O&P not warranted", "reason": "denial", "category": "DENIAL_TACTIC"}],
"regulatoryContext": "IRC R905"}` + "\n```"

type stubVideo struct{ polls int }

func (s *stubVideo) SubmitVideo(context.Context, llm.VideoRequest) (*llm.VideoOperation, error) {
	return &llm.VideoOperation{Name: "operations/1"}, nil
}

func (s *stubVideo) PollVideo(_ context.Context, op *llm.VideoOperation) (*llm.VideoOperation, error) {
	s.polls++
	return &llm.VideoOperation{Name: op.Name, Done: true, Video: &llm.Media{MIMEType: "video/mp4", URI: "https://example.com/v.mp4"}}, nil
}

func newTestSet(t *testing.T, gen llm.Generator, video llm.VideoBackend) *Set {
	t.Helper()
	reg, err := registry.Default(nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	set, err := NewSet(reg, gen, video, config.VideoConfig{Model: "veo", PollInterval: time.Millisecond, MaxPolls: 3})
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	return set
}

func TestListAndUnknown(t *testing.T) {
	set := newTestSet(t, nil, nil)

	infos := set.List()
	if len(infos) != 6 || infos[0].ID != "advisor" || infos[1].ID != "fraud-scan" {
		t.Errorf("unexpected listing %+v", infos)
	}
	if _, err := set.Get("video"); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected video missing without backend, got %v", err)
	}
	if _, err := set.Run(context.Background(), "nope", Input{Prompt: "x"}); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestEmptyPrompt(t *testing.T) {
	set := newTestSet(t, nil, &stubVideo{})
	for _, id := range []string{"fraud-scan", "grounded-search", "speech", "video", "roof-preview", "advisor"} {
		if _, err := set.Run(context.Background(), id, Input{Prompt: "   "}); !errors.Is(err, ErrEmptyPrompt) {
			t.Errorf("%s: expected ErrEmptyPrompt, got %v", id, err)
		}
	}
}

func TestFraudScan(t *testing.T) {
	var got llm.Request
	set := newTestSet(t, llm.GeneratorFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		got = req
		return &llm.Response{Text: fraudJSON}, nil
	}), nil)

	res, err := set.Run(context.Background(), "fraud-scan", Input{Prompt: "Partial replacement only"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.ResponseSchema == nil || !strings.Contains(got.Prompt, "Partial replacement only") {
		t.Errorf("unexpected request %+v", got)
	}
	analysis, ok := res.Data.(registry.FraudAnalysis)
	if !ok || analysis.RiskLevel != "HIGH" || len(analysis.FlaggedSentences) != 1 {
		t.Errorf("unexpected analysis %+v", res.Data)
	}
}

func TestFraudScanRejectsMalformed(t *testing.T) {
	set := newTestSet(t, llm.GeneratorFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: `{"riskLevel": "HIGH"}`}, nil
	}), nil)

	_, err := set.Run(context.Background(), "fraud-scan", Input{Prompt: "estimate"})
	if llm.ClassifyError(err) != llm.ErrorParse {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestGroundedSearchTabs(t *testing.T) {
	var got llm.Request
	set := newTestSet(t, llm.GeneratorFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		got = req
		return &llm.Response{
			Text:      "Top guest post targets",
			Citations: []llm.Citation{{Title: "Roofing Today", URI: "https://example.com/a"}},
		}, nil
	}), nil)

	res, err := set.Run(context.Background(), "grounded-search", Input{Prompt: "find links", Tab: "backlinks"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !got.GoogleSearch {
		t.Error("expected search grounding")
	}
	want := "Act as an SEO Link Building Specialist. Focus on high domain authority opportunities for roofing contractors. Context: nimbusroofing.com McKinney TX. Task: find links"
	if got.Prompt != want {
		t.Errorf("unexpected prompt %q", got.Prompt)
	}
	if len(res.Citations) != 1 || res.Citations[0].URI != "https://example.com/a" {
		t.Errorf("unexpected citations %+v", res.Citations)
	}

	if _, err := set.Run(context.Background(), "grounded-search", Input{Prompt: "x", Tab: "ads"}); err == nil {
		t.Error("expected unknown tab error")
	}
}

func TestSpeech(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	var got llm.Request
	set := newTestSet(t, llm.GeneratorFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		got = req
		return &llm.Response{Media: []llm.Media{{MIMEType: "audio/L16;rate=24000", Data: pcm}}}, nil
	}), nil)

	res, err := set.Run(context.Background(), "speech", Input{Prompt: "Thanks for calling Nimbus Roofing"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Modality != llm.ModalityAudio || got.Voice != "Kore" || got.Model != speechModel {
		t.Errorf("unexpected request %+v", got)
	}
	if res.Audio != base64.StdEncoding.EncodeToString(pcm) || res.SampleRate != 24000 {
		t.Errorf("unexpected audio result %+v", res)
	}
}

func TestSpeechWithoutAudio(t *testing.T) {
	set := newTestSet(t, llm.GeneratorFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "no audio"}, nil
	}), nil)

	_, err := set.Run(context.Background(), "speech", Input{Prompt: "hello"})
	if llm.ClassifyError(err) != llm.ErrorTransport {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestVideo(t *testing.T) {
	backend := &stubVideo{}
	set := newTestSet(t, nil, backend)

	res, err := set.Run(context.Background(), "video", Input{Prompt: "drone flyover of a new roof"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Media == nil || res.Media.URI != "https://example.com/v.mp4" {
		t.Errorf("unexpected media %+v", res.Media)
	}
	if backend.polls != 1 {
		t.Errorf("expected one poll, got %d", backend.polls)
	}
}

func TestImageInspect(t *testing.T) {
	var got llm.Request
	set := newTestSet(t, llm.GeneratorFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		got = req
		return &llm.Response{Text: "Hail impacts on north slope, confidence 0.92"}, nil
	}), nil)

	photo := &llm.Attachment{Data: []byte{0xff, 0xd8, 0xff}}
	res, err := set.Run(context.Background(), "image-inspect", Input{Prompt: "north slope, drone pass 2", Image: photo})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].MIMEType != "image/jpeg" || len(got.Attachments[0].Data) != 3 {
		t.Errorf("expected the photo attached as jpeg, got %+v", got.Attachments)
	}
	if !strings.HasPrefix(got.Prompt, "Act as a Roof Inspector.") || !strings.Contains(got.Prompt, "drone pass 2") {
		t.Errorf("unexpected prompt %q", got.Prompt)
	}
	if photo.MIMEType != "" {
		t.Error("caller's attachment must not be modified")
	}
	if !strings.Contains(res.Text, "confidence") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestImageInspectRequiresImage(t *testing.T) {
	set := newTestSet(t, llm.GeneratorFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		t.Error("generator must not be called without an image")
		return nil, nil
	}), nil)

	for _, in := range []Input{{Prompt: "check it"}, {Image: &llm.Attachment{MIMEType: "image/png"}}} {
		if _, err := set.Run(context.Background(), "image-inspect", in); !errors.Is(err, ErrNoImage) {
			t.Errorf("expected ErrNoImage, got %v", err)
		}
	}
}

func TestRoofPreview(t *testing.T) {
	var got llm.Request
	set := newTestSet(t, llm.GeneratorFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		got = req
		return &llm.Response{Media: []llm.Media{{MIMEType: "image/png", Data: []byte{0x89, 0x50}}}}, nil
	}), nil)

	res, err := set.Run(context.Background(), "roof-preview", Input{Prompt: "Onyx Black architectural shingles", AspectRatio: "16:9"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Modality != llm.ModalityImage || got.Model != previewModel {
		t.Errorf("unexpected request %+v", got)
	}
	if !strings.Contains(got.Prompt, "Onyx Black") || !strings.Contains(got.Prompt, "16:9") {
		t.Errorf("unexpected prompt %q", got.Prompt)
	}
	if res.Media == nil || res.Media.MIMEType != "image/png" || len(res.Media.Data) != 2 {
		t.Errorf("unexpected media %+v", res.Media)
	}
}

func TestRoofPreviewWithoutImage(t *testing.T) {
	set := newTestSet(t, llm.GeneratorFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "cannot draw that"}, nil
	}), nil)

	_, err := set.Run(context.Background(), "roof-preview", Input{Prompt: "metal roof"})
	if llm.ClassifyError(err) != llm.ErrorTransport {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestAdvisor(t *testing.T) {
	var got llm.Request
	set := newTestSet(t, llm.GeneratorFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		got = req
		return &llm.Response{Text: "Focus on FORENSICS this week."}, nil
	}), nil)

	res, err := set.Run(context.Background(), "advisor", Input{Prompt: "Where should the team focus after the hail storm?"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(got.SystemInstruction, "4-Step Business Lifecycle") {
		t.Errorf("expected decision engine instruction, got %q", got.SystemInstruction)
	}
	if got.Prompt != "Where should the team focus after the hail storm?" {
		t.Errorf("question must be sent verbatim, got %q", got.Prompt)
	}
	if res.Text != "Focus on FORENSICS this week." {
		t.Errorf("unexpected result %+v", res)
	}
}
