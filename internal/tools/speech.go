package tools

import (
	"context"
	"encoding/base64"

	"github.com/mtzanidakis/nimbus/internal/llm"
)

const (
	speechModel      = "gemini-2.5-flash-preview-tts"
	speechVoice      = "Kore"
	speechSampleRate = 24000
)

// Speech synthesizes a voice script. The audio comes back as base64 raw
// 16-bit PCM, mono, at 24kHz.
type Speech struct {
	gen llm.Generator
}

func (s *Speech) ID() string { return "speech" }

func (s *Speech) Description() string { return "Text to speech for voice line scripts" }

func (s *Speech) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	voice := in.Voice
	if voice == "" {
		voice = speechVoice
	}
	resp, err := generate(ctx, s.gen, llm.Request{
		Model:    speechModel,
		Prompt:   in.Prompt,
		Modality: llm.ModalityAudio,
		Voice:    voice,
	})
	if err != nil {
		return nil, err
	}
	for _, m := range resp.Media {
		if len(m.Data) > 0 {
			return &Result{
				Tool:       s.ID(),
				Audio:      base64.StdEncoding.EncodeToString(m.Data),
				SampleRate: speechSampleRate,
			}, nil
		}
	}
	return nil, &llm.TransportError{Op: "speech", Err: llm.ErrEmptyResponse}
}
