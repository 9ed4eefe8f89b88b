package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"
)

const defaultVoice = "Kore"

// Gemini implements Generator and VideoBackend on the Gemini API.
type Gemini struct {
	client       *genai.Client
	defaultModel string
}

// NewGemini creates a client. timeout bounds each HTTP call; zero leaves it
// to the request context.
func NewGemini(ctx context.Context, apiKey, defaultModel string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Gemini{client: client, defaultModel: defaultModel}, nil
}

func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	slog.Debug("generate content", "model", model, "search", req.GoogleSearch, "schema", req.ResponseSchema != nil)

	resp, err := g.client.Models.GenerateContent(ctx, model, buildContents(req), buildConfig(req))
	if err != nil {
		return nil, &TransportError{Op: "generate content", Err: err}
	}
	return convertResponse(resp, req.Modality)
}

func buildContents(req Request) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// buildConfig returns nil when the request needs no generation config.
func buildConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	used := false

	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
		used = true
	}

	if req.GoogleSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		used = true
	}

	if req.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(req.ThinkingBudget)}
		used = true
	}

	if req.ResponseMIMEType != "" {
		cfg.ResponseMIMEType = req.ResponseMIMEType
		used = true
	}
	if req.ResponseSchema != nil {
		cfg.ResponseSchema = req.ResponseSchema
		if cfg.ResponseMIMEType == "" {
			cfg.ResponseMIMEType = "application/json"
		}
		used = true
	}

	switch req.Modality {
	case ModalityAudio:
		voice := req.Voice
		if voice == "" {
			voice = defaultVoice
		}
		cfg.ResponseModalities = []string{string(genai.ModalityAudio)}
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
		used = true
	case ModalityImage:
		cfg.ResponseModalities = []string{string(genai.ModalityImage), string(genai.ModalityText)}
		used = true
	}

	if !used {
		return nil
	}
	return cfg
}

func convertResponse(resp *genai.GenerateContentResponse, modality Modality) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &TransportError{Op: "generate content", Err: ErrEmptyResponse}
	}

	out := &Response{}
	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			if p.Thought {
				continue
			}
			if p.Text != "" {
				out.Text += p.Text
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				out.Media = append(out.Media, Media{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
			}
		}
	}

	if gm := cand.GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil {
				continue
			}
			if chunk.Web != nil && chunk.Web.URI != "" {
				out.Citations = append(out.Citations, Citation{Title: chunk.Web.Title, URI: chunk.Web.URI})
			}
			if chunk.Maps != nil && chunk.Maps.URI != "" {
				out.Citations = append(out.Citations, Citation{Title: chunk.Maps.Title, URI: chunk.Maps.URI})
			}
		}
	}

	switch modality {
	case ModalityAudio, ModalityImage:
		if len(out.Media) == 0 {
			return nil, &TransportError{Op: "generate content", Err: fmt.Errorf("no %s data received", modality)}
		}
	default:
		if out.Text == "" {
			reason := ""
			if cand.FinishReason != "" {
				reason = string(cand.FinishReason)
			}
			if reason != "" {
				return nil, &TransportError{Op: "generate content", Err: fmt.Errorf("%w (finish reason %s)", ErrEmptyResponse, reason)}
			}
			return nil, &TransportError{Op: "generate content", Err: ErrEmptyResponse}
		}
	}

	return out, nil
}
