// Package llm wraps the hosted generation service the agents and tools call.
package llm

import (
	"context"

	"google.golang.org/genai"
)

// Modality selects the kind of output requested from the model.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
	ModalityImage Modality = "image"
)

// Request is a fully formed generation call.
type Request struct {
	Model             string
	Prompt            string
	SystemInstruction string
	Attachments       []Attachment

	GoogleSearch   bool
	ThinkingBudget int32

	ResponseMIMEType string
	ResponseSchema   *genai.Schema

	Modality Modality
	Voice    string
}

// Attachment is inline binary content sent alongside the prompt.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Citation is a grounding source attached to a response.
type Citation struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}

// Media is inline binary output (audio, image or video bytes), or a URI
// when the service hands back a download location instead.
type Media struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

type Response struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	Media     []Media    `json:"media,omitempty"`
}

// Generator performs one request/response cycle against the service.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
