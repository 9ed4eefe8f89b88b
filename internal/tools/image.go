package tools

import (
	"context"
	"strings"

	"github.com/mtzanidakis/nimbus/internal/llm"
)

const (
	inspectModel = "gemini-2.5-flash"
	previewModel = "gemini-2.5-flash-image"

	inspectPrompt = "Act as a Roof Inspector. Analyze this image for hail hits, granule loss, wind uplift, and shingle blistering. Estimate the age of the roof and provide a damage confidence score."
)

// ImageInspect analyzes an uploaded drone or site photo for storm damage.
// Prompt is optional and adds field notes to the inspection.
type ImageInspect struct {
	gen llm.Generator
}

func (i *ImageInspect) ID() string { return "image-inspect" }

func (i *ImageInspect) Description() string {
	return "Damage scan of a roof photo for hail, wind uplift and granule loss"
}

func (i *ImageInspect) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Image == nil || len(in.Image.Data) == 0 {
		return nil, ErrNoImage
	}
	img := *in.Image
	if img.MIMEType == "" {
		img.MIMEType = "image/jpeg"
	}

	prompt := inspectPrompt
	if in.Prompt != "" {
		prompt += " Field notes: " + in.Prompt
	}
	resp, err := generate(ctx, i.gen, llm.Request{
		Model:       inspectModel,
		Prompt:      prompt,
		Attachments: []llm.Attachment{img},
	})
	if err != nil {
		return nil, err
	}
	return &Result{Tool: i.ID(), Text: resp.Text}, nil
}

// RoofPreview renders a photorealistic roof from a material description.
type RoofPreview struct {
	gen llm.Generator
}

func (r *RoofPreview) ID() string { return "roof-preview" }

func (r *RoofPreview) Description() string {
	return "Photorealistic preview of a roof in the described materials"
}

func (r *RoofPreview) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	var b strings.Builder
	b.WriteString("A photorealistic roof with: ")
	b.WriteString(in.Prompt)
	b.WriteString(". High detail, 4k, architectural photography style.")
	if in.AspectRatio != "" {
		b.WriteString(" Aspect ratio " + in.AspectRatio + ".")
	}

	resp, err := generate(ctx, r.gen, llm.Request{
		Model:    previewModel,
		Prompt:   b.String(),
		Modality: llm.ModalityImage,
	})
	if err != nil {
		return nil, err
	}
	for _, m := range resp.Media {
		if len(m.Data) > 0 {
			return &Result{Tool: r.ID(), Text: resp.Text, Media: &m}, nil
		}
	}
	return nil, &llm.TransportError{Op: "roof preview", Err: llm.ErrEmptyResponse}
}
