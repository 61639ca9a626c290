package services

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini Image Generation Service
// Uses the Google Gen AI SDK to generate the still images for the
// single-asset and multi-asset flows.
// ---------------------------------------------------------------------------

const defaultImageModel = "gemini-2.5-flash-image"

type ImageService struct {
	apiKey string
	model  string
}

// NewImageService creates a Gemini image generation service. An empty model
// falls back to the default.
func NewImageService(apiKey, model string) *ImageService {
	if model == "" {
		model = defaultImageModel
	}
	return &ImageService{
		apiKey: apiKey,
		model:  model,
	}
}

// GenerateImage generates a single image for the given scene prompt. Each
// call is independent — safe for parallel execution across assets.
func (s *ImageService) GenerateImage(ctx context.Context, prompt, aspectRatio string) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	if aspectRatio == "" {
		aspectRatio = "9:16"
	}

	fullPrompt := fmt.Sprintf(`%s

Render as a single high-detail cinematic frame composed for %s framing. No text, captions, or watermarks in the image.`, prompt, aspectRatio)

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	log.Printf("[Gemini] Generating image (model=%s, promptLen=%d, aspect=%s)", s.model, len(prompt), aspectRatio)

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(fullPrompt), config)
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates in image response")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			log.Printf("[Gemini] Image generated (%d bytes, mime=%s)", len(part.InlineData.Data), part.InlineData.MIMEType)
			return part.InlineData.Data, nil
		}
	}

	return nil, fmt.Errorf("no image data in response")
}
