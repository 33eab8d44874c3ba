package genai

import (
	"context"
	"fmt"
	"strings"

	gemini "google.golang.org/genai"
)

// contentGenerator is the subset of gemini.Models the backend uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error)
}

type geminiBackend struct {
	models      contentGenerator
	model       string
	temperature float32
}

func newGeminiBackend(apiKey, model string, temperature float64) (*geminiBackend, error) {
	client, err := gemini.NewClient(context.Background(), &gemini.ClientConfig{
		APIKey:  apiKey,
		Backend: gemini.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiBackend{models: client.Models, model: model, temperature: float32(temperature)}, nil
}

func (b *geminiBackend) name() string { return BackendGemini }

func (b *geminiBackend) complete(ctx context.Context, req completionRequest) (string, error) {
	parts := []*gemini.Part{gemini.NewPartFromText(req.User)}
	if len(req.Image) > 0 {
		parts = append(parts, gemini.NewPartFromBytes(req.Image, req.ImageMIME))
	}
	config := &gemini.GenerateContentConfig{
		SystemInstruction: gemini.NewContentFromText(req.System, gemini.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       gemini.Ptr(b.temperature),
	}

	resp, err := b.models.GenerateContent(ctx, b.model, []*gemini.Content{gemini.NewContentFromParts(parts, gemini.RoleUser)}, config)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrNoChoicesReturned
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrNoChoicesReturned
	}
	return text, nil
}
