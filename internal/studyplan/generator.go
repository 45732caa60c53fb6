package studyplan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash-exp"

const (
	generationTemperature     = 0.3
	generationTopP            = 1.0
	generationMaxOutputTokens = 1024
)

// ErrMissingAPIKey indicates that no Gemini API key was configured.
var ErrMissingAPIKey = errors.New("studyplan: gemini api key is required")

// TextGenerator produces a completion for one prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator backs TextGenerator with the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator constructs a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, apiKey string, model string) (*GeminiGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("studyplan: create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// GenerateText requests a low-temperature completion and returns its text.
func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	result, err := g.client.Models.GenerateContent(ctx,
		g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](generationTemperature),
			TopP:            genai.Ptr[float32](generationTopP),
			MaxOutputTokens: generationMaxOutputTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("studyplan: gemini generate: %w", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("studyplan: gemini returned an empty completion")
	}
	return text, nil
}
