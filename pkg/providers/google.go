package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

type GeminiClient struct {
	client *genai.Client
}

// Gemini builds a client, falling back to GEMINI_API_KEY.
func Gemini(ctx context.Context, opts ...ProviderOption) (*GeminiClient, error) {
	params := &ProviderParams{}
	for _, opt := range opts {
		opt(params)
	}

	apiKey := params.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGoogleAI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
	}, nil
}

// Complete sends the system text and the prompt as parts of one user turn.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	var parts []*genai.Part
	if req.System != "" {
		parts = append(parts, &genai.Part{Text: req.System})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, req.Model, []*genai.Content{{Role: "user", Parts: parts}}, nil)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", req.Model, err)
	}
	slog.Debug("gemini completion", "model", req.Model, "elapsed", time.Since(start))
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty completion")
	}
	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", errors.New("gemini: empty completion")
	}
	return text.String(), nil
}
