package providers

import (
	"context"
	"fmt"
)

// Request is one completion call. System is sent ahead of Prompt as
// standing instructions; it may be empty.
type Request struct {
	Model  string
	System string
	Prompt string
}

// Completer turns a request into a single text completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type ProviderParams struct {
	BaseURL string
	APIKey  string
}

type ProviderOption func(*ProviderParams)

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

// New returns the completer for a provider name: "openai" or "google".
func New(ctx context.Context, name string, opts ...ProviderOption) (Completer, error) {
	switch name {
	case "openai", "":
		return OpenAi(ctx, opts...), nil
	case "google":
		client, err := Gemini(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// DefaultModel is the model used when none is configured.
func DefaultModel(name string) string {
	if name == "google" {
		return "gemini-2.0-flash-exp"
	}
	return "gpt-4o-mini"
}
