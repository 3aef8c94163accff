package llm

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyResponse is returned when a provider answers without any text
var ErrEmptyResponse = errors.New("empty response from provider")

// Embedder turns texts into vectors
type Embedder interface {
	// Name returns the provider name
	Name() string

	// Model returns the embedding model, part of every cache key
	Model() string

	// Embed returns one vector per input text, in input order
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Classifier answers a single-turn prompt. The validator uses it as the
// relevance oracle.
type Classifier interface {
	// Name returns the provider name
	Name() string

	// Complete sends one prompt and returns the raw response text
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest contains the input for a classifier call
type CompletionRequest struct {
	// System is the instruction preamble
	System string

	// Prompt is the user message
	Prompt string

	// MaxTokens limits the response length (0 = provider config)
	MaxTokens int

	// JSON asks providers that support it for a JSON object response
	JSON bool
}

// CompletionResponse contains the classifier output
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "gemini", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for hosted providers
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, test servers)
	BaseURL string

	// Timeout for a single API request
	Timeout time.Duration

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// timeout returns the configured request timeout or fallback
func (c Config) timeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return fallback
}

func (c Config) maxTokens(req CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 400
}
