package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/promiselink/internal/model"
)

// NewClassifier creates the relevance classifier named by config.Provider.
// An empty provider returns nil (validation disabled).
func NewClassifier(ctx context.Context, config Config) (Classifier, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "gemini", "google":
		return NewGeminiProvider(ctx, config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown classifier provider: %s (supported: openai, anthropic, gemini, ollama)", config.Provider)
	}
}

// NewEmbedder creates the embedder named by config.Provider. An empty provider
// returns nil and the candidate generator falls back to keyword mode.
func NewEmbedder(ctx context.Context, config Config) (Embedder, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "gemini", "google":
		return NewGeminiProvider(ctx, config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, gemini, ollama)", config.Provider)
	}
}

// ClassifierConfig converts the classifier section of the run config
func ClassifierConfig(c model.ClassifierConfig, proxy model.HTTPConfig) Config {
	cfg := Config{
		Provider:   c.Provider,
		Model:      c.Model,
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Timeout:    c.Timeout,
		MaxTokens:  c.MaxTokens,
		HTTPProxy:  proxy.HTTPProxy,
		HTTPSProxy: proxy.HTTPSProxy,
		NoProxy:    proxy.NoProxy,
	}
	return withEnv(cfg)
}

// EmbeddingConfig converts the embedding section of the run config
func EmbeddingConfig(c model.EmbeddingConfig, proxy model.HTTPConfig) Config {
	cfg := Config{
		Provider:   c.Provider,
		Model:      c.Model,
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Timeout:    c.Timeout,
		HTTPProxy:  proxy.HTTPProxy,
		HTTPSProxy: proxy.HTTPSProxy,
		NoProxy:    proxy.NoProxy,
	}
	return withEnv(cfg)
}

// withEnv fills the API key and base URL from the provider's environment variables
func withEnv(cfg Config) Config {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	case "anthropic", "claude":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	case "gemini", "google":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	case "ollama":
		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
	return cfg
}
