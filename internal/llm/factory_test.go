package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/promiselink/internal/model"
)

func TestNewClassifier(t *testing.T) {
	ctx := context.Background()

	c, err := NewClassifier(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewClassifier(ctx, Config{Provider: "OpenAI", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	c, err = NewClassifier(ctx, Config{Provider: "claude", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())

	c, err = NewClassifier(ctx, Config{Provider: "ollama", Model: "llama3.1"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", c.Name())

	_, err = NewClassifier(ctx, Config{Provider: "eliza"})
	assert.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	e, err := NewEmbedder(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = NewEmbedder(ctx, Config{Provider: "openai", APIKey: "k", Model: "text-embedding-3-small"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", e.Model())

	_, err = NewEmbedder(ctx, Config{Provider: "anthropic", APIKey: "k"})
	assert.Error(t, err, "anthropic has no embeddings endpoint")
}

func TestClassifierConfig_EnvFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	cfg := ClassifierConfig(model.ClassifierConfig{
		Provider:  "anthropic",
		Model:     "claude-3-5-haiku-20241022",
		Timeout:   10 * time.Second,
		MaxTokens: 200,
	}, model.HTTPConfig{HTTPSProxy: "http://proxy:3128"})

	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 200, cfg.MaxTokens)
	assert.Equal(t, "http://proxy:3128", cfg.HTTPSProxy)

	cfg = ClassifierConfig(model.ClassifierConfig{Provider: "anthropic", APIKey: "explicit"}, model.HTTPConfig{})
	assert.Equal(t, "explicit", cfg.APIKey)
}

func TestEmbeddingConfig_OllamaBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434")

	cfg := EmbeddingConfig(model.EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text"}, model.HTTPConfig{})
	assert.Equal(t, "http://gpu-box:11434", cfg.BaseURL)
}
