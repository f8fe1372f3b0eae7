// Package ai provides factory functions for creating embedding provider adapters.
package ai

import (
	"context"
	"fmt"
	"time"

	ollamaembed "github.com/custodia-labs/lorekeep/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/lorekeep/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// CreateEmbeddingProvider creates the embedding provider named by settings.
func CreateEmbeddingProvider(settings domain.EmbeddingSettings) (driven.EmbeddingProvider, error) {
	if !settings.Provider.IsValid() {
		return nil, fmt.Errorf("%w: embedding provider %q: %w",
			domain.ErrEmbeddingUnavailable, settings.Provider, domain.ErrUnsupportedType)
	}
	if !settings.IsConfigured() {
		return nil, fmt.Errorf("%w: %s requires an API key (set OPENAI_API_KEY)",
			domain.ErrEmbeddingUnavailable, settings.Provider)
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return createOllamaEmbedding(settings), nil
	default:
		return createOpenAIEmbedding(settings)
	}
}

// CreateAndValidateEmbeddingProvider creates an embedding provider and validates connectivity.
func CreateAndValidateEmbeddingProvider(ctx context.Context, settings domain.EmbeddingSettings) (driven.EmbeddingProvider, error) {
	provider, err := CreateEmbeddingProvider(settings)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := provider.Ping(pingCtx); err != nil {
		provider.Close()
		return nil, fmt.Errorf("%w: service unreachable (%w)", domain.ErrEmbeddingUnavailable, err)
	}
	return provider, nil
}

// createOllamaEmbedding creates an Ollama embedding provider.
func createOllamaEmbedding(settings domain.EmbeddingSettings) driven.EmbeddingProvider {
	return ollamaembed.NewEmbeddingService(ollamaembed.Config{
		BaseURL:    settings.BaseURL,
		Model:      modelOrDefault(settings),
		Timeout:    settings.RequestTimeout,
		Dimensions: dimensionsFor(settings),
	})
}

// createOpenAIEmbedding creates an OpenAI embedding provider.
func createOpenAIEmbedding(settings domain.EmbeddingSettings) (driven.EmbeddingProvider, error) {
	return openaiembed.NewEmbeddingService(openaiembed.Config{
		APIKey:     settings.APIKey,
		BaseURL:    settings.BaseURL,
		Model:      modelOrDefault(settings),
		Timeout:    settings.RequestTimeout,
		Dimensions: dimensionsFor(settings),
	})
}

func modelOrDefault(settings domain.EmbeddingSettings) string {
	if settings.Model != "" {
		return settings.Model
	}
	return domain.DefaultEmbeddingModels()[settings.Provider]
}

// dimensionsFor prefers an explicit override, then the known model size.
func dimensionsFor(settings domain.EmbeddingSettings) int {
	if settings.Dimensions > 0 {
		return settings.Dimensions
	}
	return domain.EmbeddingDimensions()[modelOrDefault(settings)]
}
