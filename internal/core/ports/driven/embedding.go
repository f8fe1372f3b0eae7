// Package driven provides interfaces for infrastructure adapters (secondary/outbound ports).
package driven

import "context"

// EmbeddingProvider generates vector embeddings from text with a remote model.
//
// Implementations make exactly one remote call per EmbedBatch and do not retry:
// retry, batching and fallback are the EmbeddingClient's job. Retryable failures
// (timeouts, rate limits, 5xx) are returned as *domain.TransientError.
//
// Implementations may include:
//   - OpenAI (text-embedding-ada-002, text-embedding-3-small, text-embedding-3-large)
//   - Ollama (nomic-embed-text, all-minilm)
type EmbeddingProvider interface {
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g., 384, 1536, 3072).
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
