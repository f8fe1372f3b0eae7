package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// AIProvider identifies an embedding service provider.
type AIProvider string

// Available embedding providers.
const (
	// AIProviderOllama is a local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is the OpenAI API or a compatible endpoint.
	AIProviderOpenAI AIProvider = "openai"
)

// IsValid returns true if the provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// StorageBackend selects the ContentStore implementation.
type StorageBackend string

// Available storage backends.
const (
	StorageSQLite   StorageBackend = "sqlite"
	StoragePostgres StorageBackend = "postgres"
	StorageMemory   StorageBackend = "memory"
)

// IsValid returns true if the backend is recognised.
func (b StorageBackend) IsValid() bool {
	switch b {
	case StorageSQLite, StoragePostgres, StorageMemory:
		return true
	default:
		return false
	}
}

// ServerSettings identifies the protocol server to clients.
type ServerSettings struct {
	Name    string
	Version string
}

// EmbeddingSettings holds embedding provider and client configuration.
type EmbeddingSettings struct {
	Provider AIProvider
	Model    string

	// BaseURL is the API endpoint, empty for the provider default.
	BaseURL string

	// APIKey is the API key (for OpenAI).
	APIKey string

	// Dimensions overrides the model's default vector size.
	Dimensions int

	// BatchSize is the number of texts sent per remote call.
	BatchSize int

	// Concurrency bounds the remote calls in flight for one embedding request.
	Concurrency int

	// MaxAttempts bounds the tries per remote call, including the first.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RequestTimeout bounds every remote call.
	RequestTimeout time.Duration

	// RequestsPerSecond throttles remote calls; zero disables throttling.
	RequestsPerSecond float64

	// QueryCacheSize is the number of query embeddings kept in memory.
	QueryCacheSize int
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// StorageSettings holds ContentStore configuration.
type StorageSettings struct {
	Backend StorageBackend

	// DataDir holds the SQLite database file.
	DataDir string

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// BatchSize is the number of units written per transaction.
	BatchSize int

	// OperationTimeout bounds every PostgreSQL call; zero disables the bound.
	// Exceeding it is a transient failure.
	OperationTimeout time.Duration
}

// IngestionSettings holds ingestion configuration.
type IngestionSettings struct {
	// MaxChunkSize is the chunk budget in bytes. Larger bodies are chunked and averaged.
	MaxChunkSize int

	// Pattern selects section files when loading a directory.
	Pattern string

	// DefaultSourceType is assigned to loaded units that do not declare one.
	DefaultSourceType string
}

// SearchSettings holds result-limit configuration.
type SearchSettings struct {
	DefaultLimit int
	MaxLimit     int
}

// VocabularySettings is the allow-list of labels accepted at the configuration boundary.
type VocabularySettings struct {
	ContentTypes []string
	SourceTypes  []string

	// TypeKeywords maps a content type to the title keywords that assign it.
	TypeKeywords map[string][]string

	// TagKeywords maps a tag to the body keywords that assign it.
	TagKeywords map[string][]string
}

// AllowsContentType reports whether label is in the vocabulary.
func (v VocabularySettings) AllowsContentType(label string) bool {
	return slices.Contains(v.ContentTypes, label)
}

// ClassifierRule configures one span classifier.
type ClassifierRule struct {
	// Kind is one of "font_size", "color" or "keyword".
	Kind  string
	Label string

	MinSize  float64
	Colors   []string
	Keywords []string
}

// Settings is the process configuration. It is loaded once at start-up and
// passed by value to every component; nothing mutates it afterwards.
type Settings struct {
	Server      ServerSettings
	Embedding   EmbeddingSettings
	Storage     StorageSettings
	Ingestion   IngestionSettings
	Search      SearchSettings
	Vocabulary  VocabularySettings
	Classifiers []ClassifierRule
}

// DefaultSettings returns settings with the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Name:    "content-server",
			Version: "1.0.0",
		},
		Embedding: EmbeddingSettings{
			Provider:       AIProviderOpenAI,
			Model:          "text-embedding-ada-002",
			BatchSize:      20,
			Concurrency:    4,
			MaxAttempts:    4,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
			RequestTimeout: 60 * time.Second,
			QueryCacheSize: 256,
		},
		Storage: StorageSettings{
			Backend:          StorageSQLite,
			BatchSize:        100,
			OperationTimeout: 30 * time.Second,
		},
		Ingestion: IngestionSettings{
			MaxChunkSize:      32000,
			Pattern:           "*_section_*.md",
			DefaultSourceType: "official",
		},
		Search: SearchSettings{
			DefaultLimit: DefaultSearchLimit,
			MaxLimit:     MaxSearchLimit,
		},
		Vocabulary: VocabularySettings{
			ContentTypes: []string{"reference", "procedure", "concept", "example"},
			SourceTypes:  []string{"official", "supplementary", "annotation", "campaign_notes"},
			TypeKeywords: map[string][]string{
				"reference": {"reference", "definition", "glossary", "index"},
				"procedure": {"procedure", "rule", "mechanic", "process", "step"},
				"concept":   {"concept", "theory", "principle", "explanation"},
				"example":   {"example", "sample", "demo", "case study"},
			},
			TagKeywords: map[string][]string{
				"technical": {"api", "code", "programming", "technical"},
				"process":   {"workflow", "process", "procedure"},
				"guide":     {"guide", "tutorial", "how-to", "instructions"},
			},
		},
		Classifiers: []ClassifierRule{
			{Kind: "font_size", Label: "header", MinSize: 14},
		},
	}
}

// Validate checks the settings for values no component can work with.
func (s Settings) Validate() error {
	var errs []error
	if !s.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage backend %q: %w", s.Storage.Backend, ErrUnsupportedType))
	}
	if s.Storage.Backend == StoragePostgres && s.Storage.DatabaseURL == "" {
		errs = append(errs, errors.New("storage backend postgres requires DATABASE_URL"))
	}
	if s.Storage.BatchSize <= 0 {
		errs = append(errs, errors.New("storage batch size must be positive"))
	}
	if s.Storage.OperationTimeout < 0 {
		errs = append(errs, errors.New("storage operation timeout must not be negative"))
	}
	if s.Embedding.BatchSize <= 0 {
		errs = append(errs, errors.New("embedding batch size must be positive"))
	}
	if s.Embedding.Concurrency <= 0 {
		errs = append(errs, errors.New("embedding concurrency must be positive"))
	}
	if s.Embedding.MaxAttempts <= 0 {
		errs = append(errs, errors.New("embedding max attempts must be positive"))
	}
	if s.Ingestion.MaxChunkSize <= 0 {
		errs = append(errs, errors.New("max chunk size must be positive"))
	}
	if s.Search.MaxLimit <= 0 || s.Search.DefaultLimit <= 0 || s.Search.DefaultLimit > s.Search.MaxLimit {
		errs = append(errs, fmt.Errorf("search limits: default %d, max %d", s.Search.DefaultLimit, s.Search.MaxLimit))
	}
	if len(s.Vocabulary.ContentTypes) == 0 {
		errs = append(errs, errors.New("at least one content type must be configured"))
	}
	if len(s.Vocabulary.SourceTypes) > 0 && !slices.Contains(s.Vocabulary.SourceTypes, s.Ingestion.DefaultSourceType) {
		errs = append(errs, fmt.Errorf("default source type %q is not a configured source type", s.Ingestion.DefaultSourceType))
	}
	for _, r := range s.Classifiers {
		switch r.Kind {
		case "font_size", "color", "keyword":
		default:
			errs = append(errs, fmt.Errorf("classifier kind %q: %w", r.Kind, ErrUnsupportedType))
		}
	}
	return errors.Join(errs...)
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		// Ollama models
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
		// OpenAI models
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	}
}

// DefaultEmbeddingModels returns default models for each provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-ada-002",
	}
}
