package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// DefaultEnvFile is read from the working directory when present.
const DefaultEnvFile = ".env"

// Environment variables recognised by Load.
const (
	EnvDatabaseURL          = "DATABASE_URL"
	EnvOpenAIAPIKey         = "OPENAI_API_KEY"
	EnvOpenAIBaseURL        = "OPENAI_BASE_URL"
	EnvOllamaBaseURL        = "OLLAMA_BASE_URL"
	EnvEmbeddingProvider    = "EMBEDDING_PROVIDER"
	EnvEmbeddingModel       = "EMBEDDING_MODEL"
	EnvEmbeddingDimensions  = "EMBEDDING_DIMENSIONS"
	EnvEmbeddingBatchSize   = "DEFAULT_BATCH_SIZE"
	EnvEmbeddingConcurrency = "EMBEDDING_CONCURRENCY"
	EnvMaxChunkSize         = "MAX_CHUNK_SIZE"
	EnvStoreBatchSize       = "STORE_BATCH_SIZE"
	EnvStorageBackend       = "STORAGE_BACKEND"
	EnvDataDir              = "LOREKEEP_DATA_DIR"
	EnvServerName           = "MCP_SERVER_NAME"
	EnvServerVersion        = "MCP_SERVER_VERSION"
	EnvDefaultSearchLimit   = "DEFAULT_SEARCH_LIMIT"
	EnvMaxSearchLimit       = "MAX_SEARCH_LIMIT"
	EnvDefaultSourceType    = "DEFAULT_SOURCE_TYPE"
	EnvContentTypes         = "CONTENT_TYPES"
	EnvSourceTypes          = "SOURCE_TYPES"
)

// Options tunes Load. The zero value reads ./.env and the process environment.
type Options struct {
	// EnvFiles are dotenv files to read; missing files are skipped.
	// Nil means DefaultEnvFile.
	EnvFiles []string

	// LookupEnv reads the process environment; nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the process settings. Precedence, lowest first: defaults,
// <dir>/config.toml, dotenv files, the process environment. The result is
// validated; every problem found is reported together.
func Load(dir string, opts Options) (domain.Settings, error) {
	settings := domain.DefaultSettings()

	store, err := NewConfigStore(dir)
	if err != nil {
		return settings, fmt.Errorf("loading config file: %w", err)
	}

	env, err := newEnv(opts)
	if err != nil {
		return settings, err
	}

	var errs []error
	errs = append(errs, applyFile(&settings, store)...)
	errs = append(errs, applyEnv(&settings, env, store)...)
	if err := errors.Join(errs...); err != nil {
		return settings, err
	}

	if settings.Storage.DataDir == "" {
		settings.Storage.DataDir = dataDirFor(store)
	}
	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

// dataDirFor places the database next to the configuration file.
func dataDirFor(store *ConfigStore) string {
	return filepath.Join(filepath.Dir(store.Path()), "data")
}

// env resolves variables from the process first, then dotenv files.
type env struct {
	lookup func(string) (string, bool)
	dotenv map[string]string
}

func newEnv(opts Options) (*env, error) {
	e := &env{lookup: opts.LookupEnv, dotenv: map[string]string{}}
	if e.lookup == nil {
		e.lookup = os.LookupEnv
	}

	files := opts.EnvFiles
	if files == nil {
		files = []string{DefaultEnvFile}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		vals, err := godotenv.Read(existing...)
		if err != nil {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
		e.dotenv = vals
	}
	return e, nil
}

func (e *env) get(key string) (string, bool) {
	if v, ok := e.lookup(key); ok && v != "" {
		return v, true
	}
	v, ok := e.dotenv[key]
	return v, ok && v != ""
}

// applyFile copies config.toml values over the defaults.
func applyFile(s *domain.Settings, store *ConfigStore) []error {
	var errs []error
	setString := func(dst *string, key string) {
		if v := store.GetString(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if _, ok := store.Get(key); ok {
			*dst = store.GetInt(key)
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		d, err := store.GetDuration(key)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if d > 0 {
			*dst = d
		}
	}
	setList := func(dst *[]string, key string) {
		if _, ok := store.Get(key); ok {
			*dst = store.GetStringSlice(key)
		}
	}

	setString(&s.Server.Name, "server.name")
	setString(&s.Server.Version, "server.version")

	if v := store.GetString("embedding.provider"); v != "" {
		s.Embedding.Provider = domain.AIProvider(v)
	}
	setString(&s.Embedding.Model, "embedding.model")
	setString(&s.Embedding.BaseURL, "embedding.base_url")
	setString(&s.Embedding.APIKey, "embedding.api_key")
	setInt(&s.Embedding.Dimensions, "embedding.dimensions")
	setInt(&s.Embedding.BatchSize, "embedding.batch_size")
	setInt(&s.Embedding.Concurrency, "embedding.concurrency")
	setInt(&s.Embedding.MaxAttempts, "embedding.max_attempts")
	setDuration(&s.Embedding.InitialBackoff, "embedding.initial_backoff")
	setDuration(&s.Embedding.MaxBackoff, "embedding.max_backoff")
	setDuration(&s.Embedding.RequestTimeout, "embedding.request_timeout")
	if _, ok := store.Get("embedding.requests_per_second"); ok {
		s.Embedding.RequestsPerSecond = store.GetFloat("embedding.requests_per_second")
	}
	setInt(&s.Embedding.QueryCacheSize, "embedding.query_cache_size")

	if v := store.GetString("storage.backend"); v != "" {
		s.Storage.Backend = domain.StorageBackend(v)
	}
	setString(&s.Storage.DataDir, "storage.data_dir")
	setString(&s.Storage.DatabaseURL, "storage.database_url")
	setInt(&s.Storage.BatchSize, "storage.batch_size")
	setDuration(&s.Storage.OperationTimeout, "storage.operation_timeout")

	setInt(&s.Ingestion.MaxChunkSize, "ingestion.max_chunk_size")
	setString(&s.Ingestion.Pattern, "ingestion.pattern")
	setString(&s.Ingestion.DefaultSourceType, "ingestion.default_source_type")

	setInt(&s.Search.DefaultLimit, "search.default_limit")
	setInt(&s.Search.MaxLimit, "search.max_limit")

	setList(&s.Vocabulary.ContentTypes, "vocabulary.content_types")
	setList(&s.Vocabulary.SourceTypes, "vocabulary.source_types")
	if keys := store.Keys("vocabulary.type_keywords"); len(keys) > 0 {
		s.Vocabulary.TypeKeywords = make(map[string][]string, len(keys))
		for _, k := range keys {
			s.Vocabulary.TypeKeywords[k] = store.GetStringSlice("vocabulary.type_keywords." + k)
		}
	}
	if keys := store.Keys("vocabulary.tag_keywords"); len(keys) > 0 {
		s.Vocabulary.TagKeywords = make(map[string][]string, len(keys))
		for _, k := range keys {
			s.Vocabulary.TagKeywords[k] = store.GetStringSlice("vocabulary.tag_keywords." + k)
		}
	}

	if tables := store.GetTables("classifiers"); tables != nil {
		rules, err := classifierRules(tables)
		if err != nil {
			errs = append(errs, err)
		} else {
			s.Classifiers = rules
		}
	}
	return errs
}

func classifierRules(tables []map[string]any) ([]domain.ClassifierRule, error) {
	rules := make([]domain.ClassifierRule, 0, len(tables))
	for i, t := range tables {
		var r domain.ClassifierRule
		r.Kind, _ = t["kind"].(string)
		r.Label, _ = t["label"].(string)
		if r.Kind == "" || r.Label == "" {
			return nil, fmt.Errorf("classifiers[%d]: kind and label are required", i)
		}
		switch v := t["min_size"].(type) {
		case float64:
			r.MinSize = v
		case int64:
			r.MinSize = float64(v)
		}
		r.Colors = stringList(t["colors"])
		r.Keywords = stringList(t["keywords"])
		rules = append(rules, r)
	}
	return rules, nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// applyEnv copies environment values over the file values.
func applyEnv(s *domain.Settings, e *env, store *ConfigStore) []error {
	var errs []error
	setString := func(dst *string, key string) {
		if v, ok := e.get(key); ok {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		v, ok := e.get(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
	setList := func(dst *[]string, key string) {
		if v, ok := e.get(key); ok {
			*dst = splitList(v)
		}
	}

	setString(&s.Server.Name, EnvServerName)
	setString(&s.Server.Version, EnvServerVersion)

	if v, ok := e.get(EnvEmbeddingProvider); ok {
		s.Embedding.Provider = domain.AIProvider(strings.ToLower(v))
	}
	setString(&s.Embedding.Model, EnvEmbeddingModel)
	setString(&s.Embedding.APIKey, EnvOpenAIAPIKey)
	switch s.Embedding.Provider {
	case domain.AIProviderOllama:
		setString(&s.Embedding.BaseURL, EnvOllamaBaseURL)
	case domain.AIProviderOpenAI:
		setString(&s.Embedding.BaseURL, EnvOpenAIBaseURL)
	}
	setInt(&s.Embedding.Dimensions, EnvEmbeddingDimensions)
	setInt(&s.Embedding.BatchSize, EnvEmbeddingBatchSize)
	setInt(&s.Embedding.Concurrency, EnvEmbeddingConcurrency)

	setString(&s.Storage.DatabaseURL, EnvDatabaseURL)
	setString(&s.Storage.DataDir, EnvDataDir)
	setInt(&s.Storage.BatchSize, EnvStoreBatchSize)
	if v, ok := e.get(EnvStorageBackend); ok {
		s.Storage.Backend = domain.StorageBackend(strings.ToLower(v))
	} else if _, ok := e.get(EnvDatabaseURL); ok && store.GetString("storage.backend") == "" {
		// A database URL alone selects PostgreSQL.
		s.Storage.Backend = domain.StoragePostgres
	}

	setInt(&s.Ingestion.MaxChunkSize, EnvMaxChunkSize)
	setString(&s.Ingestion.DefaultSourceType, EnvDefaultSourceType)
	setInt(&s.Search.DefaultLimit, EnvDefaultSearchLimit)
	setInt(&s.Search.MaxLimit, EnvMaxSearchLimit)
	setList(&s.Vocabulary.ContentTypes, EnvContentTypes)
	setList(&s.Vocabulary.SourceTypes, EnvSourceTypes)
	return errs
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
