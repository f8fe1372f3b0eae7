package cli

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/config/file"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View the effective configuration or change values in config.toml.

Environment variables and .env files override config.toml, so "config show"
may differ from the file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a value in config.toml",
	Long: `Set a value in config.toml. Keys use dot notation, for example
embedding.model or search.max_limit. Lists are comma separated.

The change is rejected if it leaves the configuration invalid.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config.toml path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// valueKind is the TOML type a configuration key holds.
type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
	kindDuration
	kindList
)

// configKeys are the keys config set accepts.
var configKeys = map[string]valueKind{
	"server.name":                   kindString,
	"server.version":                kindString,
	"embedding.provider":            kindString,
	"embedding.model":               kindString,
	"embedding.base_url":            kindString,
	"embedding.api_key":             kindString,
	"embedding.dimensions":          kindInt,
	"embedding.batch_size":          kindInt,
	"embedding.concurrency":         kindInt,
	"embedding.max_attempts":        kindInt,
	"embedding.query_cache_size":    kindInt,
	"embedding.requests_per_second": kindFloat,
	"embedding.initial_backoff":     kindDuration,
	"embedding.max_backoff":         kindDuration,
	"embedding.request_timeout":     kindDuration,
	"storage.backend":               kindString,
	"storage.data_dir":              kindString,
	"storage.database_url":          kindString,
	"storage.batch_size":            kindInt,
	"storage.operation_timeout":     kindDuration,
	"ingestion.max_chunk_size":      kindInt,
	"ingestion.pattern":             kindString,
	"ingestion.default_source_type": kindString,
	"search.default_limit":          kindInt,
	"search.max_limit":              kindInt,
	"vocabulary.content_types":      kindList,
	"vocabulary.source_types":       kindList,
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Server]")
	cmd.Printf("  Name: %s\n", s.Server.Name)
	cmd.Printf("  Version: %s\n", s.Server.Version)
	cmd.Println()

	cmd.Println("[Embedding]")
	cmd.Printf("  Provider: %s\n", s.Embedding.Provider)
	cmd.Printf("  Model: %s\n", s.Embedding.Model)
	if s.Embedding.BaseURL != "" {
		cmd.Printf("  Base URL: %s\n", s.Embedding.BaseURL)
	}
	if s.Embedding.Provider.RequiresAPIKey() {
		if s.Embedding.APIKey != "" {
			cmd.Printf("  API Key: %s\n", maskAPIKey(s.Embedding.APIKey))
		} else {
			cmd.Printf("  API Key: (not set)\n")
		}
	}
	cmd.Printf("  Batch Size: %d\n", s.Embedding.BatchSize)
	cmd.Printf("  Concurrency: %d\n", s.Embedding.Concurrency)
	status := "configured"
	if !s.Embedding.IsConfigured() {
		status = "not configured"
	}
	cmd.Printf("  Status: %s\n", status)
	cmd.Println()

	cmd.Println("[Storage]")
	cmd.Printf("  Backend: %s\n", s.Storage.Backend)
	switch s.Storage.Backend {
	case domain.StorageSQLite:
		cmd.Printf("  Data Dir: %s\n", s.Storage.DataDir)
	case domain.StoragePostgres:
		cmd.Printf("  Database URL: %s\n", maskDatabaseURL(s.Storage.DatabaseURL))
		cmd.Printf("  Operation Timeout: %s\n", s.Storage.OperationTimeout)
	}
	cmd.Printf("  Batch Size: %d\n", s.Storage.BatchSize)
	cmd.Println()

	cmd.Println("[Ingestion]")
	cmd.Printf("  Pattern: %s\n", s.Ingestion.Pattern)
	cmd.Printf("  Max Chunk Size: %d\n", s.Ingestion.MaxChunkSize)
	cmd.Printf("  Default Source Type: %s\n", s.Ingestion.DefaultSourceType)
	cmd.Println()

	cmd.Println("[Search]")
	cmd.Printf("  Default Limit: %d\n", s.Search.DefaultLimit)
	cmd.Printf("  Max Limit: %d\n", s.Search.MaxLimit)
	cmd.Println()

	cmd.Println("[Vocabulary]")
	cmd.Printf("  Content Types: %s\n", strings.Join(s.Vocabulary.ContentTypes, ", "))
	cmd.Printf("  Source Types: %s\n", strings.Join(s.Vocabulary.SourceTypes, ", "))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	kind, ok := configKeys[key]
	if !ok {
		known := make([]string, 0, len(configKeys))
		for k := range configKeys {
			known = append(known, k)
		}
		slices.Sort(known)
		return fmt.Errorf("unknown key %q (known keys: %s)", key, strings.Join(known, ", "))
	}
	value, err := parseConfigValue(kind, raw)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	store, err := file.NewConfigStore(configDir)
	if err != nil {
		return fmt.Errorf("opening configuration: %w", err)
	}
	if err := setValidated(store, key, value, func() error {
		_, err := loadSettings()
		return err
	}); err != nil {
		return err
	}

	cmd.Printf("Set %s\n", key)
	return nil
}

// setValidated writes value under key and keeps it only if validate accepts
// the resulting configuration. A rejected change restores the previous value.
func setValidated(store driven.ConfigStore, key string, value any, validate func() error) error {
	previous, hadPrevious := store.Get(key)
	if err := store.Set(key, value); err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}

	if err := validate(); err != nil {
		var restoreErr error
		if hadPrevious {
			restoreErr = store.Set(key, previous)
		} else {
			restoreErr = store.Unset(key)
		}
		if restoreErr != nil {
			err = errors.Join(err, fmt.Errorf("restoring %s: %w", key, restoreErr))
		}
		return fmt.Errorf("rejected %s: %w", key, err)
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	store, err := file.NewConfigStore(configDir)
	if err != nil {
		return fmt.Errorf("opening configuration: %w", err)
	}
	cmd.Println(store.Path())
	return nil
}

func parseConfigValue(kind valueKind, raw string) (any, error) {
	switch kind {
	case kindInt:
		return strconv.ParseInt(raw, 10, 64)
	case kindFloat:
		return strconv.ParseFloat(raw, 64)
	case kindDuration:
		if _, err := time.ParseDuration(raw); err != nil {
			return nil, err
		}
		return raw, nil
	case kindList:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	default:
		return raw, nil
	}
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// maskDatabaseURL hides the password in a connection URL.
func maskDatabaseURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return url
	}
	user, _, hasPassword := strings.Cut(creds, ":")
	if !hasPassword {
		return url
	}
	return scheme + "://" + user + ":****@" + host
}
