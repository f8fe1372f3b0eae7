// Package cli provides the cobra command tree for the lorekeep binary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/ai"
	"github.com/custodia-labs/lorekeep/internal/adapters/driven/config/file"
	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driving"
	"github.com/custodia-labs/lorekeep/internal/core/services"
	"github.com/custodia-labs/lorekeep/internal/logger"
)

// version is set at build time with -ldflags "-X .../cli.version=...".
var version = "dev"

// Global flags.
var (
	configDir string
	verbose   bool
)

// loadOptions is passed to file.Load; tests replace it to isolate the environment.
var loadOptions file.Options

// Wired by connect before a command that needs them runs.
var (
	settings       domain.Settings
	queryService   driving.QueryService
	contentService driving.ContentService
	ingestService  driving.IngestionService
	closers        []func() error
)

// needsServices marks commands that run against the content store. The
// value checkProvider also pings the embedding provider before the command
// runs, for commands that would otherwise discover an outage mid-run.
const (
	needsServices = "services"
	checkProvider = "check-provider"
)

var rootCmd = &cobra.Command{
	Use:   "lorekeep",
	Short: "Semantic content server",
	Long: `lorekeep ingests section files, embeds them and serves similarity
search and exact lookup to tool-calling clients over MCP.

Configuration is read from <config-dir>/config.toml, a .env file in the
working directory and the process environment, in increasing precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(verbose)
		mode, ok := cmd.Annotations[needsServices]
		if !ok || queryService != nil {
			return nil
		}
		return connect(cmd.Context(), mode == checkProvider)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "configuration directory (default ~/.lorekeep)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")
}

// Execute runs the command tree and releases whatever it opened.
// Command output goes to stdout, logs and errors to stderr.
func Execute(ctx context.Context) error {
	defer shutdown()
	rootCmd.SetOut(os.Stdout)
	return rootCmd.ExecuteContext(ctx)
}

// loadSettings reads the layered configuration.
func loadSettings() (domain.Settings, error) {
	return file.Load(configDir, loadOptions)
}

// connect loads settings and wires the store, embedding client and services.
// A missing, misconfigured or, when ping is set, unreachable embedding
// provider is not fatal: exact lookups and stats keep working and embedding
// operations report it.
func connect(ctx context.Context, ping bool) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	settings = s

	var embedder *services.EmbeddingClient
	provider, err := createProvider(ctx, s.Embedding, ping)
	if err != nil {
		logger.Warn("Embedding disabled: %v", err)
	} else {
		closers = append(closers, provider.Close)
		embedder = services.NewEmbeddingClient(provider, services.EmbeddingClientConfigFrom(s.Embedding))
	}

	dims := 0
	if embedder != nil {
		dims = embedder.Dimensions()
	}
	store, err := openStore(ctx, s.Storage, dims)
	if err != nil {
		shutdown()
		return err
	}
	closers = append(closers, store.Close)

	wire(s, store, embedder)
	return nil
}

// createProvider builds the embedding provider, checking it answers when ping is set.
func createProvider(ctx context.Context, s domain.EmbeddingSettings, ping bool) (driven.EmbeddingProvider, error) {
	if ping {
		return ai.CreateAndValidateEmbeddingProvider(ctx, s)
	}
	return ai.CreateEmbeddingProvider(s)
}

// wire builds the services over an open store.
func wire(s domain.Settings, store driven.ContentStore, embedder *services.EmbeddingClient) {
	queryService = services.NewQueryEngine(store, embedder, s)
	contentService = services.NewContentService(store, embedder, s)
	ingestService = nil
	if embedder != nil {
		ingestService = services.NewIngestionEngine(
			store, embedder, services.NewLabeler(s.Vocabulary), services.IngestionConfigFrom(s))
	}
}

// openStore opens the configured content store.
func openStore(ctx context.Context, s domain.StorageSettings, dims int) (driven.ContentStore, error) {
	logger.Debug("Opening %s store", s.Backend)
	switch s.Backend {
	case domain.StorageMemory:
		return memory.NewContentStore(memory.WithDimensions(dims)), nil
	case domain.StoragePostgres:
		if dims <= 0 {
			return nil, fmt.Errorf("postgres store needs the embedding dimensions: %w", domain.ErrEmbeddingUnavailable)
		}
		store, err := postgres.NewStore(ctx, s.DatabaseURL, dims, postgres.WithOperationTimeout(s.OperationTimeout))
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.NewStore(s.DataDir, dims)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil
	}
}

// shutdown closes everything connect opened, newest first.
func shutdown() {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	closers = nil
	if err := errors.Join(errs...); err != nil {
		logger.Warn("Closing resources: %v", err)
	}
}
