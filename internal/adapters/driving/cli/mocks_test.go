package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/config/file"
	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/services"
)

// stubProvider implements driven.EmbeddingProvider with keyword-count vectors,
// so texts about the same topic land close together.
type stubProvider struct{}

var stubTopics = []string{"grappl", "spell", "travel"}

func (stubProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		text = strings.ToLower(text)
		v := make([]float32, len(stubTopics)+1)
		for j, topic := range stubTopics {
			v[j] = float32(strings.Count(text, topic))
		}
		v[len(stubTopics)] = 0.1
		out[i] = v
	}
	return out, nil
}

func (stubProvider) Dimensions() int              { return len(stubTopics) + 1 }
func (stubProvider) ModelName() string            { return "stub-embed" }
func (stubProvider) Ping(_ context.Context) error { return nil }
func (stubProvider) Close() error                 { return nil }

// setupTestServices wires real services over a memory store and restores the
// package state when the test ends.
func setupTestServices(t *testing.T) *memory.ContentStore {
	t.Helper()
	resetFlags(t)

	oldSettings, oldQuery, oldContent, oldIngest := settings, queryService, contentService, ingestService
	t.Cleanup(func() {
		settings, queryService, contentService, ingestService = oldSettings, oldQuery, oldContent, oldIngest
	})

	mem := memory.NewContentStore()
	settings = domain.DefaultSettings()
	embedder := services.NewEmbeddingClient(stubProvider{}, services.EmbeddingClientConfigFrom(settings.Embedding))
	wire(settings, mem, embedder)
	return mem
}

// isolateConfig points the configuration at a temp dir and hides the
// process environment. It returns the directory.
func isolateConfig(t *testing.T) string {
	t.Helper()
	oldDir, oldOpts := configDir, loadOptions
	t.Cleanup(func() {
		configDir, loadOptions = oldDir, oldOpts
	})

	dir := t.TempDir()
	configDir = dir
	loadOptions = file.Options{
		EnvFiles:  []string{},
		LookupEnv: func(string) (string, bool) { return "", false },
	}
	return dir
}

// seed creates sections through the content service.
func seed(t *testing.T, drafts ...domain.ContentDraft) []*domain.ContentUnit {
	t.Helper()
	units := make([]*domain.ContentUnit, len(drafts))
	for i, d := range drafts {
		u, err := contentService.Create(context.Background(), d)
		require.NoError(t, err)
		units[i] = u
	}
	return units
}

func rulebookDrafts() []domain.ContentDraft {
	return []domain.ContentDraft{
		{
			Title:        "Grappling",
			Body:         "To grapple a creature, make a grappling check. A grappled creature cannot move.",
			ContentTypes: []string{"procedure"},
			SourceBook:   "players_book",
			SourceType:   "official",
			SectionID:    "12",
			PageRange:    "41-42",
		},
		{
			Title:        "Spellcasting",
			Body:         "Casting a spell expends a spell slot of the spell's level or higher.",
			ContentTypes: []string{"reference"},
			SourceBook:   "players_book",
			SourceType:   "official",
			SectionID:    "20",
		},
		{
			Title:        "Overland Travel",
			Body:         "Travel pace determines how far the party moves while they travel.",
			ContentTypes: []string{"procedure"},
			SourceBook:   "guide",
			SourceType:   "supplementary",
			SectionID:    "3",
		},
	}
}

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags returns every flag in the command tree to its default, since
// flag variables outlive a single execution.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				require.NoError(t, sv.Replace(nil))
			} else {
				require.NoError(t, f.Value.Set(f.DefValue))
			}
			f.Changed = false
		})
	}
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		reset(c.Flags())
		reset(c.PersistentFlags())
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}
