package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/sections"
	"github.com/custodia-labs/lorekeep/internal/classifiers"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/services"
)

var (
	ingestPattern   string
	ingestBatchSize int
	ingestWatch     bool
	ingestDryRun    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest section files",
	Long: `Loads every section file under a directory, embeds it and stores it.
Sections that fail to load or embed are reported and skipped; the rest are
stored. Re-ingesting a file replaces the section it produced before.

With --watch, the directory keeps being watched after the initial run:
changed files are re-ingested and removed files are deleted.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsServices: checkProvider},
	RunE:        runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPattern, "pattern", "", "file name pattern (default from configuration)")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "sections per ingestion run (0 = all at once)")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "keep watching the directory for changes")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "list the sections that would be ingested")
	rootCmd.AddCommand(ingestCmd)
}

// progressReporter is implemented by ingestion services that report batch progress.
type progressReporter interface {
	SetProgress(fn services.ProgressFunc)
}

func runIngest(cmd *cobra.Command, args []string) error {
	dir := args[0]
	ctx := cmd.Context()

	loader, err := newSectionLoader()
	if err != nil {
		return err
	}

	units, loadErr := loader.LoadDir(ctx, dir)
	if loadErr != nil && units == nil {
		return fmt.Errorf("loading sections: %w", loadErr)
	}
	if loadErr != nil {
		cmd.PrintErrf("Some files could not be loaded:\n%v\n", loadErr)
	}

	if ingestDryRun {
		printDryRun(cmd, units)
		return nil
	}
	if ingestService == nil {
		return fmt.Errorf("ingestion needs an embedding provider: %w", domain.ErrEmbeddingUnavailable)
	}

	if len(units) == 0 {
		cmd.Printf("No section files matching %s found in %s\n", loader.Pattern(), dir)
	} else {
		cmd.Printf("Ingesting %d sections from %s...\n", len(units), dir)
		summary, err := ingestUnits(ctx, cmd, units)
		if summary != nil {
			printSummary(cmd, summary)
		}
		if err != nil {
			return fmt.Errorf("ingestion halted: %w", err)
		}
	}

	if ingestWatch {
		return watchDir(ctx, cmd, loader, dir)
	}
	return nil
}

// newSectionLoader builds a loader from the settings and flags.
func newSectionLoader() (*sections.Loader, error) {
	header, err := classifiers.Labelled(settings.Classifiers, "header")
	if err != nil {
		return nil, fmt.Errorf("building classifiers: %w", err)
	}
	pattern := settings.Ingestion.Pattern
	if ingestPattern != "" {
		pattern = ingestPattern
	}
	return sections.NewLoader(
		sections.WithPattern(pattern),
		sections.WithDefaultSourceType(settings.Ingestion.DefaultSourceType),
		sections.WithHeaderClassifier(header),
	), nil
}

// ingestUnits runs the ingestion in groups of --batch-size and merges the summaries.
func ingestUnits(ctx context.Context, cmd *cobra.Command, units []domain.ContentUnit) (*domain.IngestSummary, error) {
	size := ingestBatchSize
	if size <= 0 || size > len(units) {
		size = len(units)
	}

	out := cmd.OutOrStdout()
	showProgress := isTerminal(out)
	total := &domain.IngestSummary{}
	for start := 0; start < len(units); start += size {
		group := units[start:min(start+size, len(units))]

		if r, ok := ingestService.(progressReporter); ok && showProgress {
			offset := start
			r.SetProgress(func(done, _ int) {
				fmt.Fprintf(out, "\rProcessed %d/%d sections", offset+done, len(units))
			})
		}

		summary, err := ingestService.Ingest(ctx, group)
		if summary != nil {
			for _, r := range summary.Results {
				r.Index += start
				total.Record(r)
			}
			total.Batches += summary.Batches
		}
		if err != nil {
			if showProgress {
				fmt.Fprintln(out)
			}
			return total, err
		}
	}
	if showProgress {
		fmt.Fprintln(out)
	}
	return total, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printSummary(cmd *cobra.Command, summary *domain.IngestSummary) {
	cmd.Printf("Stored %d sections in %d batches (%d failed)\n", summary.Stored, summary.Batches, summary.Failed)
	failures := summary.Failures()
	if len(failures) == 0 {
		return
	}
	cmd.Println()
	cmd.Println("Failed:")
	for _, f := range failures {
		cmd.Printf("  %s: %v\n", f.Title, f.Err)
	}
}

func printDryRun(cmd *cobra.Command, units []domain.ContentUnit) {
	cmd.Printf("Would ingest %d sections:\n\n", len(units))
	for i := range units {
		u := &units[i]
		cmd.Printf("  %s\n", u.ID)
		cmd.Printf("    Title: %s\n", u.Title)
		if src := sourceLine(u.SourceBook, u.PageRange); src != "" {
			cmd.Printf("    Source: %s\n", src)
		}
		cmd.Printf("    File: %s\n", u.FilePath)
		cmd.Println()
	}
}

// watchDir applies file changes until the context is cancelled.
func watchDir(ctx context.Context, cmd *cobra.Command, loader *sections.Loader, dir string) error {
	changes, err := loader.Watch(ctx, dir)
	if err != nil {
		return err
	}
	cmd.Printf("Watching %s for changes (Ctrl+C to stop)...\n", dir)

	for change := range changes {
		if err := applyChange(ctx, cmd, change); err != nil {
			return err
		}
	}
	return nil
}

// applyChange ingests or deletes the section behind one file change.
// Only a halted ingestion is returned; everything else is reported and skipped.
func applyChange(ctx context.Context, cmd *cobra.Command, change sections.Change) error {
	switch change.Type {
	case sections.ChangeUpdated:
		if change.Err != nil {
			cmd.PrintErrf("Skipping %s: %v\n", change.Path, change.Err)
			return nil
		}
		summary, err := ingestService.Ingest(ctx, []domain.ContentUnit{*change.Unit})
		if err != nil {
			return fmt.Errorf("ingestion halted: %w", err)
		}
		if failures := summary.Failures(); len(failures) > 0 {
			cmd.PrintErrf("Failed to ingest %s: %v\n", change.Path, failures[0].Err)
			return nil
		}
		cmd.Printf("Updated %s (%s)\n", change.Unit.Title, change.Path)
	case sections.ChangeDeleted:
		if change.ID == "" {
			return nil
		}
		err := contentService.Delete(ctx, change.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			cmd.PrintErrf("Failed to delete %s: %v\n", change.ID, err)
			return nil
		}
		cmd.Printf("Removed %s (%s)\n", change.ID, change.Path)
	}
	return nil
}
