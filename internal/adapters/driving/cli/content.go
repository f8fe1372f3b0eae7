package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Show stored sections",
	Long: `Looks sections up by exactly one of --id, --section or --title.
Title lookups match partially unless --exact is given, exact matches first.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{needsServices: ""},
	RunE:        runGet,
}

var statsCmd = &cobra.Command{
	Use:         "stats",
	Short:       "Summarise stored content",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{needsServices: ""},
	RunE:        runStats,
}

var deleteCmd = &cobra.Command{
	Use:         "delete [id]",
	Short:       "Delete a stored section",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsServices: ""},
	RunE:        runDelete,
}

// Flags for the get command.
var (
	getID      string
	getSection string
	getTitle   string
	getBook    string
	getExact   bool
	getLimit   int
	getJSON    bool
)

func init() {
	getCmd.Flags().StringVar(&getID, "id", "", "section unit ID")
	getCmd.Flags().StringVar(&getSection, "section", "", "section ID within its source book")
	getCmd.Flags().StringVar(&getTitle, "title", "", "section title")
	getCmd.Flags().StringVar(&getBook, "book", "", "restrict section and title lookups to a source book")
	getCmd.Flags().BoolVar(&getExact, "exact", false, "match titles exactly")
	getCmd.Flags().IntVarP(&getLimit, "limit", "n", domain.DefaultSearchLimit, "maximum number of title matches")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "output sections as JSON")
	getCmd.MarkFlagsMutuallyExclusive("id", "section", "title")
	getCmd.MarkFlagsOneRequired("id", "section", "title")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runGet(cmd *cobra.Command, _ []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}

	loc := domain.ContentLocator{
		ID:         getID,
		SectionID:  getSection,
		Title:      getTitle,
		ExactMatch: getExact,
		SourceBook: getBook,
		Limit:      getLimit,
	}
	units, err := queryService.GetContent(cmd.Context(), loc)
	if err != nil {
		return fmt.Errorf("failed to get content: %w", err)
	}

	if getJSON {
		hits := make([]searchHit, len(units))
		for i := range units {
			hits[i] = newSearchHit(&units[i], nil)
		}
		return outputJSON(cmd, hits)
	}

	switch len(units) {
	case 0:
		kind, value := loc.Kind()
		cmd.Printf("No content found for %s: '%s'\n", kind, strings.TrimSpace(value))
	case 1:
		printUnit(cmd, &units[0])
	default:
		cmd.Printf("Found %d sections:\n\n", len(units))
		for i := range units {
			cmd.Printf("  %s\n", units[i].ID)
			cmd.Printf("    Title: %s\n", units[i].Title)
			if src := sourceLine(units[i].SourceBook, units[i].PageRange); src != "" {
				cmd.Printf("    Source: %s\n", src)
			}
			cmd.Println()
		}
	}
	return nil
}

func printUnit(cmd *cobra.Command, u *domain.ContentUnit) {
	cmd.Printf("Section: %s\n\n", u.ID)
	cmd.Printf("  Title:         %s\n", u.Title)
	if u.SectionID != "" {
		cmd.Printf("  Section ID:    %s\n", u.SectionID)
	}
	if src := sourceLine(u.SourceBook, u.PageRange); src != "" {
		cmd.Printf("  Source:        %s\n", src)
	}
	cmd.Printf("  Source Type:   %s\n", u.SourceType)
	if len(u.ContentTypes) > 0 {
		cmd.Printf("  Content Types: %s\n", strings.Join(u.ContentTypes, ", "))
	}
	if len(u.Tags) > 0 {
		cmd.Printf("  Tags:          %s\n", strings.Join(u.Tags, ", "))
	}
	cmd.Printf("  Words:         %d\n", u.WordCount)
	cmd.Printf("  Embedded:      %t\n", u.HasEmbedding())
	if !u.UpdatedAt.IsZero() {
		cmd.Printf("  Updated:       %s\n", u.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	if u.Body != "" {
		cmd.Println()
		cmd.Println(u.Body)
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	if contentService == nil {
		return errors.New("content service not configured")
	}

	stats, err := contentService.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	cmd.Printf("Total sections: %d\n", stats.Total)
	printCounts(cmd, "By source book", stats.BySourceBook)
	printCounts(cmd, "By content type", stats.ByContentType)
	return nil
}

func printCounts(cmd *cobra.Command, heading string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	cmd.Printf("\n%s:\n", heading)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		cmd.Printf("  %-24s %d\n", k, counts[k])
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	if contentService == nil {
		return errors.New("content service not configured")
	}

	id := args[0]
	if err := contentService.Delete(cmd.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("content with ID '%s' not found", id)
		}
		return fmt.Errorf("failed to delete content: %w", err)
	}

	cmd.Printf("Deleted %s\n", id)
	return nil
}
