package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// snippetLength bounds the body excerpt shown per result.
const snippetLength = 160

var (
	searchLimit   int
	searchJSON    bool
	searchText    bool
	searchTypes   []string
	searchBooks   []string
	searchSources []string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored content",
	Long: `Performs semantic search across all stored sections.
The query is embedded and matched by cosine similarity. Use --text for
keyword search, which needs no embedding provider.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsServices: ""},
	RunE:        runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", domain.DefaultSearchLimit, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().BoolVar(&searchText, "text", false, "keyword search instead of semantic search")
	searchCmd.Flags().StringSliceVar(&searchTypes, "type", nil, "filter by content type (repeatable)")
	searchCmd.Flags().StringSliceVar(&searchBooks, "book", nil, "filter by source book (repeatable)")
	searchCmd.Flags().StringSliceVar(&searchSources, "source", nil, "filter by source type (repeatable)")
	rootCmd.AddCommand(searchCmd)
}

// searchHit is the JSON shape of one result.
type searchHit struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Score        *float64 `json:"score,omitempty"`
	SourceType   string   `json:"source_type,omitempty"`
	SourceBook   string   `json:"source_book,omitempty"`
	SectionID    string   `json:"section_id,omitempty"`
	PageRange    string   `json:"page_range,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	if queryService == nil {
		return errors.New("query service not configured")
	}

	ctx := cmd.Context()
	filters := domain.Filters{
		ContentTypes: searchTypes,
		SourceBooks:  searchBooks,
		SourceTypes:  searchSources,
	}

	var hits []searchHit
	var units []domain.ContentUnit
	if searchText {
		found, err := queryService.TextSearch(ctx, query, filters, searchLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		for i := range found {
			hits = append(hits, newSearchHit(&found[i], nil))
		}
		units = found
	} else {
		results, err := queryService.SemanticSearch(ctx, query, filters, searchLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		for i := range results {
			score := results[i].Score()
			hits = append(hits, newSearchHit(&results[i].Unit, &score))
			units = append(units, results[i].Unit)
		}
	}

	if searchJSON {
		return outputJSON(cmd, hits)
	}
	return outputSearchTable(cmd, hits, units)
}

func newSearchHit(u *domain.ContentUnit, score *float64) searchHit {
	return searchHit{
		ID:           u.ID,
		Title:        u.Title,
		Score:        score,
		SourceType:   u.SourceType,
		SourceBook:   u.SourceBook,
		SectionID:    u.SectionID,
		PageRange:    u.PageRange,
		ContentTypes: u.ContentTypes,
		Tags:         u.Tags,
	}
}

func outputJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, hits []searchHit, units []domain.ContentUnit) error {
	if len(hits) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Println("Results:")
	cmd.Println()
	for i, h := range hits {
		// Format: [N] Title (Score)
		if h.Score != nil {
			cmd.Printf("  [%d] %s (%.2f)\n", i+1, h.Title, *h.Score)
		} else {
			cmd.Printf("  [%d] %s\n", i+1, h.Title)
		}
		if src := sourceLine(h.SourceBook, h.PageRange); src != "" {
			cmd.Printf("      Source: %s\n", src)
		}
		cmd.Printf("      ID: %s\n", h.ID)
		if snippet := snippet(units[i].Body); snippet != "" {
			cmd.Printf("      %s\n", snippet)
		}
		cmd.Println()
	}
	return nil
}

func sourceLine(book, pages string) string {
	switch {
	case book == "":
		return ""
	case pages == "":
		return book
	default:
		return fmt.Sprintf("%s (pages %s)", book, pages)
	}
}

// snippet returns the start of body on one line.
func snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if len(s) <= snippetLength {
		return s
	}
	cut := snippetLength
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
