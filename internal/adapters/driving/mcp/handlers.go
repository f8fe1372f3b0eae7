package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// SearchInput is the input of the semantic_search tool.
type SearchInput struct {
	Query        string   `json:"query"`
	ContentTypes []string `json:"content_types,omitempty"`
	SourceBooks  []string `json:"source_books,omitempty"`
	SourceTypes  []string `json:"source_types,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// GetContentInput is the input of the get_content tool.
type GetContentInput struct {
	ID         string `json:"id,omitempty"`
	SectionID  string `json:"section_id,omitempty"`
	Title      string `json:"title,omitempty"`
	ExactMatch bool   `json:"exact_match,omitempty"`
	SourceBook string `json:"source_book,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// CreateContentInput is the input of the create_content tool.
type CreateContentInput struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	ContentType []string `json:"content_type,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	SourceBook  string   `json:"source_book,omitempty"`
	SectionID   string   `json:"section_id,omitempty"`
	PageRange   string   `json:"page_range,omitempty"`
	SourceType  string   `json:"source_type,omitempty"`
}

// UpdateContentInput is the input of the update_content tool.
// Absent fields are left unchanged.
type UpdateContentInput struct {
	ID                  string    `json:"id"`
	Title               *string   `json:"title,omitempty"`
	Content             *string   `json:"content,omitempty"`
	ContentType         *[]string `json:"content_type,omitempty"`
	Tags                *[]string `json:"tags,omitempty"`
	SourceBook          *string   `json:"source_book,omitempty"`
	SectionID           *string   `json:"section_id,omitempty"`
	PageRange           *string   `json:"page_range,omitempty"`
	RegenerateEmbedding bool      `json:"regenerate_embedding,omitempty"`
}

// DeleteContentInput is the input of the delete_content tool.
type DeleteContentInput struct {
	ID string `json:"id"`
}

// UnitOutput is the structured form of one content unit.
type UnitOutput struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	SourceType   string   `json:"source_type,omitempty"`
	SourceBook   string   `json:"source_book,omitempty"`
	SectionID    string   `json:"section_id,omitempty"`
	PageRange    string   `json:"page_range,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Score        *float64 `json:"score,omitempty"`
}

// SearchOutput is the structured result of semantic_search.
type SearchOutput struct {
	Query   string       `json:"query"`
	Count   int          `json:"count"`
	Results []UnitOutput `json:"results"`
}

// ContentOutput is the structured result of get_content.
type ContentOutput struct {
	Count   int          `json:"count"`
	Results []UnitOutput `json:"results"`
}

// MutationOutput is the structured result of create_content and update_content.
type MutationOutput struct {
	Unit                 UnitOutput `json:"unit"`
	EmbeddingRegenerated bool       `json:"embedding_regenerated"`
}

// DeleteOutput is the structured result of delete_content.
type DeleteOutput struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// StatsOutput is the structured result of content_stats.
type StatsOutput struct {
	Total         int            `json:"total"`
	BySourceBook  map[string]int `json:"by_source_book"`
	ByContentType map[string]int `json:"by_content_type"`
}

type handlers struct {
	ports *Ports
}

func (h *handlers) semanticSearch(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in SearchInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	filters := domain.Filters{
		ContentTypes: in.ContentTypes,
		SourceBooks:  in.SourceBooks,
		SourceTypes:  in.SourceTypes,
	}
	results, err := h.ports.Query.SemanticSearch(ctx, in.Query, filters, in.Limit)
	if err != nil {
		return nil, err
	}

	out := SearchOutput{Query: in.Query, Count: len(results), Results: make([]UnitOutput, len(results))}
	for i, r := range results {
		out.Results[i] = unitOutput(&r.Unit)
		score := r.Score()
		out.Results[i].Score = &score
	}
	return textResult(formatSearch(in.Query, results), out), nil
}

func (h *handlers) getContent(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in GetContentInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	loc := domain.ContentLocator{
		ID:         in.ID,
		SectionID:  in.SectionID,
		Title:      in.Title,
		ExactMatch: in.ExactMatch,
		SourceBook: in.SourceBook,
		Limit:      in.Limit,
	}
	units, err := h.ports.Query.GetContent(ctx, loc)
	if err != nil {
		return nil, err
	}

	out := ContentOutput{Count: len(units), Results: make([]UnitOutput, len(units))}
	for i := range units {
		out.Results[i] = unitOutput(&units[i])
	}
	return textResult(formatContent(loc, units), out), nil
}

func (h *handlers) createContent(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in CreateContentInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	unit, err := h.ports.Content.Create(ctx, domain.ContentDraft{
		Title:        in.Title,
		Body:         in.Content,
		ContentTypes: in.ContentType,
		Tags:         in.Tags,
		SourceBook:   in.SourceBook,
		SourceType:   in.SourceType,
		SectionID:    in.SectionID,
		PageRange:    in.PageRange,
	})
	if err != nil {
		return nil, err
	}
	out := MutationOutput{Unit: unitOutput(unit), EmbeddingRegenerated: unit.HasEmbedding()}
	return textResult(formatCreated(unit), out), nil
}

func (h *handlers) updateContent(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in UpdateContentInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	unit, regenerated, err := h.ports.Content.Update(ctx, in.ID, domain.ContentPatch{
		Title:               in.Title,
		Body:                in.Content,
		ContentTypes:        in.ContentType,
		Tags:                in.Tags,
		SourceBook:          in.SourceBook,
		SectionID:           in.SectionID,
		PageRange:           in.PageRange,
		RegenerateEmbedding: in.RegenerateEmbedding,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return errorResult(fmt.Sprintf("Error: Content with ID '%s' not found", in.ID)), nil
	}
	if err != nil {
		return nil, err
	}
	out := MutationOutput{Unit: unitOutput(unit), EmbeddingRegenerated: regenerated}
	return textResult(formatUpdated(unit, regenerated), out), nil
}

func (h *handlers) deleteContent(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in DeleteContentInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	err := h.ports.Content.Delete(ctx, in.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return errorResult(fmt.Sprintf("Error: Content with ID '%s' not found", in.ID)), nil
	}
	if err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Content '%s' deleted", in.ID), DeleteOutput{ID: in.ID, Deleted: true}), nil
}

func (h *handlers) contentStats(ctx context.Context, _ json.RawMessage) (*mcp.CallToolResult, error) {
	stats, err := h.ports.Content.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := StatsOutput{
		Total:         stats.Total,
		BySourceBook:  stats.BySourceBook,
		ByContentType: stats.ByContentType,
	}
	return textResult(formatStats(stats), out), nil
}

// decodeArgs unmarshals validated arguments into the tool's input type.
func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return domain.NewValidationError("arguments", err.Error())
	}
	return nil
}

func unitOutput(u *domain.ContentUnit) UnitOutput {
	return UnitOutput{
		ID:           u.ID,
		Title:        u.Title,
		Content:      u.Body,
		SourceType:   u.SourceType,
		SourceBook:   u.SourceBook,
		SectionID:    u.SectionID,
		PageRange:    u.PageRange,
		ContentTypes: u.ContentTypes,
		Tags:         u.Tags,
	}
}

func textResult(text string, structured any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: structured,
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
