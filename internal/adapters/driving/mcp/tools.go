package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/logger"
)

// Tool names.
const (
	ToolSemanticSearch = "semantic_search"
	ToolGetContent     = "get_content"
	ToolCreateContent  = "create_content"
	ToolUpdateContent  = "update_content"
	ToolDeleteContent  = "delete_content"
	ToolContentStats   = "content_stats"
)

type toolHandler func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)

type tool struct {
	def     *mcp.Tool
	schema  *jsonschema.Resolved
	handler toolHandler

	// failure prefixes the text of a failed call.
	failure string
}

// catalog is the static set of tools. It is built once from configuration.
type catalog struct {
	tools  []*tool
	byName map[string]*tool
}

func newCatalog(ports *Ports, cfg Config) (*catalog, error) {
	h := &handlers{ports: ports}
	c := &catalog{byName: make(map[string]*tool)}

	entries := []struct {
		def     *mcp.Tool
		handler toolHandler
		failure string
	}{
		{searchTool(cfg), h.semanticSearch, "Search failed"},
		{getContentTool(cfg), h.getContent, "Content retrieval failed"},
		{createContentTool(cfg), h.createContent, "Content creation failed"},
		{updateContentTool(cfg), h.updateContent, "Update failed"},
		{deleteContentTool(), h.deleteContent, "Delete failed"},
		{statsTool(), h.contentStats, "Stats failed"},
	}
	for _, e := range entries {
		schema := e.def.InputSchema.(*jsonschema.Schema)
		resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return nil, fmt.Errorf("resolving %s schema: %w", e.def.Name, err)
		}
		t := &tool{def: e.def, schema: resolved, handler: e.handler, failure: e.failure}
		c.tools = append(c.tools, t)
		c.byName[e.def.Name] = t
	}
	return c, nil
}

// list returns the tool definitions in declaration order.
func (c *catalog) list() []*mcp.Tool {
	defs := make([]*mcp.Tool, len(c.tools))
	for i, t := range c.tools {
		defs[i] = t.def
	}
	return defs
}

// call validates the arguments against the tool's schema, fills in
// defaults and runs the handler. Nothing runs when validation fails.
func (c *catalog) call(ctx context.Context, params *mcp.CallToolParamsRaw) (result *mcp.CallToolResult, rpcErr *RPCError) {
	t, ok := c.byName[params.Name]
	if !ok {
		return nil, newRPCError(CodeInvalidParams, "unknown tool: %q", params.Name)
	}

	raw := params.Arguments
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, newRPCError(CodeInvalidParams, "invalid arguments for %s: %v", t.def.Name, err)
	}
	if err := t.schema.Validate(instance); err != nil {
		return nil, newRPCError(CodeInvalidParams, "invalid arguments for %s: %v", t.def.Name, err)
	}
	if err := t.schema.ApplyDefaults(&instance); err != nil {
		return nil, newRPCError(CodeInternalError, "applying defaults for %s: %v", t.def.Name, err)
	}
	args, err := json.Marshal(instance)
	if err != nil {
		return nil, newRPCError(CodeInternalError, "encoding arguments for %s: %v", t.def.Name, err)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Tool %s panicked: %v", t.def.Name, r)
			result, rpcErr = nil, newRPCError(CodeInternalError, "internal error in %s", t.def.Name)
		}
	}()

	logger.Debug("Tool '%s' called", t.def.Name)
	result, err = t.handler(ctx, args)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, domain.ErrInvalidArgument):
		return nil, newRPCError(CodeInvalidParams, "%v", err)
	default:
		logger.Warn("Tool %s failed: %v", t.def.Name, err)
		return errorResult(fmt.Sprintf("%s: %v", t.failure, err)), nil
	}
}

func searchTool(cfg Config) *mcp.Tool {
	return &mcp.Tool{
		Name: ToolSemanticSearch,
		Description: "Search content using semantic similarity. " +
			"Returns relevant sections based on the meaning of your query.",
		InputSchema: object([]string{"query"}, map[string]*jsonschema.Schema{
			"query": str("Search query (e.g., 'how to process requests', 'error handling', 'configuration settings')"),
			"content_types": strList(
				"Filter by content types: "+strings.Join(cfg.ContentTypes, ", "), cfg.ContentTypes),
			"source_books": strList(
				"Filter by source books (e.g., manual_v1, reference_guide, api_docs)", nil),
			"source_types": strList(
				"Filter by source types: "+strings.Join(cfg.SourceTypes, ", "), cfg.SourceTypes),
			"limit": limit(fmt.Sprintf("Maximum number of results (default: %d, max: %d)",
				cfg.DefaultLimit, cfg.MaxLimit), cfg),
		}),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}
}

func getContentTool(cfg Config) *mcp.Tool {
	return &mcp.Tool{
		Name: ToolGetContent,
		Description: "Retrieve specific content by ID, section ID, or title. " +
			"Provide exactly one of them. Use this when you need exact content rather than search.",
		InputSchema: object(nil, map[string]*jsonschema.Schema{
			"id":         str("ID of the content section"),
			"section_id": str("Section identifier (e.g., chapter numbers, topic codes, section names)"),
			"title":      str("Exact or partial title to search for"),
			"exact_match": boolean(
				"For title searches, whether to match exactly (default: false for partial matching)", false),
			"source_book": str("Filter by source book (optional)"),
			"limit": limit(fmt.Sprintf("For title searches, maximum results to return (default: %d)",
				cfg.DefaultLimit), cfg),
		}),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}
}

func createContentTool(cfg Config) *mcp.Tool {
	return &mcp.Tool{
		Name: ToolCreateContent,
		Description: "Create a new content section. " +
			"Useful for adding notes, custom content, or other materials.",
		InputSchema: object([]string{"title", "content"}, map[string]*jsonschema.Schema{
			"title":        nonEmpty("Title of the content section (required)"),
			"content":      nonEmpty("Content text (required)"),
			"content_type": strList("Content types: "+strings.Join(cfg.ContentTypes, ", "), cfg.ContentTypes),
			"tags":         strList("Tags for flexible categorization", nil),
			"source_book":  str("Source book identifier (optional, defaults to 'campaign_notes')"),
			"section_id":   str("Section identifier"),
			"page_range":   str("Page range (e.g., '10-12' or '15')"),
			"source_type": withEnum(
				str("Source type (defaults to 'campaign_notes'). Options: "+strings.Join(cfg.SourceTypes, ", ")),
				cfg.SourceTypes),
		}),
	}
}

func updateContentTool(cfg Config) *mcp.Tool {
	return &mcp.Tool{
		Name: ToolUpdateContent,
		Description: "Update an existing content section. Allows editing title, content, tags, " +
			"content types, and other metadata. Regenerates the embedding when content is changed.",
		InputSchema: object([]string{"id"}, map[string]*jsonschema.Schema{
			"id":           nonEmpty("ID of the content section to update (required)"),
			"title":        nonEmpty("New title for the content section"),
			"content":      str("New content text"),
			"content_type": strList("New content types: "+strings.Join(cfg.ContentTypes, ", "), cfg.ContentTypes),
			"tags":         strList("New tags for flexible categorization", nil),
			"source_book":  str("New source book identifier"),
			"section_id":   str("New section identifier"),
			"page_range":   str("New page range (e.g., '10-12' or '15')"),
			"regenerate_embedding": boolean(
				"Whether to regenerate the vector embedding (automatically true if content is updated)", false),
		}),
		Annotations: &mcp.ToolAnnotations{IdempotentHint: true},
	}
}

func deleteContentTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolDeleteContent,
		Description: "Delete a content section and its embedding.",
		InputSchema: object([]string{"id"}, map[string]*jsonschema.Schema{
			"id": nonEmpty("ID of the content section to delete (required)"),
		}),
		Annotations: &mcp.ToolAnnotations{DestructiveHint: jsonschema.Ptr(true)},
	}
}

func statsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolContentStats,
		Description: "Count the stored content sections by source book and content type.",
		InputSchema: object(nil, map[string]*jsonschema.Schema{}),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}
}

func object(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func str(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func nonEmpty(desc string) *jsonschema.Schema {
	s := str(desc)
	s.MinLength = jsonschema.Ptr(1)
	return s
}

func boolean(desc string, def bool) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: desc, Default: json.RawMessage(strconv.FormatBool(def))}
}

// strList is an array of strings, constrained to vocab when it is not empty.
func strList(desc string, vocab []string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Description: desc, Items: withEnum(&jsonschema.Schema{Type: "string"}, vocab)}
}

func withEnum(s *jsonschema.Schema, vocab []string) *jsonschema.Schema {
	if len(vocab) == 0 {
		return s
	}
	s.Enum = make([]any, len(vocab))
	for i, v := range vocab {
		s.Enum[i] = v
	}
	return s
}

func limit(desc string, cfg Config) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "integer",
		Description: desc,
		Minimum:     jsonschema.Ptr(1.0),
		Maximum:     jsonschema.Ptr(float64(cfg.MaxLimit)),
		Default:     json.RawMessage(strconv.Itoa(cfg.DefaultLimit)),
	}
}
