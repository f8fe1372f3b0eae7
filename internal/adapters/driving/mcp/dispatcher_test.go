package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/services"
)

const (
	initializeMsg  = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0"}}}`
	initializedMsg = `{"jsonrpc":"2.0","method":"notifications/initialized"}`
)

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent"`
	IsError           bool            `json:"isError"`
}

func (r toolResult) text() string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

func testConfig() Config {
	return ConfigFrom(domain.DefaultSettings())
}

func newTestDispatcher(t *testing.T, q *mockQueryService, c *mockContentService) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(&Ports{Query: q, Content: c}, testConfig())
	require.NoError(t, err)
	return d
}

func send(t *testing.T, d *Dispatcher, msg string) rpcResponse {
	t.Helper()
	raw := d.Handle(context.Background(), []byte(msg))
	require.NotNil(t, raw, "expected a response to %s", msg)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func ready(t *testing.T, d *Dispatcher) {
	t.Helper()
	resp := send(t, d, initializeMsg)
	require.Nil(t, resp.Error)
	require.Nil(t, d.Handle(context.Background(), []byte(initializedMsg)))
	require.Equal(t, StateReady, d.State())
}

func callTool(t *testing.T, d *Dispatcher, name, args string) rpcResponse {
	t.Helper()
	return send(t, d, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, name, args))
}

func decodeTool(t *testing.T, resp rpcResponse) toolResult {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected protocol error")
	var r toolResult
	require.NoError(t, json.Unmarshal(resp.Result, &r))
	return r
}

func TestDispatcher_Lifecycle(t *testing.T) {
	d := newTestDispatcher(t, &mockQueryService{}, &mockContentService{})
	assert.Equal(t, StateUninitialized, d.State())

	for _, method := range []string{"tools/list", "tools/call", "ping", "resources/list"} {
		resp := send(t, d, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q}`, method))
		require.NotNil(t, resp.Error, method)
		assert.Equal(t, CodeNotInitialized, resp.Error.Code, method)
	}

	// The notification is ignored before initialize.
	assert.Nil(t, d.Handle(context.Background(), []byte(initializedMsg)))
	assert.Equal(t, StateUninitialized, d.State())

	resp := send(t, d, initializeMsg)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `1`, string(resp.ID))
	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		Capabilities    struct {
			Tools *struct{} `json:"tools"`
		} `json:"capabilities"`
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &init))
	assert.Equal(t, ProtocolVersion, init.ProtocolVersion)
	assert.NotNil(t, init.Capabilities.Tools)
	assert.Equal(t, "content-server", init.ServerInfo.Name)
	assert.Equal(t, StateInitialized, d.State())
	require.NotNil(t, d.Client())
	assert.Equal(t, "test-client", d.Client().Name)

	resp = callTool(t, d, ToolContentStats, `{}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotInitialized, resp.Error.Code, "tool calls wait for the initialized notification")

	resp = send(t, d, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assert.Nil(t, resp.Error)
	resp = send(t, d, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{}`, string(resp.Result))

	assert.Nil(t, d.Handle(context.Background(), []byte(initializedMsg)))
	assert.Equal(t, StateReady, d.State())

	resp = send(t, d, initializeMsg)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestDispatcher_InitializeParams(t *testing.T) {
	tests := []struct {
		name        string
		params      string
		wantCode    int
		wantVersion string
	}{
		{"missing params", ``, CodeInvalidParams, ""},
		{"null params", `,"params":null`, CodeInvalidParams, ""},
		{"missing version", `,"params":{"capabilities":{}}`, CodeInvalidParams, ""},
		{"missing capabilities", `,"params":{"protocolVersion":"2025-06-18"}`, CodeInvalidParams, ""},
		{"wrong type", `,"params":{"protocolVersion":5,"capabilities":{}}`, CodeInvalidParams, ""},
		{"older version echoed", `,"params":{"protocolVersion":"2024-11-05","capabilities":{}}`, 0, "2024-11-05"},
		{"unknown version negotiated", `,"params":{"protocolVersion":"1999-01-01","capabilities":{}}`, 0, ProtocolVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, &mockQueryService{}, &mockContentService{})
			resp := send(t, d, `{"jsonrpc":"2.0","id":1,"method":"initialize"`+tt.params+`}`)

			if tt.wantCode != 0 {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantCode, resp.Error.Code)
				assert.Equal(t, StateUninitialized, d.State())
				return
			}
			require.Nil(t, resp.Error)
			var init struct {
				ProtocolVersion string `json:"protocolVersion"`
			}
			require.NoError(t, json.Unmarshal(resp.Result, &init))
			assert.Equal(t, tt.wantVersion, init.ProtocolVersion)
		})
	}
}

func TestDispatcher_Envelope(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantCode int
		wantID   string
	}{
		{"malformed json", `{"jsonrpc":"2.0","id":1,`, CodeParseError, `null`},
		{"empty message", ``, CodeParseError, `null`},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, CodeInvalidRequest, `null`},
		{"not an object", `"ping"`, CodeInvalidRequest, `null`},
		{"missing jsonrpc", `{"id":4,"method":"ping"}`, CodeInvalidRequest, `4`},
		{"wrong jsonrpc", `{"jsonrpc":"1.0","id":"a","method":"ping"}`, CodeInvalidRequest, `"a"`},
		{"missing method", `{"jsonrpc":"2.0","id":5}`, CodeInvalidRequest, `5`},
		{"method not a string", `{"jsonrpc":"2.0","id":6,"method":5}`, CodeInvalidRequest, `6`},
		{"object id", `{"jsonrpc":"2.0","id":{},"method":"ping"}`, CodeInvalidRequest, `null`},
		{"unknown method", `{"jsonrpc":"2.0","id":"x-1","method":"resources/list"}`, CodeMethodNotFound, `"x-1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, &mockQueryService{}, &mockContentService{})
			ready(t, d)

			resp := send(t, d, tt.msg)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
			assert.JSONEq(t, tt.wantID, string(resp.ID))
			assert.Nil(t, resp.Result)
		})
	}
}

func TestDispatcher_EchoesID(t *testing.T) {
	d := newTestDispatcher(t, &mockQueryService{}, &mockContentService{})
	ready(t, d)

	for _, id := range []string{`"abc"`, `42`, `-1`, `1.5`, `null`} {
		resp := send(t, d, `{"jsonrpc":"2.0","id":`+id+`,"method":"ping"}`)
		assert.Nil(t, resp.Error)
		assert.Equal(t, id, string(resp.ID))
	}
}

func TestDispatcher_NotificationsGetNoResponse(t *testing.T) {
	q := &mockQueryService{}
	d := newTestDispatcher(t, q, &mockContentService{})
	ready(t, d)

	msg := `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"semantic_search","arguments":{"query":"x"}}}`
	assert.Nil(t, d.Handle(context.Background(), []byte(msg)))
	assert.Nil(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/cancelled"}`)))
	assert.Equal(t, 0, q.searchCalls)
}

func TestDispatcher_ToolsList(t *testing.T) {
	d := newTestDispatcher(t, &mockQueryService{}, &mockContentService{})
	ready(t, d)

	resp := send(t, d, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, resp.Error)

	var list struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema struct {
				Type       string   `json:"type"`
				Required   []string `json:"required"`
				Properties map[string]struct {
					Type    string `json:"type"`
					Minimum *int   `json:"minimum"`
					Maximum *int   `json:"maximum"`
					Default any    `json:"default"`
					Items   *struct {
						Enum []string `json:"enum"`
					} `json:"items"`
				} `json:"properties"`
			} `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &list))

	names := make([]string, len(list.Tools))
	for i, tool := range list.Tools {
		names[i] = tool.Name
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "object", tool.InputSchema.Type)
	}
	assert.Equal(t, []string{
		ToolSemanticSearch, ToolGetContent, ToolCreateContent,
		ToolUpdateContent, ToolDeleteContent, ToolContentStats,
	}, names)

	search := list.Tools[0].InputSchema
	assert.Equal(t, []string{"query"}, search.Required)
	assert.Equal(t, "string", search.Properties["query"].Type)
	require.NotNil(t, search.Properties["content_types"].Items)
	assert.Equal(t, domain.DefaultSettings().Vocabulary.ContentTypes, search.Properties["content_types"].Items.Enum)
	assert.Equal(t, 1, *search.Properties["limit"].Minimum)
	assert.Equal(t, 20, *search.Properties["limit"].Maximum)
	assert.EqualValues(t, 5, search.Properties["limit"].Default)

	get := list.Tools[1].InputSchema
	assert.Empty(t, get.Required)
	assert.Equal(t, false, get.Properties["exact_match"].Default)
}

func TestDispatcher_SemanticSearch(t *testing.T) {
	q := &mockQueryService{results: []domain.SearchResult{{
		Unit: domain.ContentUnit{
			ID: "u1", Title: "Grappling", Body: "Make an opposed check.",
			SourceBook: "players_book", PageRange: "41-42",
			ContentTypes: []string{"procedure"}, Tags: []string{"combat"},
		},
		Distance: 0.25,
	}}}
	d := newTestDispatcher(t, q, &mockContentService{})
	ready(t, d)

	r := decodeTool(t, callTool(t, d, ToolSemanticSearch,
		`{"query":"grapple","content_types":["procedure"],"source_books":["players_book"],"limit":3}`))
	assert.False(t, r.IsError)
	assert.Equal(t, "grapple", q.query)
	assert.Equal(t, []string{"procedure"}, q.filters.ContentTypes)
	assert.Equal(t, []string{"players_book"}, q.filters.SourceBooks)
	assert.Equal(t, 3, q.limit)

	require.Len(t, r.Content, 1)
	assert.Equal(t, "text", r.Content[0].Type)
	assert.Contains(t, r.text(), "Found 1 result(s) for: 'grapple'")
	assert.Contains(t, r.text(), "## Result 1: Grappling")
	assert.Contains(t, r.text(), "**Source:** players_book (41-42)")
	assert.Contains(t, r.text(), "**Content Type:** procedure")
	assert.Contains(t, r.text(), "**Tags:** combat")

	var out SearchOutput
	require.NoError(t, json.Unmarshal(r.StructuredContent, &out))
	assert.Equal(t, 1, out.Count)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "u1", out.Results[0].ID)
	require.NotNil(t, out.Results[0].Score)
	assert.InDelta(t, 0.75, *out.Results[0].Score, 1e-9)
}

func TestDispatcher_SemanticSearchDefaults(t *testing.T) {
	q := &mockQueryService{}
	d := newTestDispatcher(t, q, &mockContentService{})
	ready(t, d)

	r := decodeTool(t, callTool(t, d, ToolSemanticSearch, `{"query":"owlbear"}`))
	assert.Equal(t, 5, q.limit, "default applied after validation")
	assert.True(t, q.filters.IsEmpty())
	assert.Equal(t, "No results found for query: 'owlbear'", r.text())
}

func TestDispatcher_ArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args string
	}{
		{"unknown tool", "summon_dragon", `{}`},
		{"empty tool name", "", `{}`},
		{"missing query", ToolSemanticSearch, `{}`},
		{"null arguments", ToolSemanticSearch, `null`},
		{"query not a string", ToolSemanticSearch, `{"query":7}`},
		{"content type outside vocabulary", ToolSemanticSearch, `{"query":"x","content_types":["spellbook"]}`},
		{"content types not a list", ToolSemanticSearch, `{"query":"x","content_types":"procedure"}`},
		{"limit below range", ToolSemanticSearch, `{"query":"x","limit":0}`},
		{"limit above range", ToolSemanticSearch, `{"query":"x","limit":21}`},
		{"fractional limit", ToolSemanticSearch, `{"query":"x","limit":2.5}`},
		{"arguments not an object", ToolSemanticSearch, `["x"]`},
		{"exact match not a bool", ToolGetContent, `{"title":"x","exact_match":"yes"}`},
		{"create without content", ToolCreateContent, `{"title":"x"}`},
		{"create with empty title", ToolCreateContent, `{"title":"","content":"y"}`},
		{"create with unknown source type", ToolCreateContent, `{"title":"x","content":"y","source_type":"fanfic"}`},
		{"update without id", ToolUpdateContent, `{"title":"x"}`},
		{"delete with empty id", ToolDeleteContent, `{"id":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueryService{}
			c := &mockContentService{}
			d := newTestDispatcher(t, q, c)
			ready(t, d)

			resp := callTool(t, d, tt.tool, tt.args)
			require.NotNil(t, resp.Error)
			assert.Equal(t, CodeInvalidParams, resp.Error.Code)
			assert.Equal(t, 0, q.searchCalls+q.getCalls, "no query runs")
			assert.Equal(t, 0, c.calls, "no mutation runs")
		})
	}
}

func TestDispatcher_ToolCallParams(t *testing.T) {
	d := newTestDispatcher(t, &mockQueryService{}, &mockContentService{})
	ready(t, d)

	for _, msg := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/call"}`,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":3}}`,
	} {
		resp := send(t, d, msg)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	}
}

func TestDispatcher_GetContent(t *testing.T) {
	grappling := domain.ContentUnit{
		ID: "u1", Title: "Grappling", Body: "Make an opposed check.",
		SourceBook: "players_book", SectionID: "12", PageRange: "41",
	}
	variants := domain.ContentUnit{ID: "u2", Title: "Grappling Variants", Body: "Optional.", SourceBook: "campaign_book"}

	t.Run("single result", func(t *testing.T) {
		q := &mockQueryService{units: []domain.ContentUnit{grappling}}
		d := newTestDispatcher(t, q, &mockContentService{})
		ready(t, d)

		r := decodeTool(t, callTool(t, d, ToolGetContent, `{"section_id":"12","source_book":"players_book"}`))
		assert.Equal(t, "12", q.locator.SectionID)
		assert.Equal(t, "players_book", q.locator.SourceBook)
		assert.Equal(t, 5, q.locator.Limit)
		assert.Equal(t, "# Grappling\n**Source:** players_book (41)\n**ID:** u1\n**Section ID:** 12\n\n"+
			"Make an opposed check.", r.text())
	})

	t.Run("several results", func(t *testing.T) {
		q := &mockQueryService{units: []domain.ContentUnit{grappling, variants}}
		d := newTestDispatcher(t, q, &mockContentService{})
		ready(t, d)

		r := decodeTool(t, callTool(t, d, ToolGetContent, `{"title":"grappling","limit":2}`))
		assert.Equal(t, 2, q.locator.Limit)
		assert.Contains(t, r.text(), "Found 2 result(s):\n")
		assert.Contains(t, r.text(), "## Result 2: Grappling Variants")
		assert.Contains(t, r.text(), "**ID:** u2")

		var out ContentOutput
		require.NoError(t, json.Unmarshal(r.StructuredContent, &out))
		assert.Equal(t, 2, out.Count)
	})

	t.Run("miss", func(t *testing.T) {
		d := newTestDispatcher(t, &mockQueryService{units: []domain.ContentUnit{}}, &mockContentService{})
		ready(t, d)

		r := decodeTool(t, callTool(t, d, ToolGetContent, `{"title":"owlbear","exact_match":true}`))
		assert.False(t, r.IsError)
		assert.Equal(t, "No content found for title: 'owlbear'", r.text())
	})

	t.Run("invalid locator", func(t *testing.T) {
		q := &mockQueryService{err: domain.NewValidationError("locator", "only one of id, section_id or title may be given")}
		d := newTestDispatcher(t, q, &mockContentService{})
		ready(t, d)

		resp := callTool(t, d, ToolGetContent, `{"id":"a","title":"b"}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInvalidParams, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "only one of")
	})

	t.Run("backend failure", func(t *testing.T) {
		q := &mockQueryService{err: errors.New("connection reset")}
		d := newTestDispatcher(t, q, &mockContentService{})
		ready(t, d)

		r := decodeTool(t, callTool(t, d, ToolGetContent, `{"id":"a"}`))
		assert.True(t, r.IsError)
		assert.Equal(t, "Content retrieval failed: connection reset", r.text())
	})
}

func TestDispatcher_GetContentLocatorRule(t *testing.T) {
	settings := domain.DefaultSettings()
	mem := memory.NewContentStore()
	require.NoError(t, mem.Upsert(context.Background(), &domain.ContentUnit{ID: "u1", Title: "Grappling", Body: "x"}))

	d, err := NewDispatcher(&Ports{
		Query:   services.NewQueryEngine(mem, nil, settings),
		Content: services.NewContentService(mem, nil, settings),
	}, ConfigFrom(settings))
	require.NoError(t, err)
	ready(t, d)

	for _, args := range []string{`{}`, `{"id":"u1","title":"Grappling"}`, `{"id":"u1","section_id":"1","title":"G"}`} {
		resp := callTool(t, d, ToolGetContent, args)
		require.NotNil(t, resp.Error, args)
		assert.Equal(t, CodeInvalidParams, resp.Error.Code, args)
	}

	r := decodeTool(t, callTool(t, d, ToolGetContent, `{"id":"u1"}`))
	assert.Contains(t, r.text(), "# Grappling")
}

func TestDispatcher_SearchFailureIsToolError(t *testing.T) {
	q := &mockQueryService{err: domain.ErrEmbeddingUnavailable}
	d := newTestDispatcher(t, q, &mockContentService{})
	ready(t, d)

	r := decodeTool(t, callTool(t, d, ToolSemanticSearch, `{"query":"x"}`))
	assert.True(t, r.IsError)
	assert.Equal(t, "Search failed: embedding service unavailable", r.text())
}

func TestDispatcher_CreateContent(t *testing.T) {
	c := &mockContentService{unit: &domain.ContentUnit{
		ID: "new", Title: "Session 12", Body: "The party met the witch.",
		SourceBook: "campaign_notes", SourceType: "campaign_notes",
		Tags: []string{"session"}, Embedding: []float32{1, 0},
	}}
	d := newTestDispatcher(t, &mockQueryService{}, c)
	ready(t, d)

	r := decodeTool(t, callTool(t, d, ToolCreateContent,
		`{"title":"Session 12","content":"The party met the witch.","content_type":["example"],"tags":["session"]}`))
	assert.False(t, r.IsError)
	assert.Equal(t, "Session 12", c.draft.Title)
	assert.Equal(t, "The party met the witch.", c.draft.Body)
	assert.Equal(t, []string{"example"}, c.draft.ContentTypes)
	assert.Equal(t, []string{"session"}, c.draft.Tags)

	assert.Contains(t, r.text(), "Content created successfully!")
	assert.Contains(t, r.text(), "**Source:** campaign_notes (N/A)")
	assert.Contains(t, r.text(), "**Source Type:** campaign_notes\n\nThe party met the witch.")
	assert.Contains(t, r.text(), "Vector embedding generated and stored")

	var out MutationOutput
	require.NoError(t, json.Unmarshal(r.StructuredContent, &out))
	assert.Equal(t, "new", out.Unit.ID)
	assert.True(t, out.EmbeddingRegenerated)
}

func TestDispatcher_UpdateContent(t *testing.T) {
	t.Run("content change", func(t *testing.T) {
		c := &mockContentService{
			unit:        &domain.ContentUnit{ID: "u1", Title: "T", Body: "new text", SourceBook: "b"},
			regenerated: true,
		}
		d := newTestDispatcher(t, &mockQueryService{}, c)
		ready(t, d)

		r := decodeTool(t, callTool(t, d, ToolUpdateContent, `{"id":"u1","content":"new text","tags":[]}`))
		assert.Equal(t, "u1", c.id)
		require.NotNil(t, c.patch.Body)
		assert.Equal(t, "new text", *c.patch.Body)
		assert.Nil(t, c.patch.Title)
		require.NotNil(t, c.patch.Tags)
		assert.Empty(t, *c.patch.Tags)
		assert.False(t, c.patch.RegenerateEmbedding)

		assert.Contains(t, r.text(), "Content updated successfully!")
		assert.Contains(t, r.text(), "Vector embedding regenerated")
	})

	t.Run("metadata only", func(t *testing.T) {
		c := &mockContentService{unit: &domain.ContentUnit{ID: "u1", Title: "Renamed", Body: "x"}}
		d := newTestDispatcher(t, &mockQueryService{}, c)
		ready(t, d)

		r := decodeTool(t, callTool(t, d, ToolUpdateContent, `{"id":"u1","title":"Renamed"}`))
		require.NotNil(t, c.patch.Title)
		assert.Equal(t, "Renamed", *c.patch.Title)
		assert.NotContains(t, r.text(), "regenerated")
	})

	t.Run("missing unit", func(t *testing.T) {
		c := &mockContentService{err: fmt.Errorf("loading unit: %w", domain.ErrNotFound)}
		d := newTestDispatcher(t, &mockQueryService{}, c)
		ready(t, d)

		r := decodeTool(t, callTool(t, d, ToolUpdateContent, `{"id":"ghost","title":"x"}`))
		assert.True(t, r.IsError)
		assert.Equal(t, "Error: Content with ID 'ghost' not found", r.text())
	})
}

func TestDispatcher_DeleteAndStats(t *testing.T) {
	c := &mockContentService{stats: &domain.ContentStats{
		Total:         3,
		BySourceBook:  map[string]int{"players_book": 2, "campaign_notes": 1},
		ByContentType: map[string]int{"procedure": 1},
	}}
	d := newTestDispatcher(t, &mockQueryService{}, c)
	ready(t, d)

	r := decodeTool(t, callTool(t, d, ToolDeleteContent, `{"id":"u1"}`))
	assert.False(t, r.IsError)
	assert.Equal(t, "u1", c.id)
	assert.Equal(t, "Content 'u1' deleted", r.text())

	r = decodeTool(t, callTool(t, d, ToolContentStats, `{}`))
	assert.Equal(t, "Total sections: 3\n\nBy source book:\n- campaign_notes: 1\n- players_book: 2\n\n"+
		"By content type:\n- procedure: 1", r.text())

	var out StatsOutput
	require.NoError(t, json.Unmarshal(r.StructuredContent, &out))
	assert.Equal(t, 3, out.Total)

	c.err = domain.ErrNotFound
	r = decodeTool(t, callTool(t, d, ToolDeleteContent, `{"id":"u1"}`))
	assert.True(t, r.IsError)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initialized", StateInitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "unknown", State(9).String())
}
