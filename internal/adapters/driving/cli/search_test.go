package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCmd_Use(t *testing.T) {
	assert.Equal(t, "search [query]", searchCmd.Use)
}

func TestSearchCmd_Long(t *testing.T) {
	assert.Contains(t, searchCmd.Long, "semantic search")
	assert.Contains(t, searchCmd.Long, "--text")
}

func TestSearchCmd_RequiresExactlyOneArg(t *testing.T) {
	setupTestServices(t)

	_, err := execute(t, "search")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestSearchCmd_HasFlags(t *testing.T) {
	flag := searchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "limit flag should exist")
	assert.Equal(t, "n", flag.Shorthand)
	assert.Equal(t, "5", flag.DefValue)

	for _, name := range []string{"json", "text", "type", "book", "source"} {
		assert.NotNil(t, searchCmd.Flags().Lookup(name), name)
	}
}

func TestSearchCmd_Semantic(t *testing.T) {
	setupTestServices(t)
	seed(t, rulebookDrafts()...)

	out, err := execute(t, "search", "how do I grapple")

	require.NoError(t, err)
	assert.Contains(t, out, "Results:")
	assert.Contains(t, out, "[1] Grappling (")
	assert.Contains(t, out, "Source: players_book (pages 41-42)")
	assert.Less(t, strings.Index(out, "Grappling"), strings.Index(out, "Spellcasting"))
}

func TestSearchCmd_Filters(t *testing.T) {
	setupTestServices(t)
	seed(t, rulebookDrafts()...)

	out, err := execute(t, "search", "--book", "guide", "how do I grapple")

	require.NoError(t, err)
	assert.Contains(t, out, "Overland Travel")
	assert.NotContains(t, out, "Grappling")
}

func TestSearchCmd_UnknownContentType(t *testing.T) {
	setupTestServices(t)

	_, err := execute(t, "search", "--type", "poetry", "grapple")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "search failed")
}

func TestSearchCmd_Text(t *testing.T) {
	setupTestServices(t)
	seed(t, rulebookDrafts()...)

	out, err := execute(t, "search", "--text", "spell slot")

	require.NoError(t, err)
	assert.Contains(t, out, "[1] Spellcasting\n")
	assert.NotContains(t, out, "Grappling")
}

func TestSearchCmd_JSON(t *testing.T) {
	setupTestServices(t)
	units := seed(t, rulebookDrafts()...)

	out, err := execute(t, "search", "--json", "-n", "1", "grappling")
	require.NoError(t, err)

	var hits []searchHit
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, units[0].ID, hits[0].ID)
	require.NotNil(t, hits[0].Score)
	assert.InDelta(t, 1.0, *hits[0].Score, 0.05)
	assert.Equal(t, []string{"procedure"}, hits[0].ContentTypes)
}

func TestSearchCmd_NoResults(t *testing.T) {
	setupTestServices(t)

	out, err := execute(t, "search", "anything")

	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "one two three", snippet("one\n\ttwo   three"))

	long := strings.Repeat("é", snippetLength)
	s := snippet(long)
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.LessOrEqual(t, len(s), snippetLength+3)
	assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(s, "...")), "cut on a rune boundary")
}

func TestSourceLine(t *testing.T) {
	assert.Equal(t, "", sourceLine("", "1-2"))
	assert.Equal(t, "book", sourceLine("book", ""))
	assert.Equal(t, "book (pages 1-2)", sourceLine("book", "1-2"))
}
