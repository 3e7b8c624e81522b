package server

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-conductor/pkg/vectorstore"
)

func connect(t *testing.T, tools *MCPTools) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := NewMCPServer(tools, "test")
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func TestMCPListsToolsByCapability(t *testing.T) {
	svc := newTestService(newMemStore(), fixedPlanner{})

	cs := connect(t, &MCPTools{Service: svc, Logger: discardLogger()})
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"conduct_research", "start_research_job", "get_research_job"}, names)

	cs = connect(t, &MCPTools{Service: svc, Store: &fakeContentStore{}, Embedder: constEmbedder{}, Logger: discardLogger()})
	res, err = cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Tools, 6)
}

func TestMCPConductResearch(t *testing.T) {
	svc := newTestService(newMemStore(), fixedPlanner{cost: 0.5})
	cs := connect(t, &MCPTools{Service: svc, Logger: discardLogger()})

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "conduct_research",
		Arguments: map[string]any{"query": "capital of France"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "Paris is the capital", text(t, res))

	out, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok, "structured content %T", res.StructuredContent)
	assert.Equal(t, []any{"https://example.com/paris"}, out["sources"])
	assert.InDelta(t, 0.5, out["costs"], 1e-9)
}

func TestMCPConductResearchOverSuppliedDocuments(t *testing.T) {
	svc := newTestService(newMemStore(), fixedPlanner{})
	cs := connect(t, &MCPTools{Service: svc, Logger: discardLogger()})

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "conduct_research",
		Arguments: map[string]any{
			"query":         "quarterly revenue",
			"report_source": "langchain_documents",
			"documents": []any{map[string]any{
				"page_content": "Revenue grew 12% in Q3",
				"metadata":     map[string]any{"source": "q3-memo.txt"},
			}},
		},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "Revenue grew 12% in Q3", text(t, res))

	out, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"q3-memo.txt"}, out["sources"])
}

func TestMCPConductResearchReportsErrors(t *testing.T) {
	svc := newTestService(newMemStore(), fixedPlanner{})
	cs := connect(t, &MCPTools{Service: svc, Logger: discardLogger()})

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "conduct_research",
		Arguments: map[string]any{"query": "q", "report_source": "carrier_pigeon"},
	})
	if err == nil {
		assert.True(t, res.IsError)
	}
}

func TestMCPResearchJobLifecycle(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, fixedPlanner{})
	cs := connect(t, &MCPTools{Service: svc, Logger: discardLogger()})

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "start_research_job",
		Arguments: map[string]any{"query": "capital of France"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	started, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok)
	id, _ := started["id"].(string)
	require.NotEmpty(t, id)

	svc.Wait()

	res, err = cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_research_job",
		Arguments: map[string]any{"id": id},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	got := res.StructuredContent.(map[string]any)
	assert.Equal(t, StatusCompleted, got["status"])
	assert.Equal(t, "Paris is the capital", got["context_text"])
}

func TestMCPContentTools(t *testing.T) {
	store := &fakeContentStore{docs: []vectorstore.Document{{
		Content:  "Paris is the capital",
		Metadata: map[string]any{"source": "https://example.com/paris", "title": "Paris"},
	}}}
	cs := connect(t, &MCPTools{Store: store, Embedder: constEmbedder{}, Logger: discardLogger()})
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search_content",
		Arguments: map[string]any{"query": "capital", "source": "https://example.com/paris"},
	})
	require.NoError(t, err)
	assert.Equal(t, "[Source]: https://example.com/paris\n[Content]: Paris is the capital\n[title]: Paris", text(t, res))
	assert.Equal(t, defaultSearchTopK, store.gotTopK)
	assert.Equal(t, map[string]any{"source": "https://example.com/paris"}, store.gotFilter)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "find_content_by_source",
		Arguments: map[string]any{"source": "https://example.com/paris"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital", text(t, res))
	assert.Equal(t, "https://example.com/paris", store.gotSource)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "find_content_by_metadata",
		Arguments: map[string]any{"filter": map[string]any{"title": "Paris"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "[Content]: Paris is the capital\n[source]: https://example.com/paris\n[title]: Paris", text(t, res))
	assert.Equal(t, map[string]any{"title": "Paris"}, store.gotMetaArg)
}
