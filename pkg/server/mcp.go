package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/research-conductor/pkg/embeddings"
	"github.com/mikeboe/research-conductor/pkg/vectorstore"
)

const defaultSearchTopK = 5

// ContentStore is the part of the pgvector store exposed over MCP.
type ContentStore interface {
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filter map[string]any) ([]vectorstore.SimilaritySearchResult, error)
	GetContentBySource(ctx context.Context, source string) ([]vectorstore.Document, error)
	GetContentByMetadata(ctx context.Context, filter map[string]any) ([]vectorstore.Document, error)
}

// MCPTools backs the MCP tool set. Content tools are only registered when
// Store and Embedder are set.
type MCPTools struct {
	Service  *Service
	Store    ContentStore
	Embedder embeddings.Embedder
	Logger   *slog.Logger
}

// NewMCPServer builds an MCP server exposing research and content tools.
func NewMCPServer(t *MCPTools, version string) *mcp.Server {
	if t.Logger == nil {
		t.Logger = slog.Default()
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "research-conductor", Version: version}, nil)

	if t.Service != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "conduct_research",
			Description: "Research a question and return the gathered context, its sources and the cost.",
		}, t.conductResearch)
		mcp.AddTool(server, &mcp.Tool{
			Name:        "start_research_job",
			Description: "Start a background research job and return its id.",
		}, t.startResearchJob)
		mcp.AddTool(server, &mcp.Tool{
			Name:        "get_research_job",
			Description: "Get the status and context of a research job.",
		}, t.getResearchJob)
	}

	if t.Store != nil && t.Embedder != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "search_content",
			Description: "Search for content in the research database using semantic search.",
		}, t.searchContent)
		mcp.AddTool(server, &mcp.Tool{
			Name:        "find_content_by_source",
			Description: "Find all content associated with a specific source URL.",
		}, t.findContentBySource)
		mcp.AddTool(server, &mcp.Tool{
			Name:        "find_content_by_metadata",
			Description: "Find content using logical filters ($and, $or, $not) on metadata.",
		}, t.findContentByMetadata)
	}
	return server
}

// NewMCPHandler serves server over the streamable HTTP transport.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

type ResearchResult struct {
	SessionID string   `json:"session_id"`
	Context   string   `json:"context"`
	Sources   []string `json:"sources,omitempty"`
	Costs     float64  `json:"costs"`
}

func (t *MCPTools) conductResearch(ctx context.Context, _ *mcp.CallToolRequest, args CreateJobRequest) (*mcp.CallToolResult, ResearchResult, error) {
	sess, err := args.NewSession()
	if err != nil {
		return nil, ResearchResult{}, err
	}
	t.Logger.Info("MCP research", "query", sess.Query, "report_source", sess.ReportSource)

	mc, err := t.Service.Research(ctx, sess, t.Logger.With("session_id", sess.ID))
	if err != nil {
		return nil, ResearchResult{}, fmt.Errorf("research failed: %w", err)
	}

	out := ResearchResult{
		SessionID: sess.ID,
		Context:   mc.String(),
		Sources:   mc.Sources(),
		Costs:     sess.Costs.Total(),
	}
	return textResult(out.Context), out, nil
}

type JobStatus struct {
	ID          string  `json:"id"`
	Query       string  `json:"query"`
	Status      string  `json:"status"`
	ContextText string  `json:"context_text,omitempty"`
	Costs       float64 `json:"costs"`
	Error       string  `json:"error,omitempty"`
}

func jobStatus(job *Job) JobStatus {
	st := JobStatus{
		ID:     job.ID.String(),
		Query:  job.Query,
		Status: job.Status,
		Costs:  job.Costs,
	}
	if job.ContextText != nil {
		st.ContextText = *job.ContextText
	}
	if job.Error != nil {
		st.Error = *job.Error
	}
	return st
}

func (t *MCPTools) startResearchJob(ctx context.Context, _ *mcp.CallToolRequest, args CreateJobRequest) (*mcp.CallToolResult, JobStatus, error) {
	job, err := t.Service.CreateJob(ctx, args)
	if err != nil {
		return nil, JobStatus{}, err
	}
	st := jobStatus(job)
	return textResult(fmt.Sprintf("Started research job %s", st.ID)), st, nil
}

type GetJobArgs struct {
	ID string `json:"id" jsonschema:"the research job id"`
}

func (t *MCPTools) getResearchJob(ctx context.Context, _ *mcp.CallToolRequest, args GetJobArgs) (*mcp.CallToolResult, JobStatus, error) {
	id, err := uuid.Parse(args.ID)
	if err != nil {
		return nil, JobStatus{}, fmt.Errorf("invalid job id %q: %w", args.ID, err)
	}
	job, err := t.Service.GetJob(ctx, id)
	if err != nil {
		return nil, JobStatus{}, err
	}
	st := jobStatus(job)
	return textResult(fmt.Sprintf("Job %s is %s", st.ID, st.Status)), st, nil
}

type SearchContentArgs struct {
	Query  string `json:"query" jsonschema:"the search query"`
	TopK   int    `json:"topK,omitempty" jsonschema:"number of results to return (default 5)"`
	Source string `json:"source,omitempty" jsonschema:"optional source filter"`
}

type ContentResult struct {
	Content string `json:"content"`
}

func (t *MCPTools) searchContent(ctx context.Context, _ *mcp.CallToolRequest, args SearchContentArgs) (*mcp.CallToolResult, ContentResult, error) {
	if args.TopK <= 0 {
		args.TopK = defaultSearchTopK
	}
	t.Logger.Info("Search content", "query", args.Query, "topK", args.TopK, "source", args.Source)

	queryEmbedding, err := t.Embedder.EmbedText(ctx, args.Query)
	if err != nil {
		return nil, ContentResult{}, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	var filter map[string]any
	if args.Source != "" {
		filter = map[string]any{"source": args.Source}
	}
	results, err := t.Store.SimilaritySearch(ctx, queryEmbedding, args.TopK, filter)
	if err != nil {
		return nil, ContentResult{}, fmt.Errorf("failed to search: %w", err)
	}

	formatted := make([]string, 0, len(results))
	for _, result := range results {
		resSource := "unknown"
		if s, ok := result.Document.Metadata["source"].(string); ok {
			resSource = s
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "[Source]: %s\n[Content]: %s", resSource, result.Document.Content)
		writeMetadata(&sb, result.Document.Metadata, "source")
		formatted = append(formatted, sb.String())
	}

	out := ContentResult{Content: strings.Join(formatted, "\n\n")}
	return textResult(out.Content), out, nil
}

type FindSourceArgs struct {
	Source string `json:"source" jsonschema:"the source URL to find content for"`
}

func (t *MCPTools) findContentBySource(ctx context.Context, _ *mcp.CallToolRequest, args FindSourceArgs) (*mcp.CallToolResult, ContentResult, error) {
	docs, err := t.Store.GetContentBySource(ctx, args.Source)
	if err != nil {
		return nil, ContentResult{}, fmt.Errorf("failed to find content: %w", err)
	}

	formatted := make([]string, 0, len(docs))
	for _, doc := range docs {
		formatted = append(formatted, doc.Content)
	}
	out := ContentResult{Content: strings.Join(formatted, "\n\n")}
	return textResult(out.Content), out, nil
}

type FindMetadataArgs struct {
	Filter map[string]any `json:"filter" jsonschema:"JSON filter object with logical operators ($and, $or, $not)"`
}

func (t *MCPTools) findContentByMetadata(ctx context.Context, _ *mcp.CallToolRequest, args FindMetadataArgs) (*mcp.CallToolResult, ContentResult, error) {
	docs, err := t.Store.GetContentByMetadata(ctx, args.Filter)
	if err != nil {
		return nil, ContentResult{}, fmt.Errorf("failed to find content: %w", err)
	}

	formatted := make([]string, 0, len(docs))
	for _, doc := range docs {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[Content]: %s", doc.Content)
		writeMetadata(&sb, doc.Metadata, "")
		formatted = append(formatted, sb.String())
	}
	out := ContentResult{Content: strings.Join(formatted, "\n\n")}
	return textResult(out.Content), out, nil
}

// writeMetadata appends metadata lines in key order, skipping skip.
func writeMetadata(sb *strings.Builder, meta map[string]any, skip string) {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if k != skip {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "\n[%s]: %v", k, meta[k])
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
