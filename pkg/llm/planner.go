package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-conductor/pkg/research"
)

const defaultRole = "You are an AI research assistant. Your purpose is to plan thorough, " +
	"objective and well-sourced research on the task you are given."

// Planner generates sub-queries with a language model. It implements
// research.QueryPlanner.
type Planner struct {
	generator
	// Now is injectable so prompts stay deterministic in tests.
	Now func() time.Time
}

func NewPlanner(model llms.Model, pricing Pricing, logger *slog.Logger) *Planner {
	return &Planner{generator: generator{Model: model, Pricing: pricing, Logger: logger}}
}

// QueryResponse is the JSON shape the model must answer with.
type QueryResponse struct {
	Queries []string `json:"queries"`
}

func (p *Planner) Plan(ctx context.Context, req research.PlanRequest) ([]string, error) {
	maxQueries := req.MaxSubQueries
	if maxQueries <= 0 {
		maxQueries = 3
	}

	var resp QueryResponse
	_, err := p.generateWithRetry(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, rolePrompt(req.Role)+"\n\n# Response Format:\n"+CreateSearchQueriesSchema(maxQueries)),
		llms.TextParts(llms.ChatMessageTypeHuman, p.planPrompt(req, maxQueries)),
	}, req.AddCost, func(content string) error {
		resp = QueryResponse{}
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return fmt.Errorf("json parse error: %w (content: %s)", err, content)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var queries []string
	for _, q := range resp.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	p.logger().Info("Generated queries", "queries", queries)
	return queries, nil
}

func (p *Planner) planPrompt(req research.PlanRequest, maxQueries int) string {
	task := req.Query
	if (req.ReportType == research.DetailedReport || req.ReportType == research.SubtopicReport) && req.ParentQuery != "" {
		task = req.ParentQuery + " - " + req.Query
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Write %d search engine queries that together cover the following task objectively: %q\n", maxQueries, task)
	fmt.Fprintf(&sb, "Assume the current date is %s if required.\n", now().Format("January 2, 2006"))
	if len(req.SearchResults) > 0 {
		sb.WriteString("\nUse these fresh search results to make the queries specific and current:\n")
		for i, r := range req.SearchResults {
			fmt.Fprintf(&sb, "%d. %s (%s)", i+1, r.Title, r.URL)
			if r.Snippet != "" {
				fmt.Fprintf(&sb, ": %s", r.Snippet)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func rolePrompt(role string) string {
	if strings.TrimSpace(role) == "" {
		return defaultRole
	}
	return role
}

func CreateSearchQueriesSchema(n int) string {
	return fmt.Sprintf(`Return the JSON object directly without any formatting or additional text. The JSON object should have the following structure as defined in the schema. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {
        "type": "string"
      },
      "description": "List of at most %d specific search queries"
    }
  },
  "required": ["queries"]
}`, n)
}
