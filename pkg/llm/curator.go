package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-conductor/pkg/research"
)

// DefaultMaxCurated bounds how many fragments survive curation.
const DefaultMaxCurated = 10

// excerptChars bounds how much of each fragment the model sees.
const excerptChars = 1500

// Curator asks a model to rank fragments by relevance and credibility and
// keeps the best ones. The model only returns indices, so the curated context
// is always built from the original fragments. It implements
// research.SourceCurator.
type Curator struct {
	generator
	MaxSources int
}

func NewCurator(model llms.Model, pricing Pricing, maxSources int, logger *slog.Logger) *Curator {
	return &Curator{generator: generator{Model: model, Pricing: pricing, Logger: logger}, MaxSources: maxSources}
}

// CurateResponse is the JSON shape the model must answer with.
type CurateResponse struct {
	Keep []int `json:"keep"`
}

type candidate struct {
	block, index int
	fragment     research.Fragment
}

func (c *Curator) Curate(ctx context.Context, query string, mc research.MergedContext, addCost func(float64)) (research.MergedContext, error) {
	var candidates []candidate
	for b, block := range mc.Blocks {
		for i, f := range block.Fragments {
			if !f.Empty() {
				candidates = append(candidates, candidate{block: b, index: i, fragment: f})
			}
		}
	}
	if len(candidates) == 0 {
		return mc, nil
	}

	maxSources := c.MaxSources
	if maxSources <= 0 {
		maxSources = DefaultMaxCurated
	}

	var resp CurateResponse
	_, err := c.generateWithRetry(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, curatorSystemPrompt(maxSources)),
		llms.TextParts(llms.ChatMessageTypeHuman, curatorInput(query, candidates)),
	}, addCost, func(content string) error {
		resp = CurateResponse{}
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		if len(resp.Keep) == 0 {
			return fmt.Errorf("empty keep list")
		}
		return nil
	})
	if err != nil {
		return research.MergedContext{}, fmt.Errorf("llm curation failed: %w", err)
	}

	keep := make(map[[2]int]bool)
	for _, id := range resp.Keep {
		if id < 0 || id >= len(candidates) || len(keep) >= maxSources {
			continue
		}
		keep[[2]int{candidates[id].block, candidates[id].index}] = true
	}

	out := research.MergedContext{Blocks: make([]research.Block, len(mc.Blocks))}
	for b, block := range mc.Blocks {
		out.Blocks[b].Label = block.Label
		for i, f := range block.Fragments {
			if keep[[2]int{b, i}] {
				out.Blocks[b].Fragments = append(out.Blocks[b].Fragments, f)
			}
		}
	}
	c.logger().Info("Curation complete", "total", len(candidates), "kept", len(keep))
	return out, nil
}

func curatorSystemPrompt(maxSources int) string {
	return fmt.Sprintf(`You are a research curator. Evaluate the numbered research findings for the query and select the ones that are most relevant, credible and informative.
Prefer findings with concrete facts, statistics and primary sources. Drop duplicates and off-topic material.
Select at most %d findings.

# Response Format:
Return the JSON object directly without any formatting or additional text: {"keep": [<ids of selected findings>]}`, maxSources)
}

func curatorInput(query string, candidates []candidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\n", query)
	for id, c := range candidates {
		content := c.fragment.Content
		if r := []rune(content); len(r) > excerptChars {
			content = string(r[:excerptChars]) + "..."
		}
		fmt.Fprintf(&sb, "[%d] Sub-query: %s\n", id, c.fragment.SubQuery)
		if len(c.fragment.Sources) > 0 {
			fmt.Fprintf(&sb, "Sources: %s\n", strings.Join(c.fragment.Sources, ", "))
		}
		fmt.Fprintf(&sb, "%s\n\n", content)
	}
	return sb.String()
}
