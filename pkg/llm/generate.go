package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Pricing converts token usage into cost.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputPer1K + float64(outputTokens)/1000*p.OutputPer1K
}

// generator holds what Planner and Curator share: the model, retry policy
// and cost accounting.
type generator struct {
	Model      llms.Model
	Pricing    Pricing
	Logger     *slog.Logger
	MaxRetries int
	Backoff    time.Duration
}

func (g *generator) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// generateWithRetry attempts to generate content and validates it using the provided function.
// It retries if the LLM fails or the validator returns an error. Every
// response received is charged to addCost, valid or not.
func (g *generator) generateWithRetry(ctx context.Context, prompts []llms.MessageContent, addCost func(float64), validator func(string) error) (string, error) {
	maxRetries := g.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := g.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			g.logger().Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-time.After(backoff * time.Duration(i)): // Linear backoff
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := g.Model.GenerateContent(ctx, prompts, llms.WithJSONMode())
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}
		choice := resp.Choices[0]
		if addCost != nil {
			in, out := tokenUsage(choice.GenerationInfo)
			if cost := g.Pricing.Cost(in, out); cost > 0 {
				addCost(cost)
			}
		}

		content := stripFences(choice.Content)
		if err := validator(content); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
			continue
		}

		return content, nil
	}

	return "", fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

// tokenUsage reads prompt and completion token counts from provider
// generation info. Providers disagree on key names.
func tokenUsage(info map[string]any) (input, output int) {
	input = firstInt(info, "input_tokens", "PromptTokens", "InputTokens", "prompt_tokens")
	output = firstInt(info, "output_tokens", "CompletionTokens", "OutputTokens", "completion_tokens")
	return input, output
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
