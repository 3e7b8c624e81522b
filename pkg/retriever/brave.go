package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mikeboe/research-conductor/pkg/research"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave web search API.
type Brave struct {
	APIKey   string
	Client   *http.Client
	Endpoint string
}

func (b *Brave) Name() string { return string(BraveProvider) }

func (b *Brave) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := do(client, req)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode brave response: %w", err)
	}

	results := make([]research.SearchResult, 0, len(raw.Web.Results))
	for _, r := range raw.Web.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, research.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return limit(results, maxResults), nil
}
