package retriever

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mikeboe/research-conductor/pkg/research"
)

const arxivEndpoint = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv searches the arXiv Atom API. Each hit points at the paper's PDF so
// the scraper can route it through OCR.
type Arxiv struct {
	Client *http.Client
	// Endpoint overrides the API URL, mainly for tests.
	Endpoint string
}

func (a *Arxiv) Name() string { return string(ArxivProvider) }

func (a *Arxiv) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = arxivEndpoint
	}
	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")
	apiURL := endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build arxiv request: %w", err)
	}
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := do(client, req)
	if err != nil {
		return nil, err
	}
	slog.Debug("arXiv response received", "query", query, "size", len(body))

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	results := make([]research.SearchResult, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		link := entry.pdfLink()
		if link == "" {
			continue
		}
		results = append(results, research.SearchResult{
			Title:   collapse(entry.Title),
			URL:     link,
			Snippet: collapse(entry.Summary),
		})
	}
	return limit(results, maxResults), nil
}

func (e ArxivEntry) pdfLink() string {
	for _, link := range e.Link {
		if link.Type == "application/pdf" {
			return link.Href
		}
	}
	return strings.TrimSpace(e.ID)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
