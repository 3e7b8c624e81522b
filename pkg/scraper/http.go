package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/mikeboe/research-conductor/pkg/research"
)

const userAgent = "research-conductor/1.0"

// HTTPScraper downloads a page and extracts its main article text.
type HTTPScraper struct {
	Client *http.Client
}

func NewHTTPScraper() *HTTPScraper {
	return &HTTPScraper{Client: &http.Client{Timeout: 15 * time.Second}}
}

func (s *HTTPScraper) Scrape(ctx context.Context, location string) (research.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return research.Document{}, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return research.Document{}, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return research.Document{}, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return research.Document{}, fmt.Errorf("failed to read page: %w", err)
	}
	return extract(location, string(body))
}

// extract runs readability over raw HTML.
func extract(location, html string) (research.Document, error) {
	article, err := readability.FromReader(strings.NewReader(html), parseURL(location))
	if err != nil {
		return research.Document{}, fmt.Errorf("failed to extract article: %w", err)
	}
	return research.Document{
		Location: location,
		Title:    strings.TrimSpace(article.Title),
		Content:  strings.TrimSpace(article.TextContent),
	}, nil
}

func parseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
