package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/research-conductor/pkg/research"
)

// Provider names a supported search backend.
type Provider string

const (
	ArxivProvider  Provider = "arxiv"
	BraveProvider  Provider = "brave"
	SerperProvider Provider = "serper"
)

var ErrUnsupportedProvider = errors.New("unsupported retriever")

// Options carries credentials and transport settings shared by all retrievers.
type Options struct {
	BraveAPIKey  string
	SerperAPIKey string
	HTTPClient   *http.Client
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// New builds the retriever registered under name.
func New(name string, opts Options) (research.Retriever, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case ArxivProvider:
		return &Arxiv{Client: opts.client()}, nil
	case BraveProvider:
		if opts.BraveAPIKey == "" {
			return nil, fmt.Errorf("brave retriever requires BRAVE_API_KEY")
		}
		return &Brave{APIKey: opts.BraveAPIKey, Client: opts.client()}, nil
	case SerperProvider:
		if opts.SerperAPIKey == "" {
			return nil, fmt.Errorf("serper retriever requires SERPER_API_KEY")
		}
		return &Serper{APIKey: opts.SerperAPIKey, Client: opts.client()}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
}

// NewAll builds one retriever per name, in order.
func NewAll(names []string, opts Options) ([]research.Retriever, error) {
	var out []research.Retriever
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		r, err := New(name, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no retrievers configured")
	}
	return out, nil
}

// do executes req and returns the body of a 200 response.
func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned non-200 status code: %d, body: %s", resp.StatusCode, truncate(string(body), 512))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func limit(results []research.SearchResult, k int) []research.SearchResult {
	if k > 0 && len(results) > k {
		return results[:k]
	}
	return results
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 30*time.Second)
}
