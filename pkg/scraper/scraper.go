package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/mikeboe/research-conductor/pkg/research"
)

const (
	DefaultConcurrency = 5
	DefaultMaxChars    = 20000
)

// ErrEmptyContent is returned when a page yields no readable text.
var ErrEmptyContent = errors.New("no readable content")

// Scraper turns one location into a document.
type Scraper interface {
	Scrape(ctx context.Context, location string) (research.Document, error)
}

// Type names a page scraper implementation.
type Type string

const (
	HTTPType    Type = "http"
	BrowserType Type = "browser"
)

// Manager fans fetches out over a bounded number of workers and routes PDFs
// to a dedicated scraper. It implements research.Fetcher.
type Manager struct {
	Pages       Scraper
	PDF         Scraper
	Concurrency int
	MaxChars    int
	Logger      *slog.Logger
}

func NewManager(pages, pdf Scraper, concurrency, maxChars int) *Manager {
	return &Manager{
		Pages:       pages,
		PDF:         pdf,
		Concurrency: concurrency,
		MaxChars:    maxChars,
		Logger:      slog.Default(),
	}
}

// New builds the page scraper of the given type.
func New(t Type) (Scraper, error) {
	switch Type(strings.ToLower(string(t))) {
	case "", HTTPType:
		return NewHTTPScraper(), nil
	case BrowserType:
		return &BrowserScraper{}, nil
	default:
		return nil, fmt.Errorf("unsupported scraper type %q", t)
	}
}

// FetchMany fetches every location and returns the successes in input order.
// Failed and empty locations are logged and omitted.
func (m *Manager) FetchMany(ctx context.Context, locations []string) []research.Document {
	concurrency := m.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	docs := make([]research.Document, len(locations))
	ok := make([]bool, len(locations))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, concurrency)

	for i, loc := range locations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-semaphore }()

			doc, err := m.scrape(ctx, loc)
			if err != nil {
				logger.Warn("Failed to fetch source", "url", loc, "error", err)
				return
			}
			docs[i] = doc
			ok[i] = true
		}()
	}
	wg.Wait()

	out := make([]research.Document, 0, len(locations))
	for i := range docs {
		if ok[i] {
			out = append(out, docs[i])
		}
	}
	return out
}

func (m *Manager) scrape(ctx context.Context, loc string) (research.Document, error) {
	s := m.Pages
	if IsPDF(loc) && m.PDF != nil {
		s = m.PDF
	}
	if s == nil {
		return research.Document{}, fmt.Errorf("no scraper configured for %s", loc)
	}

	doc, err := s.Scrape(ctx, loc)
	if err != nil {
		return research.Document{}, err
	}
	doc.Content = strings.TrimSpace(doc.Content)
	if doc.Content == "" {
		return research.Document{}, ErrEmptyContent
	}
	maxChars := m.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	doc.Content = truncateRunes(doc.Content, maxChars)
	if doc.Location == "" {
		doc.Location = loc
	}
	return doc, nil
}

// IsPDF reports whether the location points at a PDF document.
func IsPDF(loc string) bool {
	u, err := url.Parse(loc)
	path := loc
	if err == nil {
		path = u.Path
		if u.Host == "arxiv.org" || strings.HasSuffix(u.Host, ".arxiv.org") {
			if strings.HasPrefix(path, "/pdf/") {
				return true
			}
		}
	}
	return strings.HasSuffix(strings.ToLower(path), ".pdf")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
