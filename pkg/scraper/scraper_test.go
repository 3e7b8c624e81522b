package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mikeboe/research-conductor/pkg/research"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubScraper struct {
	pages    map[string]string
	delay    map[string]time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubScraper) Scrape(ctx context.Context, loc string) (research.Document, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if d := s.delay[loc]; d > 0 {
		time.Sleep(d)
	}
	content, ok := s.pages[loc]
	if !ok {
		return research.Document{}, errors.New("not found")
	}
	return research.Document{Content: content}, nil
}

func TestManagerFetchMany(t *testing.T) {
	pages := &stubScraper{
		pages: map[string]string{"a": "alpha", "c": "  ", "d": "delta"},
		delay: map[string]time.Duration{"a": 30 * time.Millisecond},
	}
	pdf := &stubScraper{pages: map[string]string{"https://x.org/paper.pdf": "ocr text"}}
	m := NewManager(pages, pdf, 2, 0)

	docs := m.FetchMany(context.Background(), []string{"a", "b", "c", "https://x.org/paper.pdf", "d"})

	var locs, contents []string
	for _, d := range docs {
		locs = append(locs, d.Location)
		contents = append(contents, d.Content)
	}
	assert.Equal(t, []string{"a", "https://x.org/paper.pdf", "d"}, locs)
	assert.Equal(t, []string{"alpha", "ocr text", "delta"}, contents)
	assert.LessOrEqual(t, pages.peak.Load(), int32(2))
}

func TestManagerTruncates(t *testing.T) {
	pages := &stubScraper{pages: map[string]string{"a": strings.Repeat("é", 50)}}
	m := NewManager(pages, nil, 1, 10)

	docs := m.FetchMany(context.Background(), []string{"a"})
	require.Len(t, docs, 1)
	assert.Equal(t, strings.Repeat("é", 10), docs[0].Content)
}

func TestIsPDF(t *testing.T) {
	tests := []struct {
		loc  string
		want bool
	}{
		{"https://example.com/report.PDF", true},
		{"https://example.com/report.pdf?dl=1", true},
		{"http://arxiv.org/pdf/1706.03762v7", true},
		{"https://example.com/pdf/guide.html", false},
		{"https://example.com/", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPDF(tt.loc), tt.loc)
	}
}

func TestHTTPScraper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Paris</title></head><body>
<nav>Home | About</nav>
<article><h1>Paris</h1>
<p>Paris is the capital and most populous city of France. It has been one of the
world's major centres of finance, diplomacy, commerce, culture, fashion and gastronomy
for centuries. The city is known for its museums and architectural landmarks.</p>
<p>The Louvre received millions of visitors, making it the most visited art museum in
the world. Notable landmarks include the Eiffel Tower and the Arc de Triomphe.</p>
</article></body></html>`))
	}))
	defer srv.Close()

	s := &HTTPScraper{Client: srv.Client()}
	doc, err := s.Scrape(context.Background(), srv.URL+"/paris")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/paris", doc.Location)
	assert.Contains(t, doc.Content, "capital and most populous city of France")

	_, err = s.Scrape(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
}

func TestPDFScraper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var body struct {
			Document struct {
				URL string `json:"document_url"`
			} `json:"document"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://arxiv.org/pdf/1", body.Document.URL)
		_ = json.NewEncoder(w).Encode(ocrResponse{Pages: []ocrPage{
			{Index: 0, Markdown: "# Title"}, {Index: 1, Markdown: "Body"},
		}})
	}))
	defer srv.Close()

	s := &PDFScraper{APIKey: "k", Client: srv.Client(), Endpoint: srv.URL}
	doc, err := s.Scrape(context.Background(), "http://arxiv.org/pdf/1")
	require.NoError(t, err)
	assert.Equal(t, "http://arxiv.org/pdf/1", doc.Location)
	assert.Contains(t, doc.Content, "- Page 0 -\n# Title")
	assert.Contains(t, doc.Content, "- Page 1 -\nBody")
	assert.Equal(t, 2, doc.Metadata["pages"])

	_, err = (&PDFScraper{}).Scrape(context.Background(), "x.pdf")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &HTTPScraper{}, s)

	s, err = New(BrowserType)
	require.NoError(t, err)
	assert.IsType(t, &BrowserScraper{}, s)

	_, err = New("curl")
	require.Error(t, err)
}
