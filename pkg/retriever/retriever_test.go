package retriever

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <title>Attention Is
      All You Need</title>
    <summary>  The dominant sequence transduction models...  </summary>
    <published>2017-06-12T17:57:34Z</published>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/1810.04805v2</id>
    <title>BERT</title>
    <summary>We introduce a new language representation model.</summary>
    <published>2018-10-11T00:50:01Z</published>
  </entry>
</feed>`

func TestArxivSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		assert.Equal(t, "2", r.URL.Query().Get("max_results"))
		_, _ = w.Write([]byte(arxivFeed))
	}))
	defer srv.Close()

	a := &Arxiv{Client: srv.Client(), Endpoint: srv.URL}
	results, err := a.Search(context.Background(), "transformers", 2)
	require.NoError(t, err)

	assert.Equal(t, "all:transformers", gotQuery)
	require.Len(t, results, 2)
	assert.Equal(t, "Attention Is All You Need", results[0].Title)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", results[0].URL)
	assert.Equal(t, "The dominant sequence transduction models...", results[0].Snippet)
	assert.Equal(t, "http://arxiv.org/abs/1810.04805v2", results[1].URL, "entries without a pdf link fall back to the id")
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "golang generics", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{"results": []map[string]string{
				{"title": "Generics", "url": "https://go.dev/doc/tutorial/generics", "description": "Tutorial"},
				{"title": "No URL"},
				{"title": "Spec", "url": "https://go.dev/ref/spec", "description": "Spec"},
				{"title": "Blog", "url": "https://go.dev/blog/intro-generics", "description": "Blog"},
			}},
		})
	}))
	defer srv.Close()

	b := &Brave{APIKey: "secret", Client: srv.Client(), Endpoint: srv.URL}
	results, err := b.Search(context.Background(), "golang generics", 2)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "https://go.dev/doc/tutorial/generics", results[0].URL)
	assert.Equal(t, "https://go.dev/ref/spec", results[1].URL)
}

func TestSerperSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "capital of France", body["q"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{
				{"title": "Paris", "link": "https://en.wikipedia.org/wiki/Paris", "snippet": "Capital of France"},
			},
		})
	}))
	defer srv.Close()

	s := &Serper{APIKey: "key", Client: srv.Client(), Endpoint: srv.URL}
	results, err := s.Search(context.Background(), "capital of France", 5)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "Paris", results[0].Title)
	assert.Equal(t, "Capital of France", results[0].Snippet)
}

func TestSearchNoResultsIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := &Serper{APIKey: "key", Client: srv.Client(), Endpoint: srv.URL}
	results, err := s.Search(context.Background(), "nothing", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := &Brave{APIKey: "k", Client: srv.Client(), Endpoint: srv.URL}
	_, err := b.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		opts     Options
		wantName string
		wantErr  bool
	}{
		{"arxiv", "arxiv", Options{}, "arxiv", false},
		{"case insensitive", " Brave ", Options{BraveAPIKey: "k"}, "brave", false},
		{"serper", "serper", Options{SerperAPIKey: "k"}, "serper", false},
		{"brave without key", "brave", Options{}, "", true},
		{"unknown", "altavista", Options{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.provider, tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, r.Name())
		})
	}
}

func TestNewAll(t *testing.T) {
	rs, err := NewAll([]string{"serper", "", "arxiv"}, Options{SerperAPIKey: "k"})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "serper", rs[0].Name())
	assert.Equal(t, "arxiv", rs[1].Name())

	_, err = NewAll(nil, Options{})
	require.Error(t, err)

	_, err = NewAll([]string{"bing"}, Options{})
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}
