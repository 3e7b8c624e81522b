package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"

	"github.com/mikeboe/research-conductor/pkg/research"
)

// MemoryIndex is an in-process research.VectorIndex ranked by bleve full-text scoring.
// It needs no database or embedding model, which makes it the default for
// the CLI.
type MemoryIndex struct {
	Splitter ChunkSplitter
	TopK     int

	index bleve.Index

	mu     sync.RWMutex
	chunks map[string]research.Document
}

func NewMemoryIndex(s ChunkSplitter) (*MemoryIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &MemoryIndex{
		Splitter: s,
		TopK:     DefaultTopK,
		index:    index,
		chunks:   make(map[string]research.Document),
	}, nil
}

func (m *MemoryIndex) Ingest(_ context.Context, docs []research.Document) error {
	chunks, err := m.Splitter.SplitDocuments(docs)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := m.index.NewBatch()
	m.mu.Lock()
	for _, c := range chunks {
		id := uuid.NewString()
		m.chunks[id] = research.Document{
			Location: c.Document.Location,
			Title:    c.Document.Title,
			Content:  c.Text,
			Metadata: chunkMetadata(c),
		}
		if err := batch.Index(id, map[string]any{"content": c.Text, "title": c.Document.Title}); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("failed to queue chunk: %w", err)
		}
	}
	m.mu.Unlock()

	if err := m.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// Query ranks chunks against query. Filter keys must match chunk metadata
// exactly; logical operators are not supported in memory.
func (m *MemoryIndex) Query(_ context.Context, query string, filter map[string]any) (research.Fragment, error) {
	for k := range filter {
		if strings.HasPrefix(k, "$") {
			return research.Fragment{}, fmt.Errorf("unsupported filter operator %q", k)
		}
	}

	k := topK(m.TopK)
	size := k * 3
	if len(filter) > 0 {
		count, err := m.index.DocCount()
		if err != nil {
			return research.Fragment{}, fmt.Errorf("failed to count documents: %w", err)
		}
		size = int(count)
	}
	if size == 0 {
		return research.Fragment{SubQuery: query}, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	res, err := m.index.Search(bleve.NewSearchRequestOptions(q, size, 0, false))
	if err != nil {
		return research.Fragment{}, fmt.Errorf("failed to search index: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []hit
	for _, h := range res.Hits {
		doc, ok := m.chunks[h.ID]
		if !ok || !matches(doc.Metadata, filter) {
			continue
		}
		hits = append(hits, hit{source: doc.Location, title: doc.Title, content: doc.Content})
		if len(hits) >= k {
			break
		}
	}
	return fragmentFromHits(query, hits), nil
}

func (m *MemoryIndex) Close() error {
	return m.index.Close()
}

func matches(meta, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
