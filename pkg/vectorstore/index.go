package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikeboe/research-conductor/pkg/embeddings"
	"github.com/mikeboe/research-conductor/pkg/research"
	"github.com/mikeboe/research-conductor/pkg/splitter"
)

// DefaultTopK is the number of chunks an index returns per sub-query.
const DefaultTopK = 8

// Store is the subset of PGVectorStore the index needs.
type Store interface {
	AddDocuments(ctx context.Context, docs []Document) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filter map[string]any) ([]SimilaritySearchResult, error)
}

// ChunkSplitter breaks documents into indexable chunks.
type ChunkSplitter interface {
	SplitDocuments(docs []research.Document) ([]splitter.Chunk, error)
}

// PGIndex is a research.VectorIndex backed by a pgvector collection.
type PGIndex struct {
	Store    Store
	Splitter ChunkSplitter
	Embedder embeddings.Embedder
	TopK     int
}

func NewPGIndex(store Store, s ChunkSplitter, e embeddings.Embedder) *PGIndex {
	return &PGIndex{Store: store, Splitter: s, Embedder: e, TopK: DefaultTopK}
}

func (ix *PGIndex) Ingest(ctx context.Context, docs []research.Document) error {
	chunks, err := ix.Splitter.SplitDocuments(docs)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := ix.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}

	rows := make([]Document, len(chunks))
	for i, c := range chunks {
		rows[i] = Document{
			Content:   c.Text,
			Metadata:  chunkMetadata(c),
			Embedding: vecs[i],
		}
	}
	if err := ix.Store.AddDocuments(ctx, rows); err != nil {
		return fmt.Errorf("failed to add documents to vector store: %w", err)
	}
	return nil
}

func (ix *PGIndex) Query(ctx context.Context, query string, filter map[string]any) (research.Fragment, error) {
	vec, err := ix.Embedder.EmbedText(ctx, query)
	if err != nil {
		return research.Fragment{}, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	results, err := ix.Store.SimilaritySearch(ctx, vec, topK(ix.TopK), filter)
	if err != nil {
		return research.Fragment{}, err
	}

	hits := make([]hit, len(results))
	for i, r := range results {
		hits[i] = hitFromMetadata(r.Document.Content, r.Document.Metadata)
	}
	return fragmentFromHits(query, hits), nil
}

// chunkMetadata carries the document's own metadata plus its location under
// "source", which is what filters and find_content_by_source match on.
func chunkMetadata(c splitter.Chunk) map[string]any {
	meta := make(map[string]any, len(c.Document.Metadata)+3)
	for k, v := range c.Document.Metadata {
		meta[k] = v
	}
	meta["source"] = c.Document.Location
	if c.Document.Title != "" {
		meta["title"] = c.Document.Title
	}
	meta["chunk"] = c.Index
	return meta
}

type hit struct {
	source  string
	title   string
	content string
}

func hitFromMetadata(content string, meta map[string]any) hit {
	h := hit{content: content}
	h.source, _ = meta["source"].(string)
	h.title, _ = meta["title"].(string)
	return h
}

func fragmentFromHits(query string, hits []hit) research.Fragment {
	frag := research.Fragment{SubQuery: query}
	seen := make(map[string]bool)
	var blocks []string
	for _, h := range hits {
		if strings.TrimSpace(h.content) == "" {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Source: %s\n", h.source)
		if h.title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", h.title)
		}
		fmt.Fprintf(&sb, "Content: %s\n", strings.TrimSpace(h.content))
		blocks = append(blocks, sb.String())

		if h.source != "" && !seen[h.source] {
			seen[h.source] = true
			frag.Sources = append(frag.Sources, h.source)
		}
	}
	frag.Content = strings.Join(blocks, "\n")
	return frag
}

func topK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}
