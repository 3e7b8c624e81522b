package vectorstore

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/mikeboe/research-conductor/pkg/research"
)

// LangChainIndex adapts any langchaingo vector store to research.VectorIndex,
// so sessions can answer from a store the caller already populated.
type LangChainIndex struct {
	Store          vectorstores.VectorStore
	TopK           int
	ScoreThreshold float32
}

func (l *LangChainIndex) Ingest(ctx context.Context, docs []research.Document) error {
	if len(docs) == 0 {
		return nil
	}
	out := make([]schema.Document, len(docs))
	for i, d := range docs {
		meta := make(map[string]any, len(d.Metadata)+2)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta["source"] = d.Location
		if d.Title != "" {
			meta["title"] = d.Title
		}
		out[i] = schema.Document{PageContent: d.Content, Metadata: meta}
	}
	if _, err := l.Store.AddDocuments(ctx, out); err != nil {
		return fmt.Errorf("failed to add documents to vector store: %w", err)
	}
	return nil
}

func (l *LangChainIndex) Query(ctx context.Context, query string, filter map[string]any) (research.Fragment, error) {
	var opts []vectorstores.Option
	if len(filter) > 0 {
		opts = append(opts, vectorstores.WithFilters(filter))
	}
	if l.ScoreThreshold > 0 {
		opts = append(opts, vectorstores.WithScoreThreshold(l.ScoreThreshold))
	}

	docs, err := l.Store.SimilaritySearch(ctx, query, topK(l.TopK), opts...)
	if err != nil {
		return research.Fragment{}, fmt.Errorf("vector store search failed: %w", err)
	}

	hits := make([]hit, len(docs))
	for i, d := range docs {
		hits[i] = hitFromMetadata(d.PageContent, d.Metadata)
	}
	return fragmentFromHits(query, hits), nil
}
