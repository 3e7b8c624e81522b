package contextfilter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mikeboe/research-conductor/pkg/embeddings"
	"github.com/mikeboe/research-conductor/pkg/research"
	"github.com/mikeboe/research-conductor/pkg/splitter"
)

const (
	DefaultThreshold = 0.35
	DefaultTopK      = 10
)

// ErrEmbeddingCount is returned when the embedder does not return exactly one
// vector per chunk.
var ErrEmbeddingCount = errors.New("embedder returned a mismatched number of vectors")

// Splitter breaks documents into chunks for scoring.
type Splitter interface {
	SplitDocuments(docs []research.Document) ([]splitter.Chunk, error)
}

// Compressor keeps the chunks of fetched documents that are semantically
// close to the sub-query. It implements research.ContextFilter.
type Compressor struct {
	Splitter  Splitter
	Embedder  embeddings.Embedder
	Threshold float64
	TopK      int
}

func NewCompressor(s Splitter, e embeddings.Embedder, threshold float64) *Compressor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Compressor{Splitter: s, Embedder: e, Threshold: threshold, TopK: DefaultTopK}
}

type scored struct {
	chunk splitter.Chunk
	score float64
}

func (c *Compressor) Filter(ctx context.Context, query string, docs []research.Document) (research.Fragment, error) {
	frag := research.Fragment{SubQuery: query}
	if len(docs) == 0 {
		return frag, nil
	}

	chunks, err := c.Splitter.SplitDocuments(docs)
	if err != nil {
		return frag, err
	}
	if len(chunks) == 0 {
		return frag, nil
	}

	queryVec, err := c.Embedder.EmbedText(ctx, query)
	if err != nil {
		return frag, fmt.Errorf("failed to embed query: %w", err)
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := c.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return frag, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return frag, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingCount, len(vecs), len(chunks))
	}

	var kept []scored
	for i, vec := range vecs {
		if s := Cosine(queryVec, vec); s >= c.Threshold {
			kept = append(kept, scored{chunk: chunks[i], score: s})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	topK := c.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(kept) > topK {
		kept = kept[:topK]
	}

	frag.Content = render(kept)
	seen := make(map[string]bool)
	for _, k := range kept {
		loc := k.chunk.Document.Location
		if !seen[loc] {
			seen[loc] = true
			frag.Sources = append(frag.Sources, loc)
		}
	}
	return frag, nil
}

func render(kept []scored) string {
	var blocks []string
	for _, k := range kept {
		doc := k.chunk.Document
		var sb strings.Builder
		fmt.Fprintf(&sb, "Source: %s\n", doc.Location)
		if doc.Title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", doc.Title)
		}
		fmt.Fprintf(&sb, "Content: %s\n", strings.TrimSpace(k.chunk.Text))
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n")
}

// Cosine returns the cosine similarity of a and b, or 0 when undefined.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
