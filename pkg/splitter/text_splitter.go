package splitter

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/mikeboe/research-conductor/pkg/research"
)

// Chunk is one piece of a split document.
type Chunk struct {
	Document research.Document
	Index    int
	Text     string
}

// TextSplitter wraps the langchaingo text splitter
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

// NewRecursiveCharacterTextSplitter creates a new recursive character text splitter
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	return &TextSplitter{splitter: ts}
}

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	return ts.splitter.SplitText(text)
}

// SplitDocuments splits every document, keeping input order.
func (ts *TextSplitter) SplitDocuments(docs []research.Document) ([]Chunk, error) {
	var chunks []Chunk
	for _, doc := range docs {
		parts, err := ts.SplitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", doc.Location, err)
		}
		for i, part := range parts {
			chunks = append(chunks, Chunk{Document: doc, Index: i, Text: part})
		}
	}
	return chunks, nil
}
