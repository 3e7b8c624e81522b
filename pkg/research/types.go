package research

import (
	"fmt"
	"strings"
	"time"
)

// ReportSource selects where research context is acquired from.
type ReportSource string

const (
	SourceWeb                  ReportSource = "web"
	SourceLocal                ReportSource = "local"
	SourceHybrid               ReportSource = "hybrid"
	SourceLangChainDocuments   ReportSource = "langchain_documents"
	SourceLangChainVectorStore ReportSource = "langchain_vectorstore"
)

// ParseReportSource maps a configured string onto a known ReportSource.
// An empty string means web.
func ParseReportSource(s string) (ReportSource, error) {
	switch src := ReportSource(strings.ToLower(strings.TrimSpace(s))); src {
	case "":
		return SourceWeb, nil
	case SourceWeb, SourceLocal, SourceHybrid, SourceLangChainDocuments, SourceLangChainVectorStore:
		return src, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownReportSource, s)
	}
}

const (
	ResearchReport = "research_report"
	DetailedReport = "detailed_report"
	SubtopicReport = "subtopic_report"
	ResourceReport = "resource_report"
	OutlineReport  = "outline_report"
	CustomReport   = "custom_report"
)

// Config holds runtime configuration for the engine
type Config struct {
	MaxSubQueries            int
	MaxSearchResultsPerQuery int
	CurateSources            bool
	Verbose                  bool

	// SessionTimeout bounds a whole ConductResearch call. Zero disables it.
	SessionTimeout time.Duration

	// IngestTimeout bounds each background index ingestion. Ingestion is not
	// covered by SessionTimeout.
	IngestTimeout time.Duration
}

// SearchResult represents a single search result
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Document is a piece of fetched or loaded content keyed by its location.
type Document struct {
	Location string         `json:"location"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Fragment is the relevance-filtered content produced for one sub-query.
// An empty Content means nothing relevant was found.
type Fragment struct {
	SubQuery string   `json:"sub_query"`
	Content  string   `json:"content"`
	Sources  []string `json:"sources,omitempty"`
}

func (f Fragment) Empty() bool { return strings.TrimSpace(f.Content) == "" }

const (
	BlockLocal = "local"
	BlockWeb   = "web"
)

// Block is an ordered run of fragments sharing an origin label.
type Block struct {
	Label     string     `json:"label,omitempty"`
	Fragments []Fragment `json:"fragments"`
}

// MergedContext is the ordered research context for a session.
type MergedContext struct {
	Blocks []Block `json:"blocks"`
}

// NewMergedContext wraps fragments in a single unlabeled block.
func NewMergedContext(fragments []Fragment) MergedContext {
	return MergedContext{Blocks: []Block{{Fragments: fragments}}}
}

// Fragments flattens all blocks preserving order.
func (m MergedContext) Fragments() []Fragment {
	var out []Fragment
	for _, b := range m.Blocks {
		out = append(out, b.Fragments...)
	}
	return out
}

// Block returns the block with the given label.
func (m MergedContext) Block(label string) (Block, bool) {
	for _, b := range m.Blocks {
		if b.Label == label {
			return b, true
		}
	}
	return Block{}, false
}

// Sources returns every location referenced by the context, in first-seen order.
func (m MergedContext) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range m.Fragments() {
		for _, s := range f.Sources {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// IsEmpty reports whether no fragment carries content.
func (m MergedContext) IsEmpty() bool {
	for _, f := range m.Fragments() {
		if !f.Empty() {
			return false
		}
	}
	return true
}

// String renders the context as text for the report writer. Labeled blocks are
// kept in separate sections.
func (m MergedContext) String() string {
	var sb strings.Builder
	for i, b := range m.Blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		var parts []string
		for _, f := range b.Fragments {
			if !f.Empty() {
				parts = append(parts, f.Content)
			}
		}
		body := strings.Join(parts, "\n\n")
		switch b.Label {
		case BlockLocal:
			sb.WriteString("Context from local documents: " + body)
		case BlockWeb:
			sb.WriteString("Context from web sources: " + body)
		default:
			sb.WriteString(body)
		}
	}
	return sb.String()
}
