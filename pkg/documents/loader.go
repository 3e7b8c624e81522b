package documents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"

	"github.com/mikeboe/research-conductor/pkg/research"
)

// ErrNoDocuments is returned when a directory holds no loadable files.
var ErrNoDocuments = errors.New("no loadable documents found")

// DirLoader loads every supported file under a directory tree. It implements
// research.DocumentLoader.
type DirLoader struct {
	Logger *slog.Logger
}

func NewDirLoader() *DirLoader {
	return &DirLoader{Logger: slog.Default()}
}

// Load walks path and returns one document per supported file. Files that
// cannot be parsed are skipped with a warning; a missing path is an error.
func (l *DirLoader) Load(ctx context.Context, path string) ([]research.Document, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("document path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document path: %w", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && Supported(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	} else {
		files = []string{path}
	}

	var docs []research.Document
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := LoadFile(ctx, f)
		if err != nil {
			logger.Warn("Skipping unreadable document", "path", f, "error", err)
			continue
		}
		docs = append(docs, loaded...)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, path)
	}
	return docs, nil
}

// Supported reports whether LoadFile understands the file's extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", ".html", ".htm", ".csv", ".pdf":
		return true
	}
	return false
}

// LoadFile parses a single file with the matching langchaingo loader.
func LoadFile(ctx context.Context, path string) ([]research.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var loader documentloaders.Loader
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md", ".markdown":
		loader = documentloaders.NewText(f)
	case ".html", ".htm":
		loader = documentloaders.NewHTML(f)
	case ".csv":
		loader = documentloaders.NewCSV(f)
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		loader = documentloaders.NewPDF(f, info.Size())
	default:
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}

	parts, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return mergeParts(path, parts), nil
}

// mergeParts joins the per-page or per-row output of a loader into a single
// document located at path.
func mergeParts(path string, parts []schema.Document) []research.Document {
	var texts []string
	meta := map[string]any{"type": strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")}
	for _, p := range parts {
		if strings.TrimSpace(p.PageContent) != "" {
			texts = append(texts, p.PageContent)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	if len(parts) > 1 {
		meta["parts"] = len(parts)
	}
	return []research.Document{{
		Location: path,
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Content:  strings.Join(texts, "\n\n"),
		Metadata: meta,
	}}
}

// FromSchema converts documents produced by langchaingo loaders or stores.
// The location comes from the "source" metadata key, falling back to a
// positional name.
func FromSchema(docs []schema.Document) []research.Document {
	out := make([]research.Document, 0, len(docs))
	for i, d := range docs {
		loc, _ := d.Metadata["source"].(string)
		if loc == "" {
			loc = fmt.Sprintf("document-%d", i+1)
		}
		title, _ := d.Metadata["title"].(string)
		out = append(out, research.Document{
			Location: loc,
			Title:    title,
			Content:  d.PageContent,
			Metadata: d.Metadata,
		})
	}
	return out
}

// Supplied is the wire form of a caller-provided document, as accepted by
// the HTTP API, the MCP tool and the CLI.
type Supplied struct {
	PageContent string         `json:"page_content" jsonschema:"document text"`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"document metadata; source names its location"`
}

// FromSupplied converts caller-provided documents through FromSchema.
func FromSupplied(in []Supplied) []research.Document {
	docs := make([]schema.Document, len(in))
	for i, s := range in {
		docs[i] = schema.Document{PageContent: s.PageContent, Metadata: s.Metadata}
	}
	return FromSchema(docs)
}
