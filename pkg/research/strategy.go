package research

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// strategy is one way of acquiring research context. Exactly one is resolved
// per ConductResearch call.
type strategy interface {
	name() string
	run(ctx context.Context, r *run) (MergedContext, error)
}

type urlStrategy struct {
	urls       []string
	complement bool
}

type localStrategy struct {
	docPath string
}

type hybridStrategy struct {
	docPath string
}

type documentsStrategy struct {
	docs []Document
}

type vectorStoreStrategy struct {
	filter map[string]any
}

type webStrategy struct{}

func (urlStrategy) name() string         { return "urls" }
func (localStrategy) name() string       { return string(SourceLocal) }
func (hybridStrategy) name() string      { return string(SourceHybrid) }
func (documentsStrategy) name() string   { return string(SourceLangChainDocuments) }
func (vectorStoreStrategy) name() string { return string(SourceLangChainVectorStore) }
func (webStrategy) name() string         { return string(SourceWeb) }

// resolveStrategy picks the acquisition strategy for sess and checks that the
// collaborators it needs are configured. Caller-supplied URLs win over the
// configured report source.
func (e *Engine) resolveStrategy(sess *Session) (strategy, error) {
	var s strategy
	if len(sess.SourceURLs) > 0 {
		s = urlStrategy{urls: sess.SourceURLs, complement: sess.ComplementSourceURLs}
	} else {
		src := sess.ReportSource
		if src == "" {
			src = SourceWeb
		}
		switch src {
		case SourceWeb:
			s = webStrategy{}
		case SourceLocal:
			s = localStrategy{docPath: sess.DocPath}
		case SourceHybrid:
			s = hybridStrategy{docPath: sess.DocPath}
		case SourceLangChainDocuments:
			s = documentsStrategy{docs: sess.Documents}
		case SourceLangChainVectorStore:
			s = vectorStoreStrategy{filter: sess.VectorStoreFilter}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownReportSource, src)
		}
	}
	if err := e.checkCollaborators(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) checkCollaborators(s strategy) error {
	missing := func(what string) error {
		return fmt.Errorf("%w: %s strategy requires a %s", ErrMissingCollaborator, s.name(), what)
	}
	needWeb := func() error {
		if len(e.Retrievers) == 0 {
			return missing("retriever")
		}
		if e.Fetcher == nil {
			return missing("fetcher")
		}
		return nil
	}

	if e.Planner == nil {
		if us, ok := s.(urlStrategy); !ok || us.complement {
			return missing("query planner")
		}
	}

	switch st := s.(type) {
	case urlStrategy:
		if e.Fetcher == nil {
			return missing("fetcher")
		}
		if e.Filter == nil {
			return missing("context filter")
		}
		if st.complement {
			return needWeb()
		}
	case webStrategy:
		if e.Filter == nil {
			return missing("context filter")
		}
		return needWeb()
	case localStrategy, hybridStrategy:
		if e.Loader == nil {
			return missing("document loader")
		}
		if e.Filter == nil {
			return missing("context filter")
		}
		if _, ok := st.(hybridStrategy); ok {
			return needWeb()
		}
	case documentsStrategy:
		if len(st.docs) == 0 {
			return fmt.Errorf("%w: %s strategy needs at least one document", ErrNoDocuments, s.name())
		}
		if e.Filter == nil {
			return missing("context filter")
		}
	case vectorStoreStrategy:
		if e.Index == nil {
			return missing("vector index")
		}
	}
	return nil
}

func (s urlStrategy) run(ctx context.Context, r *run) (MergedContext, error) {
	frag, err := r.contextByURLs(ctx, s.urls)
	if err != nil {
		return MergedContext{}, err
	}

	var fragments []Fragment
	if frag.Empty() {
		r.emit(ctx, "answering_from_memory",
			"I was unable to find relevant context in the provided sources...", nil)
	} else {
		fragments = append(fragments, frag)
	}

	if s.complement {
		web, err := r.researchSubQueries(ctx, r.sess.Query, r.webUnit)
		if err != nil {
			return MergedContext{}, err
		}
		fragments = append(fragments, web...)
	}
	return NewMergedContext(fragments), nil
}

func (s localStrategy) run(ctx context.Context, r *run) (MergedContext, error) {
	docs, err := r.loadDocuments(ctx, s.docPath)
	if err != nil {
		return MergedContext{}, err
	}
	fragments, err := r.researchSubQueries(ctx, r.sess.Query, r.preloadedUnit(docs))
	if err != nil {
		return MergedContext{}, err
	}
	return NewMergedContext(fragments), nil
}

// run executes the local and web pipelines side by side and keeps their output
// in separate labeled blocks.
func (s hybridStrategy) run(ctx context.Context, r *run) (MergedContext, error) {
	docs, err := r.loadDocuments(ctx, s.docPath)
	if err != nil {
		return MergedContext{}, err
	}

	var local, web []Fragment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = r.researchSubQueries(gctx, r.sess.Query, r.preloadedUnit(docs))
		return err
	})
	g.Go(func() error {
		var err error
		web, err = r.researchSubQueries(gctx, r.sess.Query, r.webUnit)
		return err
	})
	if err := g.Wait(); err != nil {
		return MergedContext{}, err
	}

	return MergedContext{Blocks: []Block{
		{Label: BlockLocal, Fragments: local},
		{Label: BlockWeb, Fragments: web},
	}}, nil
}

func (s documentsStrategy) run(ctx context.Context, r *run) (MergedContext, error) {
	r.ingestAsync(ctx, s.docs)
	fragments, err := r.researchSubQueries(ctx, r.sess.Query, r.preloadedUnit(s.docs))
	if err != nil {
		return MergedContext{}, err
	}
	return NewMergedContext(fragments), nil
}

func (s vectorStoreStrategy) run(ctx context.Context, r *run) (MergedContext, error) {
	fragments, err := r.researchSubQueries(ctx, r.sess.Query, r.indexUnit(s.filter))
	if err != nil {
		return MergedContext{}, err
	}
	return NewMergedContext(fragments), nil
}

func (s webStrategy) run(ctx context.Context, r *run) (MergedContext, error) {
	fragments, err := r.researchSubQueries(ctx, r.sess.Query, r.webUnit)
	if err != nil {
		return MergedContext{}, err
	}
	return NewMergedContext(fragments), nil
}

// loadDocuments reads the local document set once and hands it to the index.
func (r *run) loadDocuments(ctx context.Context, path string) ([]Document, error) {
	docs, err := r.engine.Loader.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load local documents from %q: %w", path, err)
	}
	r.logger.Info("Loaded local documents", "path", path, "count", len(docs))
	r.ingestAsync(ctx, docs)
	return docs, nil
}
