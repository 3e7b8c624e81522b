package research

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// unit produces the fragment for a single sub-query.
type unit func(ctx context.Context, subQuery string) (Fragment, error)

// planResearch samples the first retriever for real-time context and asks the
// planner for sub-queries. It never touches the visited set.
func (r *run) planResearch(ctx context.Context, query string) ([]string, error) {
	e := r.engine
	r.emit(ctx, "planning_research", fmt.Sprintf("Browsing the web to learn more about the task: %s...", query), nil)

	var sample []SearchResult
	if len(e.Retrievers) > 0 {
		results, err := e.Retrievers[0].Search(ctx, query, e.Config.MaxSearchResultsPerQuery)
		switch {
		case err == nil:
			sample = results
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			r.logger.Warn("Preliminary search failed, planning without a sample",
				"retriever", e.Retrievers[0].Name(), "error", err)
		}
	}

	r.emit(ctx, "planning_research", "Planning the research strategy and subtasks...", nil)

	subQueries, err := e.Planner.Plan(ctx, PlanRequest{
		Query:         query,
		SearchResults: sample,
		Role:          r.sess.Role,
		ParentQuery:   r.sess.ParentQuery,
		ReportType:    r.sess.ReportType,
		MaxSubQueries: e.Config.MaxSubQueries,
		AddCost:       r.sess.AddCost,
	})
	if err != nil {
		return nil, Fatal(fmt.Errorf("planning failed: %w", err))
	}
	return subQueries, nil
}

// researchSubQueries is the shared plan -> fan-out -> merge pipeline. The
// original query is researched too unless this is a subtopic report.
func (r *run) researchSubQueries(ctx context.Context, query string, u unit) ([]Fragment, error) {
	subQueries, err := r.planResearch(ctx, query)
	if err != nil {
		return nil, err
	}
	if r.sess.ReportType != SubtopicReport {
		subQueries = append(subQueries, query)
	}

	r.emit(ctx, "subqueries",
		fmt.Sprintf("I will conduct my research based on the following queries: %v...", subQueries), subQueries)
	r.logger.Info("Generated sub-queries", "queries", subQueries)

	return r.processSubQueries(ctx, subQueries, u)
}

// processSubQueries runs u for every sub-query concurrently. out[i] always
// belongs to subQueries[i]. A failing unit degrades to an empty fragment unless
// its error is fatal, in which case the remaining units are cancelled.
func (r *run) processSubQueries(ctx context.Context, subQueries []string, u unit) ([]Fragment, error) {
	out := make([]Fragment, len(subQueries))
	g, gctx := errgroup.WithContext(ctx)

	for i, sq := range subQueries {
		g.Go(func() error {
			start := time.Now()
			frag, err := u(gctx, sq)
			subQueryDuration.Observe(time.Since(start).Seconds())

			if err != nil {
				subQueriesTotal.WithLabelValues("failed").Inc()
				if IsFatal(err) {
					return fmt.Errorf("sub-query %q: %w", sq, err)
				}
				r.logger.Warn("Sub-query failed, continuing without its context", "sub_query", sq, "error", err)
				frag = Fragment{}
			}
			frag.SubQuery = sq
			out[i] = frag

			if frag.Empty() {
				if err == nil {
					subQueriesTotal.WithLabelValues("empty").Inc()
				}
				r.emit(gctx, "subquery_context_not_found", fmt.Sprintf("No content found for '%s'...", sq), nil)
				return nil
			}
			subQueriesTotal.WithLabelValues("content").Inc()
			r.emit(gctx, "subquery_context_window", frag.Content, nil)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// webUnit retrieves, de-duplicates and fetches fresh sources for the sub-query.
func (r *run) webUnit(ctx context.Context, subQuery string) (Fragment, error) {
	r.emit(ctx, "running_subquery_research", fmt.Sprintf("Running research for '%s'...", subQuery), nil)

	docs, err := r.scrapeDataByURLs(ctx, subQuery)
	if err != nil {
		return Fragment{}, err
	}
	return r.filter(ctx, subQuery, docs)
}

// preloadedUnit filters documents that were acquired up front.
func (r *run) preloadedUnit(docs []Document) unit {
	return func(ctx context.Context, subQuery string) (Fragment, error) {
		r.emit(ctx, "running_subquery_research", fmt.Sprintf("Running research for '%s'...", subQuery), nil)
		return r.filter(ctx, subQuery, docs)
	}
}

// indexUnit answers the sub-query from the vector index alone.
func (r *run) indexUnit(filter map[string]any) unit {
	return func(ctx context.Context, subQuery string) (Fragment, error) {
		r.emit(ctx, "running_subquery_with_vectorstore_research",
			fmt.Sprintf("Running research for '%s'...", subQuery), nil)
		return r.engine.Index.Query(ctx, subQuery, filter)
	}
}

func (r *run) filter(ctx context.Context, subQuery string, docs []Document) (Fragment, error) {
	if len(docs) == 0 {
		return Fragment{SubQuery: subQuery}, nil
	}
	return r.engine.Filter.Filter(ctx, subQuery, docs)
}

// contextByURLs fetches caller-supplied locations and filters them against the
// session query.
func (r *run) contextByURLs(ctx context.Context, urls []string) (Fragment, error) {
	fresh, err := r.newURLs(ctx, urls)
	if err != nil {
		return Fragment{}, err
	}
	r.emit(ctx, "source_urls", fmt.Sprintf("Scraping content from the following urls: %v...", fresh), fresh)

	docs := r.engine.Fetcher.FetchMany(ctx, fresh)
	r.ingestAsync(ctx, docs)

	frag, err := r.filter(ctx, r.sess.Query, docs)
	if err != nil {
		if IsFatal(err) {
			return Fragment{}, err
		}
		r.logger.Warn("Filtering supplied sources failed", "error", err)
		return Fragment{SubQuery: r.sess.Query}, nil
	}
	frag.SubQuery = r.sess.Query
	return frag, nil
}

func (r *run) scrapeDataByURLs(ctx context.Context, subQuery string) ([]Document, error) {
	urls, err := r.searchRelevantSourceURLs(ctx, subQuery)
	if err != nil {
		return nil, err
	}

	r.emit(ctx, "researching", "Researching for relevant information across multiple sources...", nil)

	docs := r.engine.Fetcher.FetchMany(ctx, urls)
	r.ingestAsync(ctx, docs)
	return docs, nil
}

// searchRelevantSourceURLs queries every retriever, admits the locations this
// session has not seen yet and shuffles them.
func (r *run) searchRelevantSourceURLs(ctx context.Context, subQuery string) ([]string, error) {
	retrievers := r.engine.Retrievers
	perRetriever := make([][]SearchResult, len(retrievers))

	var wg sync.WaitGroup
	for i, ret := range retrievers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := ret.Search(ctx, subQuery, r.engine.Config.MaxSearchResultsPerQuery)
			if err != nil {
				r.logger.Warn("Retriever search failed", "retriever", ret.Name(), "sub_query", subQuery, "error", err)
				return
			}
			perRetriever[i] = results
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []string
	for _, results := range perRetriever {
		for _, res := range results {
			candidates = append(candidates, res.URL)
		}
	}

	fresh, err := r.newURLs(ctx, candidates)
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(fresh), func(i, j int) { fresh[i], fresh[j] = fresh[j], fresh[i] })
	return fresh, nil
}

// newURLs claims candidates in the session's visited set. Only the winners of
// the claim are returned; a failing visited set aborts the session.
func (r *run) newURLs(ctx context.Context, candidates []string) ([]string, error) {
	fresh, err := r.sess.Visited.Claim(ctx, candidates)
	if err != nil {
		return nil, Fatal(fmt.Errorf("failed to claim source locations: %w", err))
	}

	locationsAdmitted.Add(float64(len(fresh)))
	if dup := countNonEmpty(candidates) - len(fresh); dup > 0 {
		locationsDuplicate.Add(float64(dup))
	}
	for _, u := range fresh {
		r.emit(ctx, "added_source_url", fmt.Sprintf("Added source url to research: %s", u), u)
	}
	return fresh, nil
}

func countNonEmpty(ss []string) int {
	n := 0
	for _, s := range ss {
		if s != "" {
			n++
		}
	}
	return n
}
