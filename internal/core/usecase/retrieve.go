package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

const (
	maxConceptQueries    = 3
	maxSeededPasses      = 2
	conceptsPerSeedPass  = 2
	seedFromTopResults   = 3
	escalatedConceptsCap = 6
)

// runRetrieval fans out sub-searches for the selected strategy and joins them
// under the per-stage sub-timeout. Sub-search failures are recoverable: the
// stage proceeds with whatever completed and records the shortfall.
func (uc *PipelineUseCase) runRetrieval(ctx context.Context, state *domain.PipelineState) {
	analysis := state.QueryAnalysis
	if analysis == nil {
		fallback := domain.FallbackQueryAnalysis(state.Query)
		analysis = &fallback
	}

	strategy := analysis.Strategy
	concepts := capStrings(analysis.KeyConcepts, maxConceptQueries)

	var escalated []string
	if state.ReRetrievalCount > 0 {
		if strategy == domain.StrategyFocused {
			strategy = domain.StrategyBroad
		}
		concepts = expandConcepts(concepts, state.QualityReport)
		escalated = concepts
	}

	subCtx, cancel := context.WithTimeout(ctx, uc.limits.RetrievalSubTimeout)
	defer cancel()

	var found []domain.Candidate
	var failed int

	switch strategy {
	case domain.StrategyBroad:
		queries := append([]string{}, analysis.RewrittenQueries...)
		queries = append(queries, concepts...)
		found, failed = uc.fanOutSearch(subCtx, queries, state.MaxResults)
	case domain.StrategyMultiStage:
		found, failed = uc.multiStageSearch(subCtx, state.Query, escalated, state.MaxResults)
	default:
		found, failed = uc.fanOutSearch(subCtx, []string{state.Query}, state.MaxResults)
	}

	state.Metrics.FailedSubSearches += failed
	state.RetrievalResults = append(state.RetrievalResults, found...)
}

// fanOutSearch runs one sub-search per query concurrently and joins them.
// Results keep per-query submission order so downstream stages see a stable
// concatenation regardless of completion order.
func (uc *PipelineUseCase) fanOutSearch(ctx context.Context, queries []string, limit int) ([]domain.Candidate, int) {
	if len(queries) == 0 {
		return nil, 0
	}

	results := make([][]domain.Candidate, len(queries))
	var failed int32
	var wg sync.WaitGroup

	for i, query := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			found, err := uc.search.Search(ctx, query, limit)
			if err != nil {
				atomic.AddInt32(&failed, 1)
				return
			}
			results[i] = found
		}(i, query)
	}
	wg.Wait()

	out := make([]domain.Candidate, 0, limit*len(queries))
	for _, part := range results {
		out = append(out, part...)
	}
	return out, int(atomic.LoadInt32(&failed))
}

// multiStageSearch runs a first pass on the original query, then up to two
// further passes seeded by concepts extracted from the first pass's top
// results. Escalated concepts from a retry take seed slots first.
func (uc *PipelineUseCase) multiStageSearch(ctx context.Context, query string, escalated []string, limit int) ([]domain.Candidate, int) {
	found, failed := uc.fanOutSearch(ctx, []string{query}, limit)
	out := append([]domain.Candidate{}, found...)

	maxSeeds := maxSeededPasses * conceptsPerSeedPass
	seeds := append([]string{}, escalated...)
	seen := make(map[string]struct{}, len(seeds))
	for _, seed := range seeds {
		seen[strings.ToLower(seed)] = struct{}{}
	}
	for _, seed := range seedConceptsFromResults(found, query, maxSeeds) {
		if _, dup := seen[strings.ToLower(seed)]; dup {
			continue
		}
		seeds = append(seeds, seed)
	}
	if len(seeds) > maxSeeds {
		seeds = seeds[:maxSeeds]
	}
	for pass := 0; pass < maxSeededPasses && len(seeds) > 0; pass++ {
		take := conceptsPerSeedPass
		if take > len(seeds) {
			take = len(seeds)
		}
		passQueries := seeds[:take]
		seeds = seeds[take:]

		passFound, passFailed := uc.fanOutSearch(ctx, passQueries, limit)
		out = append(out, passFound...)
		failed += passFailed

		if ctx.Err() != nil {
			break
		}
	}
	return out, failed
}

// seedConceptsFromResults extracts frequent terms from the top results that
// do not already appear in the query.
func seedConceptsFromResults(results []domain.Candidate, query string, max int) []string {
	queryTokens := toTokenSet(query)
	counts := make(map[string]int)

	top := results
	if len(top) > seedFromTopResults {
		top = top[:seedFromTopResults]
	}
	for _, candidate := range top {
		for _, token := range splitAlphaNumLower(candidate.Content) {
			if len(token) < 4 {
				continue
			}
			if _, inQuery := queryTokens[token]; inQuery {
				continue
			}
			counts[token]++
		}
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > max {
		terms = terms[:max]
	}
	return terms
}

// expandConcepts widens the concept set with terms drawn from the prior
// quality gate's reported issues, for the escalated retry pass.
func expandConcepts(concepts []string, report *domain.QualityReport) []string {
	if report == nil {
		return concepts
	}

	seen := make(map[string]struct{}, len(concepts))
	out := append([]string{}, concepts...)
	for _, c := range concepts {
		seen[strings.ToLower(c)] = struct{}{}
	}

	for _, issue := range report.Issues {
		for _, token := range splitAlphaNumLower(issue) {
			if len(token) < 4 {
				continue
			}
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, token)
			if len(out) >= escalatedConceptsCap {
				return out
			}
		}
	}
	return out
}

func capStrings(values []string, max int) []string {
	if len(values) <= max {
		return append([]string{}, values...)
	}
	return append([]string{}, values[:max]...)
}
