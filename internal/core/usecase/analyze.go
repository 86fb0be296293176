package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// runQueryAnalysis asks the reasoning collaborator to understand the query.
// Analysis failure is never fatal: any error, including a schema violation,
// substitutes the safe default and records the substitution.
func (uc *PipelineUseCase) runQueryAnalysis(ctx context.Context, state *domain.PipelineState) {
	analysis, err := uc.analyzer.AnalyzeQuery(ctx, state.Query)
	if err != nil {
		slog.Warn("query_analysis_fallback", "run_id", state.RunID, "error", err)
		analysis = domain.FallbackQueryAnalysis(state.Query)
		state.Metrics.AnalysisFallback = true
	} else {
		analysis = sanitizeAnalysis(state.Query, analysis)
	}
	state.QueryAnalysis = &analysis
}

func sanitizeAnalysis(query string, analysis domain.QueryAnalysis) domain.QueryAnalysis {
	out := analysis
	if !domain.ValidIntent(out.Intent) {
		out.Intent = domain.IntentFactual
	}
	if !domain.ValidStrategy(out.Strategy) {
		out.Strategy = domain.StrategyFocused
	}
	if out.Complexity < 0 {
		out.Complexity = 0
	}
	if out.Complexity > 1 {
		out.Complexity = 1
	}

	rewritten := make([]string, 0, len(out.RewrittenQueries))
	for _, q := range out.RewrittenQueries {
		q = strings.TrimSpace(q)
		if q != "" {
			rewritten = append(rewritten, q)
		}
	}
	if len(rewritten) == 0 {
		rewritten = []string{query}
	}
	out.RewrittenQueries = rewritten

	concepts := make([]string, 0, len(out.KeyConcepts))
	seen := make(map[string]struct{}, len(out.KeyConcepts))
	for _, c := range out.KeyConcepts {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		concepts = append(concepts, c)
	}
	out.KeyConcepts = concepts

	return out
}
