package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// Coverage and relevance floors are fixed constants; only the quality
// threshold is tunable per run.
const (
	coverageFloor  = 0.5
	relevanceFloor = 0.6
	minResultFloor = 3
)

// runQualityGate evaluates the ranked evidence. Judge failure degrades to a
// deterministic report computed from the ranked scores rather than aborting
// the run.
func (uc *PipelineUseCase) runQualityGate(ctx context.Context, state *domain.PipelineState) {
	report, err := uc.judge.JudgeQuality(ctx, state.Query, state.RankedResults)
	if err != nil {
		slog.Warn("quality_gate_fallback", "run_id", state.RunID, "error", err)
		report = fallbackQualityReport(state.RankedResults, state.MaxResults)
		state.Metrics.QualityFallback = true
	} else {
		report = sanitizeReport(report)
	}
	state.QualityReport = &report
}

// reRetrievalReasons decides the gate's branch. Empty means generate. Once
// one retry has happened the answer is always generate, no matter how poor
// the scores look.
func (uc *PipelineUseCase) reRetrievalReasons(state *domain.PipelineState) []string {
	if !state.ReRetrievalEnabled || state.ReRetrievalCount >= 1 {
		return nil
	}

	report := state.QualityReport
	if report == nil {
		return nil
	}

	var reasons []string
	if report.QualityScore < state.QualityThreshold {
		reasons = append(reasons, fmt.Sprintf("quality_below_threshold (%.2f < %.2f)", report.QualityScore, state.QualityThreshold))
	}
	if report.CoverageScore < coverageFloor {
		reasons = append(reasons, fmt.Sprintf("low_coverage (%.2f < %.2f)", report.CoverageScore, coverageFloor))
	}
	if report.RelevanceScore < relevanceFloor {
		reasons = append(reasons, fmt.Sprintf("low_relevance (%.2f < %.2f)", report.RelevanceScore, relevanceFloor))
	}
	if minimum := minResultCount(state.MaxResults); len(state.RankedResults) < minimum {
		reasons = append(reasons, fmt.Sprintf("too_few_results (%d < %d)", len(state.RankedResults), minimum))
	}
	return reasons
}

func minResultCount(maxResults int) int {
	minimum := maxResults / 2
	if minimum < minResultFloor {
		minimum = minResultFloor
	}
	return minimum
}

// fallbackQualityReport derives scores from the ranked results themselves:
// mean combined score as quality and relevance, result-count ratio as
// coverage.
func fallbackQualityReport(ranked []domain.Candidate, maxResults int) domain.QualityReport {
	if len(ranked) == 0 {
		return domain.QualityReport{
			Verdict:  domain.VerdictPoor,
			Issues:   []string{"no ranked results available"},
			Fallback: true,
		}
	}

	var sum float64
	for _, candidate := range ranked {
		if candidate.Scores != nil {
			sum += candidate.Scores.Combined
		}
	}
	mean := sum / float64(len(ranked))

	coverage := 1.0
	if maxResults > 0 {
		coverage = clamp01(float64(len(ranked)) / float64(maxResults))
	}

	return domain.QualityReport{
		QualityScore:   mean,
		CoverageScore:  coverage,
		RelevanceScore: mean,
		Verdict:        verdictForScore(mean),
		Issues:         []string{"quality judge unavailable, scores derived from ranking"},
		Fallback:       true,
	}
}

func verdictForScore(score float64) domain.QualityVerdict {
	switch {
	case score >= 0.8:
		return domain.VerdictExcellent
	case score >= 0.6:
		return domain.VerdictGood
	case score >= 0.4:
		return domain.VerdictInsufficient
	default:
		return domain.VerdictPoor
	}
}

func sanitizeReport(report domain.QualityReport) domain.QualityReport {
	out := report
	out.QualityScore = clamp01(out.QualityScore)
	out.CoverageScore = clamp01(out.CoverageScore)
	out.RelevanceScore = clamp01(out.RelevanceScore)
	if !domain.ValidVerdict(out.Verdict) {
		out.Verdict = verdictForScore(out.QualityScore)
	}
	return out
}
