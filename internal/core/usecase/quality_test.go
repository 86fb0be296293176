package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

func gateState(rankedCount int, report domain.QualityReport) *domain.PipelineState {
	state := domain.NewPipelineState("a question", domain.DefaultRunOptions())
	state.RankedResults = distinctEvidence(rankedCount)
	state.QualityReport = &report
	return state
}

func TestReRetrievalReasonsPassOnGoodEvidence(t *testing.T) {
	uc := newTestPipeline(&analyzerFake{}, &searchFake{}, &judgeFake{}, &synthesizerFake{}, nil, nil, domain.PipelineLimits{})

	if reasons := uc.reRetrievalReasons(gateState(6, goodReport())); reasons != nil {
		t.Fatalf("good evidence must not trigger a retry, got %v", reasons)
	}
}

func TestReRetrievalReasonsDecisionTable(t *testing.T) {
	uc := newTestPipeline(&analyzerFake{}, &searchFake{}, &judgeFake{}, &synthesizerFake{}, nil, nil, domain.PipelineLimits{})

	cases := []struct {
		name   string
		report domain.QualityReport
		ranked int
		want   string
	}{
		{
			name:   "quality below threshold",
			report: domain.QualityReport{QualityScore: 0.5, CoverageScore: 0.9, RelevanceScore: 0.9, Verdict: domain.VerdictGood},
			ranked: 6,
			want:   "quality_below_threshold",
		},
		{
			name:   "low coverage",
			report: domain.QualityReport{QualityScore: 0.9, CoverageScore: 0.4, RelevanceScore: 0.9, Verdict: domain.VerdictGood},
			ranked: 6,
			want:   "low_coverage",
		},
		{
			name:   "low relevance",
			report: domain.QualityReport{QualityScore: 0.9, CoverageScore: 0.9, RelevanceScore: 0.5, Verdict: domain.VerdictGood},
			ranked: 6,
			want:   "low_relevance",
		},
		{
			name:   "too few results",
			report: goodReport(),
			ranked: 2,
			want:   "too_few_results",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reasons := uc.reRetrievalReasons(gateState(tc.ranked, tc.report))
			if len(reasons) == 0 {
				t.Fatalf("expected a retry reason")
			}
			found := false
			for _, reason := range reasons {
				if strings.HasPrefix(reason, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected a %s reason, got %v", tc.want, reasons)
			}
		})
	}
}

func TestReRetrievalDisabledAfterOneRetry(t *testing.T) {
	uc := newTestPipeline(&analyzerFake{}, &searchFake{}, &judgeFake{}, &synthesizerFake{}, nil, nil, domain.PipelineLimits{})

	state := gateState(0, poorReport())
	state.ReRetrievalCount = 1

	if reasons := uc.reRetrievalReasons(state); reasons != nil {
		t.Fatalf("gate must force generate after one retry, got %v", reasons)
	}
}

func TestReRetrievalRespectsDisabledOption(t *testing.T) {
	uc := newTestPipeline(&analyzerFake{}, &searchFake{}, &judgeFake{}, &synthesizerFake{}, nil, nil, domain.PipelineLimits{})

	state := gateState(0, poorReport())
	state.ReRetrievalEnabled = false

	if reasons := uc.reRetrievalReasons(state); reasons != nil {
		t.Fatalf("disabled re-retrieval must not produce reasons, got %v", reasons)
	}
}

func TestMinResultCountScalesWithMaxResults(t *testing.T) {
	cases := []struct{ maxResults, want int }{
		{1, 3},
		{6, 3},
		{10, 5},
		{20, 10},
	}
	for _, tc := range cases {
		if got := minResultCount(tc.maxResults); got != tc.want {
			t.Fatalf("minResultCount(%d) = %d, want %d", tc.maxResults, got, tc.want)
		}
	}
}

func TestQualityGateFallsBackWhenJudgeFails(t *testing.T) {
	judge := &judgeFake{err: errors.New("judge offline")}
	uc := newTestPipeline(&analyzerFake{}, &searchFake{}, judge, &synthesizerFake{}, nil, nil, domain.PipelineLimits{})

	state := domain.NewPipelineState("q", domain.DefaultRunOptions())
	state.RankedResults = distinctEvidence(4)
	for i := range state.RankedResults {
		state.RankedResults[i].Scores = &domain.ScoreBreakdown{Combined: 0.7}
	}

	uc.runQualityGate(context.Background(), state)

	if state.QualityReport == nil || !state.QualityReport.Fallback {
		t.Fatalf("expected a fallback report, got %+v", state.QualityReport)
	}
	if !state.Metrics.QualityFallback {
		t.Fatalf("fallback must be recorded in metrics")
	}
	if state.QualityReport.QualityScore != 0.7 {
		t.Fatalf("fallback quality should be the mean combined score, got %v", state.QualityReport.QualityScore)
	}
	if state.QualityReport.CoverageScore != 0.4 {
		t.Fatalf("fallback coverage should be result ratio 4/10, got %v", state.QualityReport.CoverageScore)
	}
}

func TestFallbackReportOnEmptyRanking(t *testing.T) {
	report := fallbackQualityReport(nil, 10)
	if report.Verdict != domain.VerdictPoor {
		t.Fatalf("empty ranking must be judged poor, got %s", report.Verdict)
	}
	if !report.Fallback || len(report.Issues) == 0 {
		t.Fatalf("expected a flagged fallback report with issues, got %+v", report)
	}
}

func TestVerdictForScoreBands(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.QualityVerdict
	}{
		{0.85, domain.VerdictExcellent},
		{0.80, domain.VerdictExcellent},
		{0.70, domain.VerdictGood},
		{0.60, domain.VerdictGood},
		{0.50, domain.VerdictInsufficient},
		{0.40, domain.VerdictInsufficient},
		{0.39, domain.VerdictPoor},
		{0.0, domain.VerdictPoor},
	}
	for _, tc := range cases {
		if got := verdictForScore(tc.score); got != tc.want {
			t.Fatalf("verdictForScore(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestSanitizeReportClampsAndRepairsVerdict(t *testing.T) {
	report := sanitizeReport(domain.QualityReport{
		QualityScore:   1.7,
		CoverageScore:  -0.3,
		RelevanceScore: 0.5,
		Verdict:        "fabulous",
	})

	if report.QualityScore != 1.0 || report.CoverageScore != 0.0 {
		t.Fatalf("scores not clamped: %+v", report)
	}
	if report.Verdict != domain.VerdictExcellent {
		t.Fatalf("invalid verdict should be derived from quality score, got %s", report.Verdict)
	}
}
