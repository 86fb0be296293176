package usecase

import (
	"context"
	"strings"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// runSynthesis generates the final cited answer. Unlike every earlier stage
// there is no further fallback: a synthesis failure is terminal.
func (uc *PipelineUseCase) runSynthesis(ctx context.Context, state *domain.PipelineState) error {
	report := domain.QualityReport{}
	if state.QualityReport != nil {
		report = *state.QualityReport
	}

	response, err := uc.synthesizer.Synthesize(ctx, state.Query, state.RankedResults, report)
	if err != nil {
		return domain.WrapError(domain.ErrStageFailed, "response synthesis", err)
	}

	response.Confidence = clamp01(response.Confidence)
	if response.SourcesCited == nil {
		response.SourcesCited = []string{}
	}
	if notice := limitationNotice(state, report); notice != "" && strings.TrimSpace(response.Limitations) == "" {
		response.Limitations = notice
	}

	state.FinalResponse = &response
	return nil
}

// limitationNotice flags answers built on evidence that stayed weak after the
// bounded retry, so they are never presented as fully authoritative.
func limitationNotice(state *domain.PipelineState, report domain.QualityReport) string {
	if len(state.RankedResults) == 0 {
		return "No supporting evidence was retrieved; this answer is not grounded in sources."
	}
	switch report.Verdict {
	case domain.VerdictInsufficient, domain.VerdictPoor:
		return "The retrieved evidence was judged " + string(report.Verdict) + "; this answer may be incomplete."
	default:
		return ""
	}
}
