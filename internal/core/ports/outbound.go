package ports

import (
	"context"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// SearchBackend is the opaque search collaborator. A failed search simply
// contributes zero candidates; callers treat errors as best effort.
type SearchBackend interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error)
}

// QueryAnalyzer asks the reasoning collaborator to understand a query.
// Schema-violating output surfaces as an error.
type QueryAnalyzer interface {
	AnalyzeQuery(ctx context.Context, query string) (domain.QueryAnalysis, error)
}

// QualityJudge asks the reasoning collaborator whether the evidence is good
// enough to answer from.
type QualityJudge interface {
	JudgeQuality(ctx context.Context, query string, candidates []domain.Candidate) (domain.QualityReport, error)
}

// AnswerSynthesizer generates the final answer grounded only in the supplied
// candidates.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, query string, candidates []domain.Candidate, report domain.QualityReport) (domain.FinalResponse, error)
}

// TelemetrySink receives one event per stage transition. Implementations must
// never block or fail the run.
type TelemetrySink interface {
	Emit(event domain.StageEvent)
}

// SnapshotStore persists the terminal pipeline state for an external
// checkpoint collaborator.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, runID string, status domain.RunStatus, state []byte) error
}
