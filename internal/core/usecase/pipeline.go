package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
	"github.com/kirillkom/answer-pipeline/internal/core/ports"
)

// PipelineUseCase drives the answer pipeline state machine:
//
//	Init -> QueryAnalysis -> Retrieval -> ReRanking -> QualityGate
//	     -> {Retrieval (once) | ResponseSynthesis} -> Done
//
// The quality gate owns the only backward edge, and that edge is disabled
// after one traversal, so every run terminates in at most two retrieval
// cycles regardless of how poor the evidence looks.
type PipelineUseCase struct {
	analyzer    ports.QueryAnalyzer
	search      ports.SearchBackend
	judge       ports.QualityJudge
	synthesizer ports.AnswerSynthesizer
	telemetry   ports.TelemetrySink
	snapshots   ports.SnapshotStore
	limits      domain.PipelineLimits
}

func NewPipelineUseCase(
	analyzer ports.QueryAnalyzer,
	search ports.SearchBackend,
	judge ports.QualityJudge,
	synthesizer ports.AnswerSynthesizer,
	telemetry ports.TelemetrySink,
	snapshots ports.SnapshotStore,
	limits domain.PipelineLimits,
) *PipelineUseCase {
	return &PipelineUseCase{
		analyzer:    analyzer,
		search:      search,
		judge:       judge,
		synthesizer: synthesizer,
		telemetry:   telemetry,
		snapshots:   snapshots,
		limits:      limits.Normalize(),
	}
}

func (uc *PipelineUseCase) Execute(ctx context.Context, query string, opts domain.RunOptions) domain.Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Result{
			Status:          domain.StatusError,
			Message:         "query is required",
			StagesCompleted: []domain.Stage{},
		}
	}

	opts = opts.Normalize()
	state := domain.NewPipelineState(query, opts)

	runCtx, cancel := context.WithTimeout(ctx, uc.limits.RunDeadline)
	defer cancel()

	result := uc.run(runCtx, state)
	uc.persistSnapshot(state, result.Status)
	return result
}

func (uc *PipelineUseCase) run(ctx context.Context, state *domain.PipelineState) domain.Result {
	current := domain.StageQueryAnalysis
	attempts := make(map[domain.Stage]int, 6)

	for {
		if ctx.Err() != nil {
			return uc.timeoutResult(state)
		}

		attempts[current]++
		inputSize := uc.stageInputSize(current, state)
		start := time.Now()
		err := uc.runStage(ctx, current, state)
		elapsed := time.Since(start)

		state.Metrics.AddStageMillis(current, elapsed.Milliseconds())

		// Deadline expiry always wins, even against a stage that raced it
		// to completion or failure.
		if ctx.Err() != nil {
			uc.emit(state, current, attempts[current], elapsed, inputSize, "timeout")
			return uc.timeoutResult(state)
		}

		if err != nil {
			uc.emit(state, current, attempts[current], elapsed, inputSize, "error")
			return uc.errorResult(state, current, err)
		}

		state.CompleteStage(current)
		uc.emit(state, current, attempts[current], elapsed, inputSize, "ok")

		next, done := uc.nextStage(current, state)
		if done {
			return uc.successResult(state)
		}
		current = next
	}
}

func (uc *PipelineUseCase) runStage(ctx context.Context, stage domain.Stage, state *domain.PipelineState) error {
	switch stage {
	case domain.StageQueryAnalysis:
		uc.runQueryAnalysis(ctx, state)
		return nil
	case domain.StageRetrieval:
		uc.runRetrieval(ctx, state)
		return nil
	case domain.StageReRanking:
		uc.runReRanking(state)
		return nil
	case domain.StageQualityGate:
		uc.runQualityGate(ctx, state)
		return nil
	case domain.StageResponseSynthesis:
		return uc.runSynthesis(ctx, state)
	default:
		return domain.WrapError(domain.ErrStageFailed, string(stage), fmt.Errorf("unknown stage"))
	}
}

// nextStage is the transition function. The quality gate is the only branch
// point; its backward edge is forced shut once ReRetrievalCount reaches one.
func (uc *PipelineUseCase) nextStage(current domain.Stage, state *domain.PipelineState) (domain.Stage, bool) {
	switch current {
	case domain.StageQueryAnalysis:
		return domain.StageRetrieval, false
	case domain.StageRetrieval:
		return domain.StageReRanking, false
	case domain.StageReRanking:
		return domain.StageQualityGate, false
	case domain.StageQualityGate:
		reasons := uc.reRetrievalReasons(state)
		if len(reasons) > 0 {
			state.ReRetrievalCount++
			state.Metrics.RetryReasons = reasons
			return domain.StageRetrieval, false
		}
		return domain.StageResponseSynthesis, false
	default:
		return "", true
	}
}

func (uc *PipelineUseCase) stageInputSize(stage domain.Stage, state *domain.PipelineState) int {
	switch stage {
	case domain.StageQueryAnalysis:
		return len(state.Query)
	case domain.StageRetrieval:
		return len(state.RetrievalResults)
	case domain.StageReRanking:
		return len(state.RetrievalResults)
	case domain.StageQualityGate, domain.StageResponseSynthesis:
		return len(state.RankedResults)
	default:
		return 0
	}
}

func (uc *PipelineUseCase) stageOutputSize(stage domain.Stage, state *domain.PipelineState) int {
	switch stage {
	case domain.StageQueryAnalysis:
		if state.QueryAnalysis == nil {
			return 0
		}
		return len(state.QueryAnalysis.RewrittenQueries)
	case domain.StageRetrieval:
		return len(state.RetrievalResults)
	case domain.StageReRanking:
		return len(state.RankedResults)
	case domain.StageQualityGate:
		if state.QualityReport == nil {
			return 0
		}
		return len(state.QualityReport.Issues)
	case domain.StageResponseSynthesis:
		if state.FinalResponse == nil {
			return 0
		}
		return len(state.FinalResponse.Text)
	default:
		return 0
	}
}

func (uc *PipelineUseCase) emit(state *domain.PipelineState, stage domain.Stage, attempt int, elapsed time.Duration, inputSize int, outcome string) {
	if uc.telemetry == nil {
		return
	}
	uc.telemetry.Emit(domain.StageEvent{
		RunID:          state.RunID,
		Stage:          stage,
		Attempt:        attempt,
		DurationMillis: elapsed.Milliseconds(),
		InputSize:      inputSize,
		OutputSize:     uc.stageOutputSize(stage, state),
		Outcome:        outcome,
		At:             time.Now().UTC(),
	})
}

func (uc *PipelineUseCase) successResult(state *domain.PipelineState) domain.Result {
	resp := state.FinalResponse
	return domain.Result{
		Status:          domain.StatusSuccess,
		RunID:           state.RunID,
		Response:        resp.Text,
		Confidence:      resp.Confidence,
		SourcesCited:    resp.SourcesCited,
		Limitations:     resp.Limitations,
		StagesCompleted: state.StagesCompleted,
		Metrics:         state.Metrics,
	}
}

func (uc *PipelineUseCase) timeoutResult(state *domain.PipelineState) domain.Result {
	return domain.Result{
		Status:          domain.StatusTimeout,
		RunID:           state.RunID,
		Message:         "run deadline exceeded",
		StagesCompleted: state.StagesCompleted,
		Metrics:         state.Metrics,
	}
}

func (uc *PipelineUseCase) errorResult(state *domain.PipelineState, stage domain.Stage, err error) domain.Result {
	return domain.Result{
		Status:          domain.StatusError,
		RunID:           state.RunID,
		Stage:           stage,
		Message:         err.Error(),
		StagesCompleted: state.StagesCompleted,
		Metrics:         state.Metrics,
	}
}

// persistSnapshot hands the terminal state to the checkpoint collaborator.
// Persistence failure never changes the run outcome.
func (uc *PipelineUseCase) persistSnapshot(state *domain.PipelineState, status domain.RunStatus) {
	if uc.snapshots == nil {
		return
	}
	payload, err := state.Snapshot()
	if err != nil {
		slog.Warn("snapshot_marshal_failed", "run_id", state.RunID, "error", err)
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := uc.snapshots.SaveSnapshot(saveCtx, state.RunID, status, payload); err != nil {
		slog.Warn("snapshot_save_failed", "run_id", state.RunID, "error", err)
	}
}
