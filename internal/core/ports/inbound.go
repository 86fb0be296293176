package ports

import (
	"context"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// AnswerService is the inbound contract for running the answer pipeline.
// Execute never returns a bare error: every outcome is one of the three
// Result shapes (success, timeout, error).
type AnswerService interface {
	Execute(ctx context.Context, query string, opts domain.RunOptions) domain.Result
}
