package usecase

import "github.com/kirillkom/answer-pipeline/internal/core/domain"

// packPositions reorders a ranked sequence to counter "lost in the middle":
// the best item goes first, the second best last, the third second, and so on,
// alternating from the outside in. A pure permutation, never drops or
// rescales.
func packPositions(ranked []domain.Candidate) []domain.Candidate {
	if len(ranked) <= 2 {
		return ranked
	}

	out := make([]domain.Candidate, len(ranked))
	left, right := 0, len(ranked)-1
	for i, candidate := range ranked {
		if i%2 == 0 {
			out[left] = candidate
			left++
		} else {
			out[right] = candidate
			right--
		}
	}
	return out
}
