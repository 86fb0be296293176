package usecase

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

const qualityLengthNorm = 1000.0

// runReRanking deduplicates, scores, thresholds, truncates, and packs the raw
// retrieval results. Pure and deterministic: the input is canonicalized first
// so sub-search completion order never changes the outcome.
func (uc *PipelineUseCase) runReRanking(state *domain.PipelineState) {
	ranked, duplicates, dropped := rerankCandidates(
		state.Query,
		state.RetrievalResults,
		uc.limits.Weights,
		uc.limits.CombinedFloor,
		uc.limits.DedupThreshold,
		state.MaxResults,
	)
	state.Metrics.DuplicatesRemoved += duplicates
	state.Metrics.DroppedBelowFloor += dropped
	state.RankedResults = ranked
}

func rerankCandidates(
	query string,
	raw []domain.Candidate,
	weights domain.ScoreWeights,
	floor float64,
	dedupThreshold float64,
	maxResults int,
) (ranked []domain.Candidate, duplicatesRemoved, droppedBelowFloor int) {
	if len(raw) == 0 {
		return []domain.Candidate{}, 0, 0
	}

	canonical := canonicalOrder(raw)
	unique := deduplicate(canonical, dedupThreshold)
	duplicatesRemoved = len(canonical) - len(unique)

	scored := scoreCandidates(query, unique, weights)

	kept := make([]domain.Candidate, 0, len(scored))
	for _, candidate := range scored {
		if candidate.Scores.Combined < floor {
			droppedBelowFloor++
			continue
		}
		kept = append(kept, candidate)
	}

	// Ties break by higher semantic, then canonical order (stable).
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Scores.Combined != kept[j].Scores.Combined {
			return kept[i].Scores.Combined > kept[j].Scores.Combined
		}
		return kept[i].Scores.Semantic > kept[j].Scores.Semantic
	})

	if len(kept) > maxResults {
		kept = kept[:maxResults]
	}

	return packPositions(kept), duplicatesRemoved, droppedBelowFloor
}

// canonicalOrder sorts a copy of the candidates by base relevance descending,
// tie-broken by ID, so scoring never depends on arrival order.
func canonicalOrder(raw []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, len(raw))
	copy(out, raw)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BaseRelevance != out[j].BaseRelevance {
			return out[i].BaseRelevance > out[j].BaseRelevance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// deduplicate groups candidates by content-similarity fingerprint and keeps
// the highest-relevance member of each group. Input must be in canonical
// order so the survivor is always the first of its group.
func deduplicate(canonical []domain.Candidate, threshold float64) []domain.Candidate {
	type fingerprint struct {
		normalized string
		shingles   map[string]struct{}
	}

	unique := make([]domain.Candidate, 0, len(canonical))
	accepted := make([]fingerprint, 0, len(canonical))

	for _, candidate := range canonical {
		fp := fingerprint{
			normalized: normalizeContent(candidate.Content),
			shingles:   contentShingles(candidate.Content),
		}

		duplicate := false
		for _, prior := range accepted {
			if prior.normalized == fp.normalized || jaccard(prior.shingles, fp.shingles) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		unique = append(unique, candidate)
		accepted = append(accepted, fp)
	}
	return unique
}

// scoreCandidates computes the multi-signal combined score. Diversity is
// incremental: each candidate is compared against the already-accepted
// candidates with higher semantic score, in descending semantic order.
func scoreCandidates(query string, unique []domain.Candidate, weights domain.ScoreWeights) []domain.Candidate {
	queryTokens := toTokenSet(query)

	out := make([]domain.Candidate, len(unique))
	acceptedShingles := make([]map[string]struct{}, 0, len(unique))

	for i, candidate := range unique {
		shingles := contentShingles(candidate.Content)

		semantic := clamp01(candidate.BaseRelevance)
		keyword := tokenOverlap(queryTokens, toTokenSet(candidate.Content))
		quality := clamp01(float64(len(candidate.Content)) / qualityLengthNorm)

		diversity := 1.0
		for _, prior := range acceptedShingles {
			if sim := jaccard(prior, shingles); 1.0-sim < diversity {
				diversity = 1.0 - sim
			}
		}

		combined := weights.Semantic*semantic +
			weights.Keyword*keyword +
			weights.Quality*quality +
			weights.Diversity*diversity

		scored := candidate
		scored.Scores = &domain.ScoreBreakdown{
			Semantic:  semantic,
			Keyword:   keyword,
			Quality:   quality,
			Diversity: diversity,
			Combined:  combined,
		}
		out[i] = scored
		acceptedShingles = append(acceptedShingles, shingles)
	}
	return out
}

func tokenOverlap(query, candidate map[string]struct{}) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := candidate[token]; ok {
			matches++
		}
	}
	return clamp01(float64(matches) / float64(len(query)))
}

func normalizeContent(content string) string {
	return strings.Join(splitAlphaNumLower(content), " ")
}

// contentShingles builds 3-token shingles over the normalized content. Short
// texts fall back to single-token shingles.
func contentShingles(content string) map[string]struct{} {
	tokens := splitAlphaNumLower(content)
	out := make(map[string]struct{}, len(tokens))
	if len(tokens) < 3 {
		for _, token := range tokens {
			out[token] = struct{}{}
		}
		return out
	}
	for i := 0; i+3 <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+3], " ")] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	smaller, larger := a, b
	if len(smaller) > len(larger) {
		smaller, larger = larger, smaller
	}
	intersection := 0
	for key := range smaller {
		if _, ok := larger[key]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
