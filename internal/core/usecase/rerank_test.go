package usecase

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

func uniqueEvidence(n int) []domain.Candidate {
	out := make([]domain.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, evidence(
			fmt.Sprintf("doc-%02d", i+1),
			0.95-float64(i)*0.02,
			fmt.Sprintf("unique%02d alpha%02d beta%02d gamma%02d detailed standalone passage", i+1, i+1, i+1, i+1),
		))
	}
	return out
}

func TestRerankRemovesDuplicatePairs(t *testing.T) {
	raw := uniqueEvidence(18)
	// Six lower-relevance copies that differ only in casing and punctuation.
	for i := 0; i < 6; i++ {
		original := raw[i]
		raw = append(raw, evidence(
			fmt.Sprintf("dup-%02d", i+1),
			original.BaseRelevance-0.5,
			strings.ToUpper(original.Content)+"!!",
		))
	}
	if len(raw) != 24 {
		t.Fatalf("fixture should hold 24 candidates, got %d", len(raw))
	}

	ranked, duplicates, dropped := rerankCandidates("a query", raw, domain.DefaultScoreWeights(), 0, 0.85, 30)

	if duplicates != 6 {
		t.Fatalf("expected 6 duplicates removed, got %d", duplicates)
	}
	if dropped != 0 {
		t.Fatalf("expected nothing below a zero floor, got %d", dropped)
	}
	if len(ranked) != 18 {
		t.Fatalf("expected 18 survivors, got %d", len(ranked))
	}
	for _, candidate := range ranked {
		if strings.HasPrefix(candidate.ID, "dup-") {
			t.Fatalf("lower-relevance duplicate %s survived over its original", candidate.ID)
		}
	}
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	raw := uniqueEvidence(10)
	for i := 0; i < 4; i++ {
		original := raw[i]
		raw = append(raw, evidence(
			fmt.Sprintf("dup-%02d", i+1),
			original.BaseRelevance-0.3,
			strings.ToUpper(original.Content),
		))
	}

	canonical := canonicalOrder(raw)
	once := deduplicate(canonical, 0.85)
	twice := deduplicate(once, 0.85)

	if len(once) != 10 {
		t.Fatalf("expected 10 survivors after the first pass, got %d", len(once))
	}
	if len(twice) != len(once) {
		t.Fatalf("second pass changed the set size: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if twice[i].ID != once[i].ID {
			t.Fatalf("second pass changed the set at %d: %v vs %v", i, idsOf(once), idsOf(twice))
		}
	}
}

func TestRerankDropsNearDuplicateByShingleOverlap(t *testing.T) {
	base := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty blue red green amber"
	raw := []domain.Candidate{
		evidence("orig", 0.9, base+" violet"),
		evidence("near", 0.8, base+" crimson"),
	}

	ranked, duplicates, _ := rerankCandidates("q", raw, domain.DefaultScoreWeights(), 0, 0.85, 10)

	if duplicates != 1 {
		t.Fatalf("expected the near-duplicate to be removed, got %d removed", duplicates)
	}
	if len(ranked) != 1 || ranked[0].ID != "orig" {
		t.Fatalf("expected only the higher-relevance original, got %v", idsOf(ranked))
	}
}

func TestRerankKeepsModeratelySimilarCandidates(t *testing.T) {
	raw := []domain.Candidate{
		evidence("a", 0.9, "shared topic words then completely different tail about harbors and lanterns"),
		evidence("b", 0.8, "shared topic words then another unrelated tail covering canyons and rivers"),
	}

	ranked, duplicates, _ := rerankCandidates("q", raw, domain.DefaultScoreWeights(), 0, 0.85, 10)

	if duplicates != 0 {
		t.Fatalf("moderately similar candidates must both survive, %d removed", duplicates)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected both candidates kept, got %d", len(ranked))
	}
}

func TestRerankIsDeterministicUnderInputOrder(t *testing.T) {
	raw := uniqueEvidence(12)

	reversed := make([]domain.Candidate, len(raw))
	for i, candidate := range raw {
		reversed[len(raw)-1-i] = candidate
	}

	rankedA, _, _ := rerankCandidates("detailed passage", raw, domain.DefaultScoreWeights(), 0, 0.85, 10)
	rankedB, _, _ := rerankCandidates("detailed passage", reversed, domain.DefaultScoreWeights(), 0, 0.85, 10)

	if len(rankedA) != len(rankedB) {
		t.Fatalf("lengths differ: %d vs %d", len(rankedA), len(rankedB))
	}
	for i := range rankedA {
		if rankedA[i].ID != rankedB[i].ID {
			t.Fatalf("order diverges at %d: %v vs %v", i, idsOf(rankedA), idsOf(rankedB))
		}
		if rankedA[i].Scores.Combined != rankedB[i].Scores.Combined {
			t.Fatalf("scores diverge for %s", rankedA[i].ID)
		}
	}
}

func TestRerankDropsBelowCombinedFloor(t *testing.T) {
	strong := evidence("strong", 1.0, "harbor lantern guidance explained in a long grounded passage about harbor lantern maintenance and operation across many seasons")
	weak := evidence("weak", 0.0, "zz")

	ranked, _, dropped := rerankCandidates("harbor lantern", []domain.Candidate{weak, strong}, domain.DefaultScoreWeights(), 0.5, 0.85, 10)

	if dropped != 1 {
		t.Fatalf("expected the weak candidate dropped, got %d", dropped)
	}
	if len(ranked) != 1 || ranked[0].ID != "strong" {
		t.Fatalf("expected only the strong candidate, got %v", idsOf(ranked))
	}
}

func TestRerankTruncatesAndPacksTopResults(t *testing.T) {
	raw := uniqueEvidence(8)

	ranked, _, _ := rerankCandidates("q", raw, domain.DefaultScoreWeights(), 0, 0.85, 3)

	if len(ranked) != 3 {
		t.Fatalf("expected truncation to 3, got %d", len(ranked))
	}
	// Outside-in packing of the top three: best, third, second.
	want := []string{"doc-01", "doc-03", "doc-02"}
	got := idsOf(ranked)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s (full: %v)", i, want[i], got[i], got)
		}
	}
}

func TestRerankPopulatesScoreBreakdown(t *testing.T) {
	raw := []domain.Candidate{
		evidence("doc", 0.8, "harbor lantern passage with plenty of descriptive grounded detail"),
	}

	ranked, _, _ := rerankCandidates("harbor lantern", raw, domain.DefaultScoreWeights(), 0, 0.85, 5)

	if len(ranked) != 1 || ranked[0].Scores == nil {
		t.Fatalf("expected a populated score breakdown")
	}
	scores := ranked[0].Scores
	if scores.Semantic != 0.8 {
		t.Fatalf("semantic should mirror base relevance, got %v", scores.Semantic)
	}
	if scores.Keyword != 1.0 {
		t.Fatalf("all query tokens appear in content, keyword should be 1.0, got %v", scores.Keyword)
	}
	if scores.Diversity != 1.0 {
		t.Fatalf("sole candidate diversity should be 1.0, got %v", scores.Diversity)
	}
	weights := domain.DefaultScoreWeights()
	want := weights.Semantic*scores.Semantic + weights.Keyword*scores.Keyword + weights.Quality*scores.Quality + weights.Diversity*scores.Diversity
	if diff := scores.Combined - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("combined %v does not match weighted sum %v", scores.Combined, want)
	}
}

func TestRerankEmptyInput(t *testing.T) {
	ranked, duplicates, dropped := rerankCandidates("q", nil, domain.DefaultScoreWeights(), 0.3, 0.85, 10)
	if len(ranked) != 0 || duplicates != 0 || dropped != 0 {
		t.Fatalf("empty input must produce empty output, got %d/%d/%d", len(ranked), duplicates, dropped)
	}
}
