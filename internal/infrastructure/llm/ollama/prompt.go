package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

func buildAnalysisPrompt(query string) string {
	return fmt.Sprintf(`You are a query analysis component for a retrieval pipeline.
Return strict JSON object with keys:
intent (one of "factual","conceptual","procedural","multi-hop","exploratory"),
rewritten_queries (array of 3 to 5 strings),
key_concepts (array of strings),
strategy (one of "focused","broad","multi-stage"),
complexity (number from 0 to 1).
No markdown, no extra keys.

Query:
%s`, query)
}

func buildQualityPrompt(query string, candidates []domain.Candidate) string {
	return fmt.Sprintf(`You are a retrieval quality judge.
Assess whether the evidence below is sufficient to answer the question.
Return strict JSON object with keys:
quality_score (number from 0 to 1),
coverage_score (number from 0 to 1),
relevance_score (number from 0 to 1),
verdict (one of "excellent","good","insufficient","poor"),
issues (array of strings naming missing aspects).
No markdown, no extra keys.

Question:
%s

Evidence:
%s`, query, formatEvidence(candidates))
}

func buildAnswerPrompt(query string, candidates []domain.Candidate, report domain.QualityReport) string {
	verdict := string(report.Verdict)
	if verdict == "" {
		verdict = "unknown"
	}

	return fmt.Sprintf(`Answer the question using only the evidence below.
Cite evidence by its id. If the evidence is insufficient, say so in limitations.
The evidence quality verdict was: %s.
Return strict JSON object with keys:
text (string), confidence (number from 0 to 1),
sources_cited (array of evidence id strings), limitations (string, may be empty).
No markdown, no extra keys.

Question:
%s

Evidence:
%s`, verdict, query, formatEvidence(candidates))
}

func formatEvidence(candidates []domain.Candidate) string {
	if len(candidates) == 0 {
		return "(no evidence retrieved)"
	}

	var b strings.Builder
	for _, candidate := range candidates {
		score := candidate.BaseRelevance
		if candidate.Scores != nil {
			score = candidate.Scores.Combined
		}
		b.WriteString(fmt.Sprintf("[id=%s title=%s score=%.3f]\n%s\n\n",
			candidate.ID,
			candidate.Source.Title,
			score,
			candidate.Content,
		))
	}
	return b.String()
}
