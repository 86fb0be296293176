package domain

// SourceInfo describes where a candidate was retrieved from.
type SourceInfo struct {
	Title  string `json:"title,omitempty"`
	Origin string `json:"origin,omitempty"`
}

// ScoreBreakdown holds the per-signal components behind a combined score.
type ScoreBreakdown struct {
	Semantic  float64 `json:"semantic"`
	Keyword   float64 `json:"keyword"`
	Quality   float64 `json:"quality"`
	Diversity float64 `json:"diversity"`
	Combined  float64 `json:"combined"`
}

// Candidate is one retrieved unit of evidence.
type Candidate struct {
	ID            string          `json:"id"`
	Content       string          `json:"content"`
	Source        SourceInfo      `json:"source"`
	BaseRelevance float64         `json:"base_relevance"`
	Scores        *ScoreBreakdown `json:"scores,omitempty"`
}
