package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageQueryAnalysis     Stage = "query_analysis"
	StageRetrieval         Stage = "retrieval"
	StageReRanking         Stage = "re_ranking"
	StageQualityGate       Stage = "quality_gate"
	StageResponseSynthesis Stage = "response_synthesis"
)

type Intent string

const (
	IntentFactual     Intent = "factual"
	IntentConceptual  Intent = "conceptual"
	IntentProcedural  Intent = "procedural"
	IntentMultiHop    Intent = "multi-hop"
	IntentExploratory Intent = "exploratory"
)

func ValidIntent(intent Intent) bool {
	switch intent {
	case IntentFactual, IntentConceptual, IntentProcedural, IntentMultiHop, IntentExploratory:
		return true
	default:
		return false
	}
}

type SearchStrategy string

const (
	StrategyFocused    SearchStrategy = "focused"
	StrategyBroad      SearchStrategy = "broad"
	StrategyMultiStage SearchStrategy = "multi-stage"
)

func ValidStrategy(strategy SearchStrategy) bool {
	switch strategy {
	case StrategyFocused, StrategyBroad, StrategyMultiStage:
		return true
	default:
		return false
	}
}

// QueryAnalysis is the structured output of the query understanding stage.
type QueryAnalysis struct {
	Intent           Intent         `json:"intent"`
	RewrittenQueries []string       `json:"rewritten_queries"`
	KeyConcepts      []string       `json:"key_concepts,omitempty"`
	Strategy         SearchStrategy `json:"strategy"`
	Complexity       float64        `json:"complexity"`
	Fallback         bool           `json:"fallback,omitempty"`
}

// FallbackQueryAnalysis is the safe default used when the reasoning
// collaborator fails or returns an unusable payload.
func FallbackQueryAnalysis(query string) QueryAnalysis {
	return QueryAnalysis{
		Intent:           IntentFactual,
		RewrittenQueries: []string{query},
		Strategy:         StrategyFocused,
		Complexity:       0.5,
		Fallback:         true,
	}
}

type QualityVerdict string

const (
	VerdictExcellent    QualityVerdict = "excellent"
	VerdictGood         QualityVerdict = "good"
	VerdictInsufficient QualityVerdict = "insufficient"
	VerdictPoor         QualityVerdict = "poor"
)

func ValidVerdict(verdict QualityVerdict) bool {
	switch verdict {
	case VerdictExcellent, VerdictGood, VerdictInsufficient, VerdictPoor:
		return true
	default:
		return false
	}
}

// QualityReport is the structured output of the quality gate evaluation.
type QualityReport struct {
	QualityScore   float64        `json:"quality_score"`
	CoverageScore  float64        `json:"coverage_score"`
	RelevanceScore float64        `json:"relevance_score"`
	Verdict        QualityVerdict `json:"verdict"`
	Issues         []string       `json:"issues,omitempty"`
	Fallback       bool           `json:"fallback,omitempty"`
}

// FinalResponse is the synthesized, cited answer.
type FinalResponse struct {
	Text         string   `json:"text"`
	Confidence   float64  `json:"confidence"`
	SourcesCited []string `json:"sources_cited"`
	Limitations  string   `json:"limitations,omitempty"`
}

// RunMetrics accumulates per-stage timing and the recoverable shortfalls
// observed during a single run.
type RunMetrics struct {
	StageMillis       map[Stage]int64 `json:"stage_millis"`
	FailedSubSearches int             `json:"failed_sub_searches,omitempty"`
	DuplicatesRemoved int             `json:"duplicates_removed,omitempty"`
	DroppedBelowFloor int             `json:"dropped_below_floor,omitempty"`
	AnalysisFallback  bool            `json:"analysis_fallback,omitempty"`
	QualityFallback   bool            `json:"quality_fallback,omitempty"`
	RetryReasons      []string        `json:"retry_reasons,omitempty"`
}

func (m *RunMetrics) AddStageMillis(stage Stage, millis int64) {
	if m.StageMillis == nil {
		m.StageMillis = make(map[Stage]int64)
	}
	m.StageMillis[stage] += millis
}

// RunOptions is the per-run configuration surface.
type RunOptions struct {
	MaxResults        int     `json:"max_results"`
	QualityThreshold  float64 `json:"quality_threshold"`
	EnableReRetrieval bool    `json:"enable_re_retrieval"`
}

func DefaultRunOptions() RunOptions {
	return RunOptions{
		MaxResults:        10,
		QualityThreshold:  0.7,
		EnableReRetrieval: true,
	}
}

func (o RunOptions) Normalize() RunOptions {
	out := o
	def := DefaultRunOptions()
	if out.MaxResults <= 0 {
		out.MaxResults = def.MaxResults
	}
	if out.QualityThreshold <= 0 || out.QualityThreshold > 1 {
		out.QualityThreshold = def.QualityThreshold
	}
	return out
}

// PipelineState is the single record threaded through all stages of one run.
// Exactly one state instance exists per run; only the currently executing
// stage mutates it.
type PipelineState struct {
	RunID              string         `json:"run_id"`
	Query              string         `json:"query"`
	MaxResults         int            `json:"max_results"`
	QualityThreshold   float64        `json:"quality_threshold"`
	ReRetrievalEnabled bool           `json:"re_retrieval_enabled"`
	QueryAnalysis      *QueryAnalysis `json:"query_analysis,omitempty"`
	RetrievalResults   []Candidate    `json:"retrieval_results,omitempty"`
	RankedResults      []Candidate    `json:"ranked_results,omitempty"`
	QualityReport      *QualityReport `json:"quality_report,omitempty"`
	ReRetrievalCount   int            `json:"re_retrieval_count"`
	StagesCompleted    []Stage        `json:"stages_completed"`
	FinalResponse      *FinalResponse `json:"final_response,omitempty"`
	Metrics            RunMetrics     `json:"metrics"`
	StartedAt          time.Time      `json:"started_at"`
}

func NewPipelineState(query string, opts RunOptions) *PipelineState {
	return &PipelineState{
		RunID:              uuid.NewString(),
		Query:              query,
		MaxResults:         opts.MaxResults,
		QualityThreshold:   opts.QualityThreshold,
		ReRetrievalEnabled: opts.EnableReRetrieval,
		StagesCompleted:    make([]Stage, 0, 6),
		StartedAt:          time.Now().UTC(),
	}
}

func (s *PipelineState) CompleteStage(stage Stage) {
	s.StagesCompleted = append(s.StagesCompleted, stage)
}

// Snapshot serializes the full state for an external persistence collaborator.
func (s *PipelineState) Snapshot() ([]byte, error) {
	return json.Marshal(s)
}

// StageEvent is one telemetry record per stage transition.
type StageEvent struct {
	RunID          string    `json:"run_id"`
	Stage          Stage     `json:"stage"`
	Attempt        int       `json:"attempt"`
	DurationMillis int64     `json:"duration_ms"`
	InputSize      int       `json:"input_size"`
	OutputSize     int       `json:"output_size"`
	Outcome        string    `json:"outcome"`
	At             time.Time `json:"at"`
}

// PipelineLimits bounds a single run. Zero values fall back to defaults.
type PipelineLimits struct {
	RunDeadline         time.Duration
	RetrievalSubTimeout time.Duration
	CombinedFloor       float64
	DedupThreshold      float64
	Weights             ScoreWeights
}

// ScoreWeights are the combined-score signal weights.
type ScoreWeights struct {
	Semantic  float64 `yaml:"semantic"`
	Keyword   float64 `yaml:"keyword"`
	Quality   float64 `yaml:"quality"`
	Diversity float64 `yaml:"diversity"`
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Semantic:  0.40,
		Keyword:   0.25,
		Quality:   0.20,
		Diversity: 0.15,
	}
}

func DefaultPipelineLimits() PipelineLimits {
	return PipelineLimits{
		RunDeadline:         60 * time.Second,
		RetrievalSubTimeout: 10 * time.Second,
		CombinedFloor:       0.3,
		DedupThreshold:      0.85,
		Weights:             DefaultScoreWeights(),
	}
}

func (l PipelineLimits) Normalize() PipelineLimits {
	out := l
	def := DefaultPipelineLimits()
	if out.RunDeadline <= 0 {
		out.RunDeadline = def.RunDeadline
	}
	if out.RetrievalSubTimeout <= 0 {
		out.RetrievalSubTimeout = def.RetrievalSubTimeout
	}
	if out.CombinedFloor < 0 || out.CombinedFloor >= 1 {
		out.CombinedFloor = def.CombinedFloor
	}
	if out.DedupThreshold <= 0 || out.DedupThreshold > 1 {
		out.DedupThreshold = def.DedupThreshold
	}
	if out.Weights.Semantic+out.Weights.Keyword+out.Weights.Quality+out.Weights.Diversity <= 0 {
		out.Weights = def.Weights
	}
	return out
}
