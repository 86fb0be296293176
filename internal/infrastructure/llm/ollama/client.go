package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
	"github.com/kirillkom/answer-pipeline/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Analyzer implements ports.QueryAnalyzer.
type Analyzer struct {
	client *Client
}

func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

type analysisPayload struct {
	Intent           string   `json:"intent"`
	RewrittenQueries []string `json:"rewritten_queries"`
	KeyConcepts      []string `json:"key_concepts"`
	Strategy         string   `json:"strategy"`
	Complexity       float64  `json:"complexity"`
}

func (a *Analyzer) AnalyzeQuery(ctx context.Context, query string) (domain.QueryAnalysis, error) {
	raw, err := a.client.generateJSON(ctx, buildAnalysisPrompt(query))
	if err != nil {
		return domain.QueryAnalysis{}, err
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return domain.QueryAnalysis{}, domain.WrapError(domain.ErrSchemaViolation, "parse analysis json", err)
	}
	if err := validateAnalysis(payload); err != nil {
		return domain.QueryAnalysis{}, domain.WrapError(domain.ErrSchemaViolation, "validate analysis", err)
	}

	return domain.QueryAnalysis{
		Intent:           domain.Intent(payload.Intent),
		RewrittenQueries: payload.RewrittenQueries,
		KeyConcepts:      payload.KeyConcepts,
		Strategy:         domain.SearchStrategy(payload.Strategy),
		Complexity:       payload.Complexity,
	}, nil
}

func validateAnalysis(payload analysisPayload) error {
	if !domain.ValidIntent(domain.Intent(payload.Intent)) {
		return fmt.Errorf("unknown intent %q", payload.Intent)
	}
	if !domain.ValidStrategy(domain.SearchStrategy(payload.Strategy)) {
		return fmt.Errorf("unknown strategy %q", payload.Strategy)
	}
	if len(payload.RewrittenQueries) == 0 {
		return fmt.Errorf("rewritten_queries is empty")
	}
	if payload.Complexity < 0 || payload.Complexity > 1 {
		return fmt.Errorf("complexity %v out of range", payload.Complexity)
	}
	return nil
}

// Judge implements ports.QualityJudge.
type Judge struct {
	client *Client
}

func NewJudge(client *Client) *Judge {
	return &Judge{client: client}
}

type qualityPayload struct {
	QualityScore   *float64 `json:"quality_score"`
	CoverageScore  *float64 `json:"coverage_score"`
	RelevanceScore *float64 `json:"relevance_score"`
	Verdict        string   `json:"verdict"`
	Issues         []string `json:"issues"`
}

func (j *Judge) JudgeQuality(ctx context.Context, query string, candidates []domain.Candidate) (domain.QualityReport, error) {
	raw, err := j.client.generateJSON(ctx, buildQualityPrompt(query, candidates))
	if err != nil {
		return domain.QualityReport{}, err
	}

	var payload qualityPayload
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return domain.QualityReport{}, domain.WrapError(domain.ErrSchemaViolation, "parse quality json", err)
	}
	if err := validateQuality(payload); err != nil {
		return domain.QualityReport{}, domain.WrapError(domain.ErrSchemaViolation, "validate quality", err)
	}

	return domain.QualityReport{
		QualityScore:   *payload.QualityScore,
		CoverageScore:  *payload.CoverageScore,
		RelevanceScore: *payload.RelevanceScore,
		Verdict:        domain.QualityVerdict(payload.Verdict),
		Issues:         payload.Issues,
	}, nil
}

func validateQuality(payload qualityPayload) error {
	for name, score := range map[string]*float64{
		"quality_score":   payload.QualityScore,
		"coverage_score":  payload.CoverageScore,
		"relevance_score": payload.RelevanceScore,
	} {
		if score == nil {
			return fmt.Errorf("%s is missing", name)
		}
		if *score < 0 || *score > 1 {
			return fmt.Errorf("%s %v out of range", name, *score)
		}
	}
	if !domain.ValidVerdict(domain.QualityVerdict(payload.Verdict)) {
		return fmt.Errorf("unknown verdict %q", payload.Verdict)
	}
	return nil
}

// Synthesizer implements ports.AnswerSynthesizer.
type Synthesizer struct {
	client *Client
}

func NewSynthesizer(client *Client) *Synthesizer {
	return &Synthesizer{client: client}
}

type answerPayload struct {
	Text         string   `json:"text"`
	Confidence   float64  `json:"confidence"`
	SourcesCited []string `json:"sources_cited"`
	Limitations  string   `json:"limitations"`
}

func (s *Synthesizer) Synthesize(ctx context.Context, query string, candidates []domain.Candidate, report domain.QualityReport) (domain.FinalResponse, error) {
	raw, err := s.client.generateJSON(ctx, buildAnswerPrompt(query, candidates, report))
	if err != nil {
		return domain.FinalResponse{}, err
	}

	var payload answerPayload
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return domain.FinalResponse{}, domain.WrapError(domain.ErrSchemaViolation, "parse answer json", err)
	}
	if strings.TrimSpace(payload.Text) == "" {
		return domain.FinalResponse{}, domain.WrapError(domain.ErrSchemaViolation, "validate answer", fmt.Errorf("text is empty"))
	}

	return domain.FinalResponse{
		Text:         strings.TrimSpace(payload.Text),
		Confidence:   payload.Confidence,
		SourcesCited: knownSourceIDs(payload.SourcesCited, candidates),
		Limitations:  strings.TrimSpace(payload.Limitations),
	}, nil
}

// knownSourceIDs keeps only citations that point at supplied candidates, so
// the model cannot cite evidence it was never given.
func knownSourceIDs(cited []string, candidates []domain.Candidate) []string {
	known := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		known[candidate.ID] = struct{}{}
	}

	out := make([]string, 0, len(cited))
	seen := make(map[string]struct{}, len(cited))
	for _, id := range cited {
		id = strings.TrimSpace(id)
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Embedder builds query vectors for the search backend adapter.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
