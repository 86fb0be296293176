package httpadapter

import (
	"encoding/json"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
	"github.com/kirillkom/answer-pipeline/internal/core/ports"
	"github.com/kirillkom/answer-pipeline/internal/observability/metrics"
)

const serviceName = "answer-pipeline-api"

type Router struct {
	pipeline ports.AnswerService
	metrics  *metrics.PipelineMetrics
	limiter  *rate.Limiter
}

func NewRouter(pipeline ports.AnswerService, pipelineMetrics *metrics.PipelineMetrics, limiter *rate.Limiter) *Router {
	return &Router{
		pipeline: pipeline,
		metrics:  pipelineMetrics,
		limiter:  limiter,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/answer", rt.handleAnswer)
	mux.HandleFunc("GET /healthz", rt.handleHealth)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = rateLimitMiddleware(rt.limiter, handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

type answerRequest struct {
	Query             string  `json:"query"`
	MaxResults        int     `json:"max_results,omitempty"`
	QualityThreshold  float64 `json:"quality_threshold,omitempty"`
	EnableReRetrieval *bool   `json:"enable_re_retrieval,omitempty"`
}

func (rt *Router) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	opts := domain.DefaultRunOptions()
	if req.MaxResults > 0 {
		opts.MaxResults = req.MaxResults
	}
	if req.QualityThreshold > 0 && req.QualityThreshold <= 1 {
		opts.QualityThreshold = req.QualityThreshold
	}
	if req.EnableReRetrieval != nil {
		opts.EnableReRetrieval = *req.EnableReRetrieval
	}

	result := rt.pipeline.Execute(r.Context(), req.Query, opts)
	if rt.metrics != nil {
		rt.metrics.RecordRun(serviceName, result)
	}

	writeJSON(w, statusCodeFor(result.Status), result)
}

func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusCodeFor(status domain.RunStatus) int {
	switch status {
	case domain.StatusSuccess:
		return http.StatusOK
	case domain.StatusTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
