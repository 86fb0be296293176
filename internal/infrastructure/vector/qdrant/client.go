package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// Embedder builds a query vector for semantic search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Client implements ports.SearchBackend on top of a qdrant collection: it
// embeds the query text and runs a scored vector search.
type Client struct {
	baseURL    string
	collection string
	embedder   Embedder
	httpClient *http.Client
}

func New(baseURL, collection string, embedder Embedder) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error) {
	if limit <= 0 {
		limit = 10
	}

	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, formatHTTPError("search", resp)
	}

	var response struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(response.Result))
	for _, hit := range response.Result {
		candidates = append(candidates, domain.Candidate{
			ID:            fmt.Sprint(hit.ID),
			Content:       payloadString(hit.Payload, "text"),
			Source:        payloadSource(hit.Payload),
			BaseRelevance: clampScore(hit.Score),
		})
	}
	return candidates, nil
}

func payloadSource(payload map[string]any) domain.SourceInfo {
	return domain.SourceInfo{
		Title:  payloadString(payload, "title"),
		Origin: payloadString(payload, "origin"),
	}
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return fmt.Sprint(value)
	}
	return text
}

// clampScore squeezes qdrant similarity scores into the [0,1] base relevance
// the ranking stage expects.
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func formatHTTPError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}
	return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
}
