package domain

type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusTimeout RunStatus = "timeout"
	StatusError   RunStatus = "error"
)

// Result is the only shape Execute ever returns. Callers always get enough
// state to diagnose where the run stopped.
type Result struct {
	Status          RunStatus  `json:"status"`
	RunID           string     `json:"run_id"`
	Response        string     `json:"response,omitempty"`
	Confidence      float64    `json:"confidence,omitempty"`
	SourcesCited    []string   `json:"sources_cited,omitempty"`
	Limitations     string     `json:"limitations,omitempty"`
	Stage           Stage      `json:"stage,omitempty"`
	Message         string     `json:"message,omitempty"`
	StagesCompleted []Stage    `json:"stages_completed"`
	Metrics         RunMetrics `json:"metrics"`
}
