package models

import "time"

// Operation names a remote call made during a run.
type Operation string

const (
	OperationAnalysis      Operation = "analysis"
	OperationVisualization Operation = "visualization"
)

// DispatchRecord tracks a single remote call attempt.
type DispatchRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Operation  Operation `json:"operation"`
	Model      string    `json:"model"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunRecord is the final outcome of one orchestration run.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	ContentHash string    `json:"content_hash"`
	State       RunState  `json:"state"`
	CacheHit    bool      `json:"cache_hit"`
	Fallback    bool      `json:"fallback"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// DispatchSummary aggregates dispatch attempts.
type DispatchSummary struct {
	Operation    Operation `json:"operation"`
	Outcome      string    `json:"outcome"`
	Count        int       `json:"count"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
}
