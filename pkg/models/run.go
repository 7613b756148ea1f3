package models

import "time"

// RunState is a step of the report orchestration state machine.
type RunState string

const (
	StateIdle                  RunState = "idle"
	StateConvertingImage       RunState = "converting_image"
	StateAwaitingAnalysis      RunState = "awaiting_analysis"
	StateAwaitingVisualization RunState = "awaiting_visualization"
	StateReady                 RunState = "ready"
	StateErrored               RunState = "errored"
)

// Terminal reports whether no further transitions follow s.
func (s RunState) Terminal() bool {
	return s == StateReady || s == StateErrored
}

// RunEvent is emitted on every state transition of a run.
type RunEvent struct {
	RunID   string    `json:"run_id"`
	State   RunState  `json:"state"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
