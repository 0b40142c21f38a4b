package usage

import "time"

// Action names recorded by the interpreter.
const (
	ActionTurn    = "turn"
	ActionErrored = "errored"
)

// ActionStats summarises one action.
type ActionStats struct {
	Action      string        `json:"action"`
	Count       int64         `json:"count"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// Add accumulates a call.
func (tc *TokenCounts) Add(input, output int) {
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
}

// Statistics is the aggregate view of the usage database.
type Statistics struct {
	Actions []ActionStats          `json:"actions"`
	ByModel map[string]TokenCounts `json:"by_model"`
	Total   TokenCounts            `json:"total"`
	Errors  int64                  `json:"errors"`
}
