package models

import "time"

type ResultStatus string

const (
	ResultStatusDone    ResultStatus = "done"
	ResultStatusRetry   ResultStatus = "retry"
	ResultStatusBlocked ResultStatus = "blocked"
)

// StepResult records one step outcome: a step completion, or a reported
// failure (status retry). Successfully completed story iterations inside
// a loop do not append results; the loop step's own result does when
// the loop finishes.
type StepResult struct {
	ID          int64
	RunID       int64
	StepDefID   string
	AgentID     string
	Output      string
	Status      ResultStatus
	CompletedAt time.Time
}
