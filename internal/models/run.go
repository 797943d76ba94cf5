package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusBlocked   RunStatus = "blocked"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCanceled  RunStatus = "canceled"
)

type Run struct {
	ID               int64
	WorkflowID       string
	Task             string
	LeadAgent        string
	SessionLabel     string
	Status           RunStatus
	CurrentStepIndex int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
