package models

type StoryStatus string

const (
	StoryStatusPending StoryStatus = "pending"
	StoryStatusRunning StoryStatus = "running"
	StoryStatusDone    StoryStatus = "done"
	StoryStatusFailed  StoryStatus = "failed"
)

// Story is one unit of work inside a loop step. StoryID is the human
// label from the planner ("US-001"); ID is row identity.
type Story struct {
	ID                 int64
	RunID              int64
	StoryIndex         int
	StoryID            string
	Title              string
	Description        string
	AcceptanceCriteria []string
	Status             StoryStatus
	Output             string
	RetryCount         int
	MaxRetries         int
}
