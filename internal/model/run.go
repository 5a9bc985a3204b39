package model

import "time"

// RunStatus enumerates the lifecycle of one site validation run.
type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	// RunSkipped means the site had nothing to process.
	RunSkipped RunStatus = "skipped"
	RunFailed  RunStatus = "failed"
)

// RunOutcome is recorded when a site run ends.
type RunOutcome struct {
	Status        RunStatus
	Folder        string
	ErrorOccurred bool
	Message       string
}

// Run is one row of the submission run log.
type Run struct {
	ID            string     `json:"id"`
	HPOID         string     `json:"hpo_id"`
	Folder        *string    `json:"folder,omitempty"`
	Status        RunStatus  `json:"status"`
	ErrorOccurred bool       `json:"error_occurred"`
	Message       *string    `json:"message,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}
