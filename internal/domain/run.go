package domain

import (
	"fmt"
	"time"
)

// RunStatus is the outcome of a collection run as published to readers
type RunStatus struct {
	Date    time.Time `json:"Date"`
	Error   bool      `json:"Error"`
	Message string    `json:"Message"`
}

// NewSuccessStatus creates the status of a run that processed count projects
func NewSuccessStatus(now time.Time, count int) *RunStatus {
	return &RunStatus{
		Date:    now,
		Message: fmt.Sprintf("%d Projects processed.", count),
	}
}

// NewFailureStatus creates the status of a run that aborted
func NewFailureStatus(now time.Time, message string) *RunStatus {
	return &RunStatus{
		Date:    now,
		Error:   true,
		Message: message,
	}
}

// RunState is the lifecycle state of a collection run
type RunState string

const (
	RunStateInProgress RunState = "in_progress"
	RunStateCompleted  RunState = "completed"
	RunStateFailed     RunState = "failed"
)

// CollectionRun records one execution of the collector in the run ledger
type CollectionRun struct {
	ID           string     `json:"id"`
	BaseURI      string     `json:"base_uri"`
	State        RunState   `json:"state"`
	Message      string     `json:"message"`
	ProjectCount int        `json:"project_count"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
