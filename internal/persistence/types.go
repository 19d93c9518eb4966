package persistence

import (
	"time"
)

// BatchEntry is a cached translation of one batch.
type BatchEntry struct {
	Fingerprint    string
	Model          string
	SourceLanguage string
	TargetLanguage string
	Lines          []string
	Hits           int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunDegraded  RunStatus = "degraded"
	RunFailed    RunStatus = "failed"
)

// Run records one document translation.
type Run struct {
	ID             string
	InputPath      string
	OutputPath     string
	Status         RunStatus
	Mode           string
	TargetLanguage string
	Batches        int
	FailedBatches  int
	CachedBatches  int
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}
