package models

import "time"

// Run status values recorded in the ledger.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Failure reasons for items that produced no embedding.
const (
	FailureReasonStatus = "status"
	FailureReasonDecode = "decode"
	FailureReasonFetch  = "fetch"
)

// Run is one execution of the batch embedding pipeline.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Embedded   int        `json:"embedded"`
	Failed     int        `json:"failed"`
	StorePath  string     `json:"store_path"`
	Error      string     `json:"error,omitempty"`
}

// Failure is a catalog item that was marked missing during a run.
type Failure struct {
	RunID      string `json:"run_id"`
	ArtworkID  int64  `json:"artwork_id"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail,omitempty"`
}
