// Package jobs defines the request/response types and Kafka message schemas
// of the top-phrases job service: a job names an input file on the worker's
// filesystem, the worker runs the pipeline over it, and the ordered top-K
// list is stored with the job.
package jobs

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
)

// Status is a job's lifecycle state. DONE and FAILED are terminal.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether a job in status s will never change again.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// SubmitRequest is the JSON body accepted by POST /api/v1/jobs. Zero TopK
// and empty Delimiter fall back to the pipeline configuration.
type SubmitRequest struct {
	InputPath string `json:"input_path"`
	TopK      int    `json:"top_k,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
}

// SubmitResponse is returned once a job is accepted.
type SubmitResponse struct {
	JobID  int64  `json:"job_id"`
	Status Status `json:"status"`
}

// JobRequest is the Kafka message that hands a job to a worker.
type JobRequest struct {
	JobID       int64     `json:"job_id"`
	InputPath   string    `json:"input_path"`
	TopK        int       `json:"top_k"`
	Delimiter   string    `json:"delimiter"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Job is the stored state of one job.
type Job struct {
	ID         int64          `json:"job_id"`
	InputPath  string         `json:"input_path"`
	TopK       int            `json:"top_k"`
	Delimiter  string         `json:"delimiter"`
	Status     Status         `json:"status"`
	Attempts   int            `json:"attempts"`
	Result     []phrase.Count `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorStage string         `json:"error_stage,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// JobEvent is published to the events topic when a job reaches a terminal
// status. For DONE jobs it carries the ordered result.
type JobEvent struct {
	JobID           int64          `json:"job_id"`
	Status          Status         `json:"status"`
	Phrases         []phrase.Count `json:"phrases,omitempty"`
	Records         int64          `json:"records"`
	DistinctPhrases uint64         `json:"distinct_phrases,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorStage      string         `json:"error_stage,omitempty"`
	FinishedAt      time.Time      `json:"finished_at"`
}
