// Package capture defines the domain model for web page capture tasks and
// their outcomes.
package capture

import (
	"fmt"
	"time"
)

// Options selects which artifacts a capture produces.
type Options struct {
	PNG  bool `json:"png"`
	JPEG bool `json:"jpeg"`
	HTML bool `json:"html"`
}

// Validate checks that at least one artifact format is requested.
func (o Options) Validate() error {
	if !o.PNG && !o.JPEG && !o.HTML {
		return fmt.Errorf("at least one capture format (png, jpeg, html) must be enabled")
	}
	return nil
}

// Task is a server-side record of one pending capture.
// Labels and CorrelationID are pre-validated as filename fragments by the
// submission path; the queue and workers never re-validate them.
type Task struct {
	TaskID        string   `json:"task_id"`
	URL           string   `json:"url"`
	Labels        []string `json:"labels,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Options       Options  `json:"capture_options"`
	RetryCount    int      `json:"retry_count"`
}

// Status classifies the outcome of one capture attempt.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusHTTPError Status = "http_error"
	StatusTimeout   Status = "timeout"
	StatusFailed    Status = "failed"
)

// Result is the materialized outcome of one capture attempt.
// Status == StatusSuccess implies Error is nil and, for each requested
// artifact format, the corresponding path is set.
type Result struct {
	Task             Task
	Status           Status
	HTTPStatusCode   int
	Error            *ErrorDetails
	PNGPath          string
	JPEGPath         string
	HTMLPath         string
	ProcessingTimeMs int64
	Timestamp        time.Time
	WorkerID         string
}

// TaskRef is the subset of task identity attached to worker error records.
type TaskRef struct {
	TaskID string   `json:"task_id"`
	URL    string   `json:"url"`
	Labels []string `json:"labels,omitempty"`
}

// ErrorRecord is one entry in a worker's bounded error history.
type ErrorRecord struct {
	Error     *ErrorDetails `json:"error"`
	Timestamp time.Time     `json:"timestamp"`
	Task      *TaskRef      `json:"task,omitempty"`
}
