// Package command implements the control plane command channels.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"icc.tech/webcapture-agent/internal/capture"
	"icc.tech/webcapture-agent/internal/metrics"
	"icc.tech/webcapture-agent/internal/worker"
)

// Dispatcher is the part of the worker pool the command handler needs.
type Dispatcher interface {
	Enqueue(t capture.Task) error
	Running() bool
	Status() worker.PoolStatus
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	pool         Dispatcher
	shutdownFunc func() // Called by daemon.shutdown to trigger graceful stop
	startTime    int64  // Unix timestamp of daemon start for uptime calc
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(pool Dispatcher) *CommandHandler {
	return &CommandHandler{
		pool:      pool,
		startTime: time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon.shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g. "capture.submit"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeUnavailable    = -32003 // No healthy workers / pool not running
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "capture.submit":
		return h.handleSubmit(ctx, cmd)
	case "daemon.status":
		return h.handleStatus(ctx, cmd)
	case "daemon.shutdown":
		return h.handleShutdown(ctx, cmd)
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}

// SubmitParams is the wire format of a capture submission.
type SubmitParams struct {
	URL           string        `json:"url"`
	Labels        []string      `json:"labels,omitempty"`
	CorrelationID string        `json:"correlationId,omitempty"`
	Options       OptionsParams `json:"captureOptions"`
}

// OptionsParams selects which artifacts the capture produces.
type OptionsParams struct {
	PNG  bool `json:"png"`
	JPEG bool `json:"jpeg"`
	HTML bool `json:"html"`
}

// SubmitAck is the acknowledgement for a capture submission. A rejected
// submission carries accepted=false, an empty taskId and the reason.
type SubmitAck struct {
	Accepted      bool   `json:"accepted"`
	TaskID        string `json:"taskId"`
	CorrelationID string `json:"correlationId,omitempty"`
	Error         string `json:"error,omitempty"`
}

// handleSubmit validates a submission and enqueues the task. Validation
// failures are answered in-band; only pool unavailability is a transport
// error.
func (h *CommandHandler) handleSubmit(_ context.Context, cmd Command) Response {
	var params SubmitParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("invalid params: %v", err),
			},
		}
	}

	ack, unavailable := h.submit(params)
	if unavailable {
		metrics.SubmissionsTotal.WithLabelValues("unavailable").Inc()
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeUnavailable,
				Message: "No healthy workers available",
			},
		}
	}
	if ack.Accepted {
		metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	} else {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
	}
	return Response{ID: cmd.ID, Result: ack}
}

// submit applies the validation sequence. First failure wins; the
// unavailability check runs only after the request itself proved valid.
func (h *CommandHandler) submit(params SubmitParams) (SubmitAck, bool) {
	reject := func(msg string) (SubmitAck, bool) {
		return SubmitAck{Accepted: false, TaskID: "", Error: msg}, false
	}

	url := strings.TrimSpace(params.URL)
	if url == "" {
		return reject("url is required")
	}

	var labels []string
	for _, l := range params.Labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if err := capture.ValidateFilenameFragment(l); err != nil {
			return reject(err.Error())
		}
		labels = append(labels, l)
	}

	if params.CorrelationID != "" {
		if err := capture.ValidateFilenameFragment(params.CorrelationID); err != nil {
			return reject(err.Error())
		}
	}

	opts := capture.Options{PNG: params.Options.PNG, JPEG: params.Options.JPEG, HTML: params.Options.HTML}
	if err := opts.Validate(); err != nil {
		return reject(err.Error())
	}

	if !h.pool.Running() || h.pool.Status().HealthyWorkers == 0 {
		return SubmitAck{}, true
	}

	task := capture.Task{
		TaskID:        uuid.New().String(),
		URL:           url,
		Labels:        labels,
		CorrelationID: params.CorrelationID,
		Options:       opts,
	}
	if err := h.pool.Enqueue(task); err != nil {
		return reject(err.Error())
	}

	slog.Info("capture submitted",
		"task_id", task.TaskID, "url", task.URL, "correlation_id", task.CorrelationID)
	return SubmitAck{
		Accepted:      true,
		TaskID:        task.TaskID,
		CorrelationID: params.CorrelationID,
	}, false
}

// StatusResult is the wire format of the daemon status query.
type StatusResult struct {
	Pending        int                `json:"pending"`
	Processing     int                `json:"processing"`
	Completed      int                `json:"completed"`
	HealthyWorkers int                `json:"healthyWorkers"`
	TotalWorkers   int                `json:"totalWorkers"`
	IsRunning      bool               `json:"isRunning"`
	UptimeSec      int64              `json:"uptimeSec"`
	Workers        []WorkerStatusWire `json:"workers"`
}

// WorkerStatusWire is one worker's status on the wire.
type WorkerStatusWire struct {
	ID              string            `json:"id"`
	BrowserEndpoint string            `json:"browserEndpoint"`
	Status          string            `json:"status"`
	ProcessedCount  int               `json:"processedCount"`
	ErrorCount      int               `json:"errorCount"`
	ErrorHistory    []ErrorRecordWire `json:"errorHistory"`
}

// ErrorRecordWire is one recorded worker error on the wire.
type ErrorRecordWire struct {
	Error     *capture.ErrorDetails `json:"errorDetails"`
	Timestamp time.Time             `json:"timestamp"`
	Task      *TaskRefWire          `json:"task,omitempty"`
}

// TaskRefWire identifies the task an error record belongs to.
type TaskRefWire struct {
	TaskID string   `json:"taskId"`
	URL    string   `json:"url"`
	Labels []string `json:"labels,omitempty"`
}

// handleStatus assembles the aggregate daemon status.
func (h *CommandHandler) handleStatus(_ context.Context, cmd Command) Response {
	st := h.pool.Status()

	result := StatusResult{
		Pending:        st.Queue.Pending,
		Processing:     st.Queue.Processing,
		Completed:      st.Queue.Completed,
		HealthyWorkers: st.HealthyWorkers,
		TotalWorkers:   st.TotalWorkers,
		IsRunning:      st.Running,
		UptimeSec:      time.Now().Unix() - h.startTime,
		Workers:        make([]WorkerStatusWire, 0, len(st.Workers)),
	}
	for _, w := range st.Workers {
		ws := WorkerStatusWire{
			ID:              w.ID,
			BrowserEndpoint: w.BrowserEndpoint,
			Status:          string(w.Status),
			ProcessedCount:  w.ProcessedCount,
			ErrorCount:      w.ErrorCount,
			ErrorHistory:    make([]ErrorRecordWire, 0, len(w.ErrorHistory)),
		}
		for _, rec := range w.ErrorHistory {
			wire := ErrorRecordWire{Error: rec.Error, Timestamp: rec.Timestamp}
			if rec.Task != nil {
				wire.Task = &TaskRefWire{
					TaskID: rec.Task.TaskID,
					URL:    rec.Task.URL,
					Labels: rec.Task.Labels,
				}
			}
			ws.ErrorHistory = append(ws.ErrorHistory, wire)
		}
		result.Workers = append(result.Workers, ws)
	}

	return Response{ID: cmd.ID, Result: result}
}

// handleShutdown triggers graceful daemon shutdown via the registered
// callback.
func (h *CommandHandler) handleShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: "shutdown handler not registered",
			},
		}
	}

	slog.Info("daemon.shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}
