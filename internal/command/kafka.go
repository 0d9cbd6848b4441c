package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"icc.tech/webcapture-agent/internal/config"
)

// SubmissionEnvelope is the wire format for submissions received via Kafka.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "node-01",
//	  "command":    "capture_submit",
//	  "timestamp":  "2026-08-25T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { "url": "https://example.com", ... }
//	}
type SubmissionEnvelope struct {
	Version   string          `json:"version"`    // Protocol version ("v1")
	Target    string          `json:"target"`     // Node hostname or "*" for broadcast
	Command   string          `json:"command"`    // Only "capture_submit" is recognised
	Timestamp time.Time       `json:"timestamp"`  // When the submission was issued
	RequestID string          `json:"request_id"` // Unique request ID for tracing
	Payload   json.RawMessage `json:"payload"`    // SubmitParams
}

// SubmissionConsumer consumes capture submissions from Kafka and feeds them
// to the command handler. Fire-and-forget: there is no reply topic, so
// rejections only surface in the log.
type SubmissionConsumer struct {
	cfg      config.SubmissionChannelConfig
	hostname string // local node hostname for target matching
	reader   *kafka.Reader
	handler  *CommandHandler
	ttl      time.Duration // stale-submission rejection window
}

// NewSubmissionConsumer creates a Kafka consumer for the submission channel.
func NewSubmissionConsumer(cfg config.SubmissionChannelConfig, hostname string, handler *CommandHandler) (*SubmissionConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	ttl := 5 * time.Minute
	if cfg.CommandTTL != "" {
		var err error
		ttl, err = time.ParseDuration(cfg.CommandTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid command_ttl %q: %w", cfg.CommandTTL, err)
		}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        1 * time.Second,
	})

	return &SubmissionConsumer{
		cfg:      cfg,
		hostname: hostname,
		reader:   reader,
		handler:  handler,
		ttl:      ttl,
	}, nil
}

// Start starts consuming submissions from Kafka.
// Blocks until context is cancelled or an unrecoverable error occurs.
func (c *SubmissionConsumer) Start(ctx context.Context) error {
	slog.Info("kafka submission consumer started",
		"brokers", c.cfg.Brokers,
		"topic", c.cfg.Topic,
		"group_id", c.cfg.GroupID,
		"hostname", c.hostname,
		"ttl", c.ttl,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("kafka submission consumer stopped", "reason", ctx.Err())
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return err
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process submission",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

// processMessage handles a single Kafka message as a SubmissionEnvelope.
func (c *SubmissionConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var env SubmissionEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return fmt.Errorf("failed to parse submission envelope: %w", err)
	}

	// Target filter: skip if not for this node and not broadcast.
	if env.Target != "*" && env.Target != "" && env.Target != c.hostname {
		slog.Debug("skipping submission not targeting this node",
			"target", env.Target,
			"hostname", c.hostname,
			"request_id", env.RequestID,
		)
		return nil
	}

	// Stale submission check: drop envelopes older than TTL.
	if !env.Timestamp.IsZero() && time.Since(env.Timestamp) > c.ttl {
		slog.Warn("skipping stale submission",
			"request_id", env.RequestID,
			"timestamp", env.Timestamp,
			"age", time.Since(env.Timestamp),
			"ttl", c.ttl,
		)
		return nil
	}

	if env.Command != "capture_submit" {
		return fmt.Errorf("unsupported command %q", env.Command)
	}

	slog.Info("received kafka submission",
		"request_id", env.RequestID,
		"target", env.Target,
		"version", env.Version,
	)

	cmd := Command{
		Method: "capture.submit",
		Params: env.Payload,
		ID:     env.RequestID,
	}

	response := c.handler.Handle(ctx, cmd)
	if response.Error != nil {
		return fmt.Errorf("submission failed: %s", response.Error.Message)
	}
	if ack, ok := response.Result.(SubmitAck); ok && !ack.Accepted {
		slog.Warn("kafka submission rejected",
			"request_id", env.RequestID, "reason", ack.Error)
		return nil
	}

	slog.Info("kafka submission accepted", "request_id", env.RequestID)
	return nil
}

// Stop stops the Kafka consumer and closes the connection.
// Always nils the reader to prevent double-close, even if Close() fails.
func (c *SubmissionConsumer) Stop() error {
	if c.reader == nil {
		return nil
	}
	reader := c.reader
	c.reader = nil
	slog.Info("closing kafka submission consumer")
	if err := reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
