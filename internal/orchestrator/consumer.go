package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/event"
	"github.com/emperorhan/aggregation-orchestrator/internal/metrics"
	"github.com/emperorhan/aggregation-orchestrator/internal/retry"
	redisstore "github.com/emperorhan/aggregation-orchestrator/internal/store/redis"
)

const (
	DefaultOutcomeStream = "integration.outcome"
	DefaultCheckpointKey = "outcome-consumer"
)

type ConsumerConfig struct {
	Stream        string
	CheckpointKey string
	// Retry bounds in-place retries of one report before the message is
	// re-read after Backoff.
	Retry   retry.Policy
	Backoff time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Stream == "" {
		c.Stream = DefaultOutcomeStream
	}
	if c.CheckpointKey == "" {
		c.CheckpointKey = DefaultCheckpointKey
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	return c
}

// Consumer feeds outcome reports from the outcome stream into the tracker.
// The checkpoint only advances past a message once it was applied or
// rejected as invalid, so a crash replays at most one report, which the
// tracker treats as a duplicate.
type Consumer struct {
	transport redisstore.MessageTransport
	reporter  OutcomeReporter
	cfg       ConsumerConfig
	logger    *slog.Logger
}

func NewConsumer(transport redisstore.MessageTransport, reporter OutcomeReporter, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	return &Consumer{
		transport: transport,
		reporter:  reporter,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "outcome_consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	lastID := c.loadCheckpoint(ctx)
	c.logger.Info("outcome consumer started", "stream", c.cfg.Stream, "from", lastID)

	for {
		var report event.OutcomeReport
		id, err := c.transport.Read(ctx, c.cfg.Stream, lastID, &report)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("outcome consumer stopping")
				return ctx.Err()
			}
			if id == "" {
				metrics.ConsumerErrors.WithLabelValues("read").Inc()
				c.logger.Warn("outcome stream read failed", "stream", c.cfg.Stream, "error", err)
				if !c.sleep(ctx) {
					return ctx.Err()
				}
				continue
			}
			metrics.ConsumerErrors.WithLabelValues("decode").Inc()
			c.logger.Warn("skipping undecodable outcome message", "id", id, "error", err)
			lastID = id
			c.storeCheckpoint(ctx, id)
			continue
		}

		if err := c.handle(ctx, report); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if retry.IsTransient(err) {
				metrics.ConsumerErrors.WithLabelValues("transient").Inc()
				c.logger.Warn("outcome report deferred", "id", id, "job_id", report.JobID, "error", err)
				if !c.sleep(ctx) {
					return ctx.Err()
				}
				continue
			}
			metrics.ConsumerErrors.WithLabelValues("rejected").Inc()
			c.logger.Warn("outcome report rejected", "id", id, "job_id", report.JobID, "error", err)
		} else {
			metrics.ConsumerMessagesProcessed.Inc()
		}

		lastID = id
		c.storeCheckpoint(ctx, id)
	}
}

func (c *Consumer) handle(ctx context.Context, report event.OutcomeReport) error {
	return retry.Do(ctx, c.cfg.Retry, func(int) error {
		return c.reporter.ReportOutcome(ctx, report)
	})
}

func (c *Consumer) loadCheckpoint(ctx context.Context) string {
	raw, err := c.transport.LoadStreamCheckpoint(ctx, c.cfg.CheckpointKey)
	if err != nil {
		c.logger.Warn("checkpoint load failed; reading from stream start", "key", c.cfg.CheckpointKey, "error", err)
		return "0"
	}
	if raw == "" {
		return "0"
	}
	return raw
}

func (c *Consumer) storeCheckpoint(ctx context.Context, id string) {
	if err := c.transport.PersistStreamCheckpoint(ctx, c.cfg.CheckpointKey, id); err != nil && ctx.Err() == nil {
		c.logger.Warn("checkpoint persist failed", "key", c.cfg.CheckpointKey, "id", id, "error", err)
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
