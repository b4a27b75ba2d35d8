package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/alert"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/event"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/metrics"
	"github.com/emperorhan/aggregation-orchestrator/internal/orchestrator"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	cronlib "github.com/robfig/cron/v3"
)

const (
	DefaultSchedule      = "@every 15s"
	DefaultComboDeadline = 2 * time.Minute
	DefaultBatchSize     = 100

	comboTimeoutError = "no outcome reported before deadline"
)

// cronParser supports standard 5-field cron and descriptors like "@every 15s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a reaper schedule expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// JobIndex is the store surface the reaper reads.
type JobIndex interface {
	store.RunningIndex
	GetMeta(ctx context.Context, jobID string) (*model.JobMeta, error)
	ListPending(ctx context.Context, jobID string) ([]string, error)
}

// Tracker applies the reaper's decisions.
type Tracker interface {
	ReportOutcome(ctx context.Context, report event.OutcomeReport) error
	MarkTimedOut(ctx context.Context, jobID string) (bool, error)
	Finalize(ctx context.Context, jobID string) (bool, error)
}

type Config struct {
	Schedule string
	// ComboDeadline is the age after which a job's pending combos are
	// reported as Timeout.
	ComboDeadline time.Duration
	// JobDeadline is the age after which a job still running is marked
	// TimedOut wholesale. Zero disables it.
	JobDeadline time.Duration
	BatchSize   int
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.ComboDeadline <= 0 {
		c.ComboDeadline = DefaultComboDeadline
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned        int
	CombosTimedOut int
	JobsTimedOut   int
	JobsFinalized  int
	Forgotten      int
}

// Reaper is the external liveness sweeper: combos that never report become
// Timeout outcomes and jobs that outlive their deadline become TimedOut.
type Reaper struct {
	index    JobIndex
	tracker  Tracker
	cfg      Config
	schedule cronlib.Schedule
	alerter  alert.Alerter
	logger   *slog.Logger
	nowFn    func() time.Time
}

type Option func(*Reaper)

// WithAlerter reports sweeps that time out whole jobs.
func WithAlerter(a alert.Alerter) Option {
	return func(r *Reaper) { r.alerter = a }
}

func New(index JobIndex, tracker Tracker, cfg Config, logger *slog.Logger, opts ...Option) (*Reaper, error) {
	cfg = cfg.withDefaults()
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse reaper schedule %q: %w", cfg.Schedule, err)
	}
	r := &Reaper{
		index:    index,
		tracker:  tracker,
		cfg:      cfg,
		schedule: schedule,
		logger:   logger.With("component", "reaper"),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run sweeps on the configured schedule until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started",
		"schedule", r.cfg.Schedule,
		"combo_deadline", r.cfg.ComboDeadline,
		"job_deadline", r.cfg.JobDeadline,
	)
	for {
		now := r.nowFn()
		timer := time.NewTimer(r.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("reaper stopping")
			return ctx.Err()
		case <-timer.C:
		}

		res, err := r.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("reaper sweep failed", "error", err)
			continue
		}
		if res.CombosTimedOut+res.JobsTimedOut+res.JobsFinalized > 0 {
			r.logger.Info("reaper sweep",
				"scanned", res.Scanned,
				"combos_timed_out", res.CombosTimedOut,
				"jobs_timed_out", res.JobsTimedOut,
				"jobs_finalized", res.JobsFinalized,
			)
		}
	}
}

// Sweep makes one pass over running jobs older than the combo deadline.
// Per-job failures are logged and skipped; only an index read failure
// aborts the sweep.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	metrics.ReaperSweeps.Inc()
	now := r.nowFn()

	ids, err := r.index.ListRunning(ctx, now.Add(-r.cfg.ComboDeadline), r.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list running jobs: %w", err)
	}
	metrics.ReaperRunningJobs.Set(float64(len(ids)))

	var (
		res   = SweepResult{Scanned: len(ids)}
		stale []string
	)
	for _, jobID := range ids {
		forget, err := r.reapJob(ctx, jobID, now, &res)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.logger.Warn("failed to reap job", "job_id", jobID, "error", err)
			continue
		}
		if forget {
			stale = append(stale, jobID)
		}
	}

	if len(stale) > 0 {
		if err := r.index.ForgetRunning(ctx, stale...); err != nil {
			return res, fmt.Errorf("forget reaped jobs: %w", err)
		}
		res.Forgotten = len(stale)
	}
	r.alertTimedOut(ctx, res)
	return res, nil
}

func (r *Reaper) alertTimedOut(ctx context.Context, res SweepResult) {
	if r.alerter == nil || res.JobsTimedOut == 0 {
		return
	}
	err := r.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeJobsTimedOut,
		Subject: "reaper",
		Title:   "Aggregation jobs timed out",
		Message: fmt.Sprintf("%d jobs passed the deadline of %s with combos still pending", res.JobsTimedOut, r.cfg.JobDeadline),
		Fields: map[string]string{
			"jobs_timed_out":   strconv.Itoa(res.JobsTimedOut),
			"combos_timed_out": strconv.Itoa(res.CombosTimedOut),
			"scanned":          strconv.Itoa(res.Scanned),
		},
	})
	if err != nil {
		r.logger.Warn("failed to send timeout alert", "error", err)
	}
}

// reapJob reports whether jobID should leave the running index.
func (r *Reaper) reapJob(ctx context.Context, jobID string, now time.Time, res *SweepResult) (bool, error) {
	meta, err := r.index.GetMeta(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if meta.Status != model.JobStatusRunning || meta.FinalEmitted {
		return true, nil
	}

	pending, err := r.index.ListPending(ctx, jobID)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		// Every combo reported but nobody finalized.
		if meta.ProcessedCount() >= meta.ExpectedTotal {
			emitted, err := r.tracker.Finalize(ctx, jobID)
			if errors.Is(err, orchestrator.ErrNotFound) {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			if emitted {
				res.JobsFinalized++
			}
			return true, nil
		}
		// Pending was never written: creation failed half-way and the job
		// id was never handed out. Its keys expire with the TTL.
		r.logger.Warn("dropping incompletely created job", "job_id", jobID)
		return true, nil
	}

	if r.cfg.JobDeadline > 0 && now.Sub(meta.CreatedAt) >= r.cfg.JobDeadline {
		marked, err := r.tracker.MarkTimedOut(ctx, jobID)
		if errors.Is(err, orchestrator.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if marked {
			res.JobsTimedOut++
			metrics.ReaperJobsTimedOut.Inc()
		}
		return true, nil
	}

	for _, key := range pending {
		combo, err := model.ParseComboKey(key)
		if err != nil {
			r.logger.Warn("skipping malformed pending entry", "job_id", jobID, "combo", key, "error", err)
			continue
		}
		err = r.tracker.ReportOutcome(ctx, event.OutcomeReport{
			JobID:    jobID,
			Provider: combo.Provider,
			Chain:    combo.Chain.String(),
			Account:  combo.Account,
			Outcome:  model.OutcomeTimeout,
			Error:    comboTimeoutError,
		})
		if err != nil {
			return false, fmt.Errorf("time out combo %s: %w", key, err)
		}
		res.CombosTimedOut++
		metrics.ReaperCombosTimedOut.Inc()
	}
	return false, nil
}
