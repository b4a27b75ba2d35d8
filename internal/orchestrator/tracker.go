package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/event"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/identity"
	"github.com/emperorhan/aggregation-orchestrator/internal/metrics"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	"github.com/emperorhan/aggregation-orchestrator/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
)

const timeoutErrorText = "timeout"

// Tracker applies outcome reports to job state and emits each job's result
// exactly once, however many times and in whatever order reports arrive.
type Tracker struct {
	store  store.JobStateStore
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewTracker(st store.JobStateStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  st,
		logger: logger.With("component", "tracker"),
		nowFn:  time.Now,
	}
}

// ReportOutcome records one combo's outcome. Reports for expired jobs and
// duplicate reports are accepted and change nothing.
func (t *Tracker) ReportOutcome(ctx context.Context, report event.OutcomeReport) (err error) {
	start := t.nowFn()
	ctx, span := tracing.Tracer("tracker").Start(ctx, "tracker.ReportOutcome",
		otelTrace.WithAttributes(
			attribute.String("job_id", report.JobID),
			attribute.String("provider", report.Provider.String()),
			attribute.String("outcome", string(report.Outcome)),
		),
	)
	defer func() {
		tracing.EndSpan(span, err)
		metrics.TrackerReportLatency.Observe(time.Since(start).Seconds())
	}()

	write, err := t.buildWrite(ctx, report)
	if errors.Is(err, store.ErrJobNotFound) {
		t.expired(report)
		return nil
	}
	if err != nil {
		return err
	}

	res, err := t.store.AtomicReportOutcome(ctx, report.JobID, write)
	if errors.Is(err, store.ErrJobNotFound) {
		t.expired(report)
		return nil
	}
	if err != nil {
		return fmt.Errorf("report outcome for job %s: %w", report.JobID, err)
	}

	if res.Removed {
		metrics.TrackerOutcomesReported.WithLabelValues(string(report.Outcome)).Inc()
	} else {
		metrics.TrackerDuplicateReports.Inc()
		t.logger.Debug("duplicate outcome report",
			"job_id", report.JobID,
			"combo", write.ComboKey,
		)
	}

	if !res.NeedsFinalize() {
		return nil
	}
	_, err = t.Finalize(ctx, report.JobID)
	if errors.Is(err, ErrNotFound) {
		t.expired(report)
		return nil
	}
	return err
}

func (t *Tracker) expired(report event.OutcomeReport) {
	metrics.TrackerExpiredReports.Inc()
	t.logger.Info("outcome report for expired job ignored",
		"job_id", report.JobID,
		"provider", report.Provider,
		"chain", report.Chain,
	)
}

func (t *Tracker) buildWrite(ctx context.Context, report event.OutcomeReport) (store.OutcomeWrite, error) {
	if report.JobID == "" {
		return store.OutcomeWrite{}, invalidReport("job id is required")
	}
	if report.Provider == "" {
		return store.OutcomeWrite{}, invalidReport("provider is required")
	}
	if !report.Outcome.IsValid() {
		return store.OutcomeWrite{}, invalidReport("unknown outcome %q", report.Outcome)
	}
	chain, ok := model.ParseChain(report.Chain)
	if !ok {
		return store.OutcomeWrite{}, invalidReport("unknown chain %q", report.Chain)
	}

	var payload json.RawMessage
	if report.Outcome == model.OutcomeSuccess {
		payload = bytes.TrimSpace(report.Payload)
		if len(payload) > 0 && !json.Valid(payload) {
			return store.OutcomeWrite{}, invalidReport("payload for %s on %s is not valid JSON", report.Provider, chain)
		}
	}

	account := identity.CanonicalAccount(report.Account)
	if account == "" {
		// Single-account jobs may omit the account; fill it from the job.
		meta, err := t.store.GetMeta(ctx, report.JobID)
		if err != nil {
			return store.OutcomeWrite{}, err
		}
		if len(meta.Accounts) != 1 {
			return store.OutcomeWrite{}, invalidReport("account is required for job %s with %d accounts", report.JobID, len(meta.Accounts))
		}
		account = meta.Accounts[0]
	}

	combo := model.Combo{Provider: report.Provider, Chain: chain, Account: account}
	errText := report.Error
	if errText == "" && report.Outcome == model.OutcomeTimeout {
		errText = timeoutErrorText
	}
	return store.OutcomeWrite{
		ComboKey: combo.Key(),
		Outcome:  report.Outcome,
		Record: model.ProcessedRecord{
			Provider:   combo.Provider,
			Chain:      combo.Chain,
			Account:    combo.Account,
			Status:     model.RecordStatusFor(report.Outcome),
			Error:      errText,
			ReportedAt: t.nowFn().UTC(),
		},
		Payload: payload,
	}, nil
}

// Finalize assembles the job's items and flips final_emitted if the job is
// running with nothing pending. It reports whether this call emitted and
// returns ErrNotFound for unknown or expired jobs.
func (t *Tracker) Finalize(ctx context.Context, jobID string) (bool, error) {
	fragments, err := t.store.LoadFragments(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	items, err := assembleItems(fragments)
	if err != nil {
		return false, fmt.Errorf("finalize job %s: %w", jobID, err)
	}

	res, err := t.store.TryFinalize(ctx, jobID, items, t.nowFn().UTC())
	if errors.Is(err, store.ErrJobNotFound) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return res.Emitted, fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	if res.Emitted {
		metrics.TrackerJobsFinalized.WithLabelValues(string(res.Status)).Inc()
		t.logger.Info("job finalized",
			"job_id", jobID,
			"status", res.Status,
			"fragments", len(fragments),
		)
	}
	return res.Emitted, nil
}

// MarkTimedOut overwrites a still-running job's status with TimedOut.
// It returns ErrNotFound for expired jobs and false for terminal ones.
func (t *Tracker) MarkTimedOut(ctx context.Context, jobID string) (bool, error) {
	marked, err := t.store.MarkTimedOut(ctx, jobID, t.nowFn().UTC())
	if errors.Is(err, store.ErrJobNotFound) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return false, fmt.Errorf("mark job %s timed out: %w", jobID, err)
	}
	if marked {
		metrics.TrackerJobsFinalized.WithLabelValues(string(model.JobStatusTimedOut)).Inc()
		t.logger.Warn("job timed out", "job_id", jobID)
	}
	return marked, nil
}

// assembleItems merges success fragments in combo-key order. An array
// fragment contributes its elements; any other value contributes itself.
func assembleItems(fragments map[string]json.RawMessage) (json.RawMessage, error) {
	keys := make([]string, 0, len(fragments))
	for k := range fragments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		fragment := bytes.TrimSpace(fragments[k])
		if len(fragment) == 0 || bytes.Equal(fragment, []byte("null")) {
			continue
		}
		if fragment[0] != '[' {
			items = append(items, fragment)
			continue
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(fragment, &elems); err != nil {
			return nil, fmt.Errorf("decode fragment %s: %w", k, err)
		}
		items = append(items, elems...)
	}

	out, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	return out, nil
}
