package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/metrics"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	"github.com/emperorhan/aggregation-orchestrator/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
)

// QueryService builds the read model polled by clients.
type QueryService struct {
	store  store.JobStateStore
	logger *slog.Logger
}

func NewQueryService(st store.JobStateStore, logger *slog.Logger) *QueryService {
	return &QueryService{store: st, logger: logger.With("component", "query")}
}

// GetSnapshot returns ErrNotFound for unknown or expired jobs. Items are
// only present once the job has reached a terminal status with its result
// emitted.
func (q *QueryService) GetSnapshot(ctx context.Context, jobID string) (snap *model.Snapshot, err error) {
	ctx, span := tracing.Tracer("query").Start(ctx, "query.GetSnapshot",
		otelTrace.WithAttributes(attribute.String("job_id", jobID)),
	)
	defer func() {
		var spanErr error
		switch {
		case err == nil:
			metrics.QuerySnapshots.WithLabelValues("ok").Inc()
		case errors.Is(err, ErrNotFound):
			metrics.QuerySnapshots.WithLabelValues("not_found").Inc()
		default:
			metrics.QuerySnapshots.WithLabelValues("error").Inc()
			spanErr = err
		}
		tracing.EndSpan(span, spanErr)
	}()

	view, err := q.store.ReadJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}
	return buildSnapshot(view)
}

func buildSnapshot(view *store.JobView) (*model.Snapshot, error) {
	meta := view.Meta

	pending := append([]string{}, view.Pending...)
	sort.Strings(pending)

	processed := append([]model.ProcessedRecord{}, view.Processed...)
	sort.Slice(processed, func(i, j int) bool {
		a, b := processed[i], processed[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Chain != b.Chain {
			return a.Chain < b.Chain
		}
		return a.Account < b.Account
	})

	snap := &model.Snapshot{
		JobID:     meta.JobID,
		Status:    meta.Status,
		Expected:  meta.ExpectedTotal,
		Succeeded: meta.Succeeded,
		Failed:    meta.Failed,
		TimedOut:  meta.TimedOut,
		Pending:   pending,
		Processed: processed,
		Progress:  model.Progress(meta.ExpectedTotal, meta.Succeeded, meta.Failed, meta.TimedOut),
	}
	snap.IsCompleted = meta.Status.IsTerminal()

	// A job timed out wholesale is complete but never emitted a result.
	if snap.IsCompleted && meta.FinalEmitted {
		items := []json.RawMessage{}
		if len(view.Items) > 0 {
			if err := json.Unmarshal(view.Items, &items); err != nil {
				return nil, fmt.Errorf("decode items for job %s: %w", meta.JobID, err)
			}
		}
		snap.Items = items
	}
	return snap, nil
}
