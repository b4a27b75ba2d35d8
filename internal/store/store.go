package store

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job's metadata does not exist,
	// either because it never did or because its TTL elapsed.
	ErrJobNotFound = errors.New("store: job not found")
)

// OutcomeWrite is one combo's outcome as applied by AtomicReportOutcome.
type OutcomeWrite struct {
	ComboKey string
	Outcome  model.Outcome
	Record   model.ProcessedRecord
	// Payload is stored as a fragment only for OutcomeSuccess.
	Payload json.RawMessage
}

// ReportResult is the job state observed by the same atomic step that
// applied an outcome.
type ReportResult struct {
	// Removed is false when the combo was no longer pending (a duplicate).
	Removed      bool
	Expected     int
	Succeeded    int
	Failed       int
	TimedOut     int
	Pending      int
	Status       model.JobStatus
	FinalEmitted bool
}

// PendingEmpty reports whether the last combo has been accounted for.
func (r ReportResult) PendingEmpty() bool {
	return r.Pending == 0
}

// NeedsFinalize reports whether the caller should attempt result assembly.
func (r ReportResult) NeedsFinalize() bool {
	return r.PendingEmpty() && !r.FinalEmitted && r.Status == model.JobStatusRunning
}

// FinalizeResult describes the outcome of a TryFinalize compare-and-set.
type FinalizeResult struct {
	// Emitted is true only for the single call that flipped final_emitted.
	Emitted bool
	Status  model.JobStatus
}

// JobView is a consistent read of everything a snapshot needs.
type JobView struct {
	Meta      model.JobMeta
	Pending   []string
	Processed []model.ProcessedRecord
	// Items is the assembled result, present only once emitted.
	Items json.RawMessage
}

// JobStateStore is the shared, TTL-bounded job state. Every mutating method
// is atomic on the backing store and safe to call from many processes.
type JobStateStore interface {
	// TryGetPointer resolves a reuse key. A pointer whose job metadata has
	// expired is reported as absent.
	TryGetPointer(ctx context.Context, key string) (jobID string, ok bool, err error)
	SetPointer(ctx context.Context, key, jobID string, ttl time.Duration) error

	// CreateMetadataIfAbsent writes meta and reports whether this call created it.
	CreateMetadataIfAbsent(ctx context.Context, meta model.JobMeta, ttl time.Duration) (bool, error)
	AddPending(ctx context.Context, jobID string, comboKeys []string, ttl time.Duration) error
	// Expire (re)applies ttl to every key the job owns.
	Expire(ctx context.Context, jobID string, ttl time.Duration) error

	// AtomicReportOutcome removes the combo from the pending set and, only
	// if it was still pending, bumps the matching counter and records the
	// outcome. Returns ErrJobNotFound when the job has expired.
	AtomicReportOutcome(ctx context.Context, jobID string, write OutcomeWrite) (ReportResult, error)
	LoadFragments(ctx context.Context, jobID string) (map[string]json.RawMessage, error)
	// TryFinalize stores items and flips final_emitted exactly once, when
	// the pending set is empty and the job is still running.
	TryFinalize(ctx context.Context, jobID string, items json.RawMessage, at time.Time) (FinalizeResult, error)
	// MarkTimedOut overwrites a running, non-emitted job with pending work
	// to TimedOut. Returns false when the job is already terminal.
	MarkTimedOut(ctx context.Context, jobID string, at time.Time) (bool, error)

	GetMeta(ctx context.Context, jobID string) (*model.JobMeta, error)
	ListPending(ctx context.Context, jobID string) ([]string, error)
	ReadJob(ctx context.Context, jobID string) (*JobView, error)
}

// RunningIndex is an advisory index of running jobs ordered by creation
// time. It may hold ids whose metadata has already expired.
type RunningIndex interface {
	ListRunning(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
	ForgetRunning(ctx context.Context, jobIDs ...string) error
}

// Store is the full backend surface wired by the process.
type Store interface {
	JobStateStore
	RunningIndex
	Ping(ctx context.Context) error
}
