// Package storetest holds the behavioural contract every store.Store
// implementation must satisfy. Backends run it from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness is a fresh backend plus a way to move its expiry clock forward.
type Harness struct {
	Store   store.Store
	Advance func(d time.Duration)
}

const ttl = time.Minute

// Run executes the contract against backends produced by newHarness.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	tests := []struct {
		name string
		fn   func(t *testing.T, h Harness)
	}{
		{"CreateMetadataIfAbsent", testCreateIfAbsent},
		{"PointerLifecycle", testPointerLifecycle},
		{"ReportOutcome", testReportOutcome},
		{"ReportOnExpiredJob", testReportOnExpiredJob},
		{"FinalizeExactlyOnce", testFinalizeExactlyOnce},
		{"MarkTimedOut", testMarkTimedOut},
		{"ReadJob", testReadJob},
		{"RunningIndex", testRunningIndex},
		{"ExpireExtendsLifetime", testExpire},
		{"ConcurrentReports", testConcurrentReports},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newHarness(t))
		})
	}
}

func newMeta(jobID string, expected int) model.JobMeta {
	return model.JobMeta{
		JobID:         jobID,
		Accounts:      []string{"0x52908400098527886e0f7030069857d2e4169ee7"},
		Chains:        []model.Chain{model.ChainBase},
		CreatedAt:     time.UnixMilli(1_700_000_000_000).UTC(),
		ExpectedTotal: expected,
		Status:        model.JobStatusRunning,
	}
}

func combos(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%d:base:0x52908400098527886e0f7030069857d2e4169ee7", i)
	}
	return out
}

func seed(t *testing.T, h Harness, jobID string, n int) []string {
	t.Helper()
	ctx := context.Background()
	created, err := h.Store.CreateMetadataIfAbsent(ctx, newMeta(jobID, n), ttl)
	require.NoError(t, err)
	require.True(t, created)
	keys := combos(n)
	require.NoError(t, h.Store.AddPending(ctx, jobID, keys, ttl))
	require.NoError(t, h.Store.Expire(ctx, jobID, ttl))
	return keys
}

func write(combo string, outcome model.Outcome, payload string) store.OutcomeWrite {
	c, _ := model.ParseComboKey(combo)
	w := store.OutcomeWrite{
		ComboKey: combo,
		Outcome:  outcome,
		Record: model.ProcessedRecord{
			Provider: c.Provider,
			Chain:    c.Chain,
			Account:  c.Account,
			Status:   model.RecordStatusFor(outcome),
		},
	}
	if outcome != model.OutcomeSuccess {
		w.Record.Error = string(outcome)
	}
	if payload != "" {
		w.Payload = json.RawMessage(payload)
	}
	return w
}

func testCreateIfAbsent(t *testing.T, h Harness) {
	ctx := context.Background()
	created, err := h.Store.CreateMetadataIfAbsent(ctx, newMeta("job-1", 2), ttl)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = h.Store.CreateMetadataIfAbsent(ctx, newMeta("job-1", 5), ttl)
	require.NoError(t, err)
	assert.False(t, created, "second create must not overwrite")

	meta, err := h.Store.GetMeta(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, meta.ExpectedTotal)
	assert.Equal(t, model.JobStatusRunning, meta.Status)
	assert.False(t, meta.FinalEmitted)
	assert.Equal(t, []model.Chain{model.ChainBase}, meta.Chains)
	assert.True(t, newMeta("job-1", 2).CreatedAt.Equal(meta.CreatedAt))

	_, err = h.Store.GetMeta(ctx, "missing")
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func testPointerLifecycle(t *testing.T, h Harness) {
	ctx := context.Background()
	_, ok, err := h.Store.TryGetPointer(ctx, "active:single:x:base")
	require.NoError(t, err)
	assert.False(t, ok)

	// A pointer to a job that never existed is stale.
	require.NoError(t, h.Store.SetPointer(ctx, "active:single:x:base", "ghost", 2*ttl))
	_, ok, err = h.Store.TryGetPointer(ctx, "active:single:x:base")
	require.NoError(t, err)
	assert.False(t, ok)

	seed(t, h, "job-1", 1)
	require.NoError(t, h.Store.SetPointer(ctx, "active:single:x:base", "job-1", 2*ttl))
	id, ok, err := h.Store.TryGetPointer(ctx, "active:single:x:base")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "job-1", id)

	// The job expires before its pointer does.
	h.Advance(ttl + time.Second)
	_, ok, err = h.Store.TryGetPointer(ctx, "active:single:x:base")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testReportOutcome(t *testing.T, h Harness) {
	ctx := context.Background()
	keys := seed(t, h, "job-1", 3)

	res, err := h.Store.AtomicReportOutcome(ctx, "job-1", write(keys[0], model.OutcomeSuccess, `[{"a":1}]`))
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, store.ReportResult{
		Removed: true, Expected: 3, Succeeded: 1, Pending: 2, Status: model.JobStatusRunning,
	}, res)
	assert.False(t, res.NeedsFinalize())

	// Duplicate delivery changes nothing.
	dup, err := h.Store.AtomicReportOutcome(ctx, "job-1", write(keys[0], model.OutcomeFailure, ""))
	require.NoError(t, err)
	assert.False(t, dup.Removed)
	assert.Equal(t, 1, dup.Succeeded)
	assert.Equal(t, 0, dup.Failed)

	res, err = h.Store.AtomicReportOutcome(ctx, "job-1", write(keys[1], model.OutcomeFailure, ""))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	res, err = h.Store.AtomicReportOutcome(ctx, "job-1", write(keys[2], model.OutcomeTimeout, ""))
	require.NoError(t, err)
	assert.Equal(t, 1, res.TimedOut)
	assert.True(t, res.PendingEmpty())
	assert.True(t, res.NeedsFinalize())
	assert.Equal(t, res.Expected, res.Succeeded+res.Failed+res.TimedOut+res.Pending)

	fragments, err := h.Store.LoadFragments(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.JSONEq(t, `[{"a":1}]`, string(fragments[keys[0]]))

	_, err = h.Store.AtomicReportOutcome(ctx, "job-1", write(keys[0], "partial", ""))
	require.Error(t, err)
}

func testReportOnExpiredJob(t *testing.T, h Harness) {
	ctx := context.Background()
	keys := seed(t, h, "job-1", 2)
	h.Advance(ttl + time.Second)

	_, err := h.Store.AtomicReportOutcome(ctx, "job-1", write(keys[0], model.OutcomeSuccess, `{}`))
	require.ErrorIs(t, err, store.ErrJobNotFound)

	_, err = h.Store.ReadJob(ctx, "job-1")
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func testFinalizeExactlyOnce(t *testing.T, h Harness) {
	ctx := context.Background()
	keys := seed(t, h, "job-1", 2)
	now := time.Now()

	_, err := h.Store.AtomicReportOutcome(ctx, "job-1", write(keys[0], model.OutcomeSuccess, `{"x":1}`))
	require.NoError(t, err)

	res, err := h.Store.TryFinalize(ctx, "job-1", json.RawMessage(`[]`), now)
	require.NoError(t, err)
	assert.False(t, res.Emitted, "pending work blocks finalization")

	_, err = h.Store.AtomicReportOutcome(ctx, "job-1", write(keys[1], model.OutcomeFailure, ""))
	require.NoError(t, err)

	res, err = h.Store.TryFinalize(ctx, "job-1", json.RawMessage(`[{"x":1}]`), now)
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	assert.Equal(t, model.JobStatusCompletedWithErrors, res.Status)

	res, err = h.Store.TryFinalize(ctx, "job-1", json.RawMessage(`["other"]`), now)
	require.NoError(t, err)
	assert.False(t, res.Emitted)
	assert.Equal(t, model.JobStatusCompletedWithErrors, res.Status)

	view, err := h.Store.ReadJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, view.Meta.FinalEmitted)
	assert.JSONEq(t, `[{"x":1}]`, string(view.Items))

	_, err = h.Store.TryFinalize(ctx, "missing", json.RawMessage(`[]`), now)
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func testMarkTimedOut(t *testing.T, h Harness) {
	ctx := context.Background()
	keys := seed(t, h, "job-1", 2)
	now := time.Now()

	marked, err := h.Store.MarkTimedOut(ctx, "job-1", now)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = h.Store.MarkTimedOut(ctx, "job-1", now)
	require.NoError(t, err)
	assert.False(t, marked, "terminal status is never overwritten")

	// Late reports still balance the counters but never emit items.
	for _, k := range keys {
		_, err := h.Store.AtomicReportOutcome(ctx, "job-1", write(k, model.OutcomeSuccess, `{}`))
		require.NoError(t, err)
	}
	res, err := h.Store.TryFinalize(ctx, "job-1", json.RawMessage(`[{}]`), now)
	require.NoError(t, err)
	assert.False(t, res.Emitted)
	assert.Equal(t, model.JobStatusTimedOut, res.Status)

	view, err := h.Store.ReadJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusTimedOut, view.Meta.Status)
	assert.Nil(t, view.Items)

	// A completed job cannot be timed out.
	done := seed(t, h, "job-2", 1)
	_, err = h.Store.AtomicReportOutcome(ctx, "job-2", write(done[0], model.OutcomeSuccess, `{}`))
	require.NoError(t, err)
	_, err = h.Store.TryFinalize(ctx, "job-2", json.RawMessage(`[{}]`), now)
	require.NoError(t, err)
	marked, err = h.Store.MarkTimedOut(ctx, "job-2", now)
	require.NoError(t, err)
	assert.False(t, marked)

	_, err = h.Store.MarkTimedOut(ctx, "missing", now)
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func testReadJob(t *testing.T, h Harness) {
	ctx := context.Background()
	keys := seed(t, h, "job-1", 3)

	_, err := h.Store.AtomicReportOutcome(ctx, "job-1", write(keys[1], model.OutcomeFailure, ""))
	require.NoError(t, err)

	view, err := h.Store.ReadJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, view.Meta.ExpectedTotal)
	assert.ElementsMatch(t, []string{keys[0], keys[2]}, view.Pending)
	require.Len(t, view.Processed, 1)
	assert.Equal(t, model.RecordStatusFailed, view.Processed[0].Status)
	assert.Equal(t, "failure", view.Processed[0].Error)
	assert.Nil(t, view.Items)

	pending, err := h.Store.ListPending(ctx, "job-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, view.Pending, pending)
}

func testRunningIndex(t *testing.T, h Harness) {
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		meta := newMeta(id, 1)
		meta.CreatedAt = base.Add(time.Duration(i) * time.Second)
		created, err := h.Store.CreateMetadataIfAbsent(ctx, meta, ttl)
		require.NoError(t, err)
		require.True(t, created)
	}

	ids, err := h.Store.ListRunning(ctx, base.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-a", "job-b"}, ids)

	ids, err = h.Store.ListRunning(ctx, base.Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-a", "job-b"}, ids)

	require.NoError(t, h.Store.ForgetRunning(ctx, "job-a"))
	require.NoError(t, h.Store.ForgetRunning(ctx))
	ids, err = h.Store.ListRunning(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-b", "job-c"}, ids)
}

func testExpire(t *testing.T, h Harness) {
	ctx := context.Background()
	seed(t, h, "job-1", 1)

	h.Advance(ttl / 2)
	require.NoError(t, h.Store.Expire(ctx, "job-1", ttl))
	h.Advance(ttl - time.Second)

	_, err := h.Store.GetMeta(ctx, "job-1")
	require.NoError(t, err, "expire must push the deadline out")

	pending, err := h.Store.ListPending(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func testConcurrentReports(t *testing.T, h Harness) {
	ctx := context.Background()
	const n = 40
	keys := seed(t, h, "job-1", n)

	var (
		wg       sync.WaitGroup
		emitted  atomic.Int32
		removals atomic.Int32
	)
	// Every combo is delivered twice.
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func(combo string) {
			defer wg.Done()
			res, err := h.Store.AtomicReportOutcome(ctx, "job-1", write(combo, model.OutcomeSuccess, `{}`))
			if !assert.NoError(t, err) {
				return
			}
			if res.Removed {
				removals.Add(1)
			}
			assert.Equal(t, res.Expected, res.Succeeded+res.Failed+res.TimedOut+res.Pending)
			if res.NeedsFinalize() {
				fin, err := h.Store.TryFinalize(ctx, "job-1", json.RawMessage(`[]`), time.Now())
				if assert.NoError(t, err) && fin.Emitted {
					emitted.Add(1)
				}
			}
		}(keys[i%n])
	}
	wg.Wait()

	assert.Equal(t, int32(n), removals.Load())
	assert.Equal(t, int32(1), emitted.Load())

	meta, err := h.Store.GetMeta(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, n, meta.Succeeded)
	assert.Equal(t, model.JobStatusCompleted, meta.Status)
}
