package reaper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/alert"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/event"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/orchestrator"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	"github.com/emperorhan/aggregation-orchestrator/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	account = "0x52908400098527886e0f7030069857d2e4169ee7"
	ttl     = 10 * time.Minute
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock   *clock
	store   *memory.Store
	tracker *orchestrator.Tracker
	query   *orchestrator.QueryService
	reaper  *Reaper
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := memory.New()
	st.SetClock(c.Now)
	tracker := orchestrator.NewTracker(st, logger)

	r, err := New(st, tracker, cfg, logger)
	require.NoError(t, err)
	r.nowFn = c.Now

	return &fixture{
		clock:   c,
		store:   st,
		tracker: tracker,
		query:   orchestrator.NewQueryService(st, logger),
		reaper:  r,
	}
}

var baseCombos = []string{
	"aave-v3:base:" + account,
	"token-balances:base:" + account,
	"uniswap-v3:base:" + account,
}

func (f *fixture) seed(t *testing.T, jobID string, combos []string) {
	t.Helper()
	ctx := context.Background()
	created, err := f.store.CreateMetadataIfAbsent(ctx, model.JobMeta{
		JobID:         jobID,
		Accounts:      []string{account},
		Chains:        []model.Chain{model.ChainBase},
		CreatedAt:     f.clock.Now(),
		ExpectedTotal: len(combos),
		Status:        model.JobStatusRunning,
	}, ttl)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, f.store.AddPending(ctx, jobID, combos, ttl))
}

func (f *fixture) snapshot(t *testing.T, jobID string) *model.Snapshot {
	t.Helper()
	snap, err := f.query.GetSnapshot(context.Background(), jobID)
	require.NoError(t, err)
	return snap
}

func (f *fixture) running(t *testing.T) []string {
	t.Helper()
	ids, err := f.store.ListRunning(context.Background(), f.clock.Now(), 0)
	require.NoError(t, err)
	return ids
}

func TestSweep_LeavesYoungJobsAlone(t *testing.T) {
	f := newFixture(t, Config{ComboDeadline: 2 * time.Minute})
	f.seed(t, "job-1", baseCombos)

	f.clock.Advance(time.Minute)
	res, err := f.reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Len(t, f.snapshot(t, "job-1").Pending, 3)
}

func TestSweep_TimesOutPendingCombos(t *testing.T) {
	f := newFixture(t, Config{ComboDeadline: 2 * time.Minute})
	ctx := context.Background()
	f.seed(t, "job-1", baseCombos)
	require.NoError(t, f.tracker.ReportOutcome(ctx, event.OutcomeReport{
		JobID: "job-1", Provider: "aave-v3", Chain: "base", Account: account,
		Outcome: model.OutcomeSuccess, Payload: []byte(`[{"debt":"0"}]`),
	}))

	f.clock.Advance(3 * time.Minute)
	res, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 2, res.CombosTimedOut)

	snap := f.snapshot(t, "job-1")
	assert.Empty(t, snap.Pending)
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 2, snap.TimedOut)
	assert.Equal(t, model.JobStatusCompletedWithErrors, snap.Status)
	require.Len(t, snap.Items, 1)
	for _, rec := range snap.Processed {
		if rec.Provider != "aave-v3" {
			assert.Equal(t, comboTimeoutError, rec.Error)
		}
	}
	assert.Empty(t, f.running(t))

	res, err = f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
}

func TestSweep_MarksJobTimedOutPastJobDeadline(t *testing.T) {
	f := newFixture(t, Config{ComboDeadline: 2 * time.Minute, JobDeadline: 5 * time.Minute})
	f.seed(t, "job-1", baseCombos)

	f.clock.Advance(6 * time.Minute)
	res, err := f.reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.JobsTimedOut)
	assert.Zero(t, res.CombosTimedOut)

	snap := f.snapshot(t, "job-1")
	assert.Equal(t, model.JobStatusTimedOut, snap.Status)
	assert.True(t, snap.IsCompleted)
	assert.Nil(t, snap.Items)
	assert.Len(t, snap.Pending, 3)
	assert.Empty(t, f.running(t))
}

type recordingAlerter struct {
	alerts []alert.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a alert.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func TestSweep_AlertsOnlyWhenJobsTimeOut(t *testing.T) {
	f := newFixture(t, Config{ComboDeadline: 2 * time.Minute, JobDeadline: 5 * time.Minute})
	alerts := &recordingAlerter{}
	f.reaper.alerter = alerts
	f.seed(t, "job-1", baseCombos)
	f.seed(t, "job-2", baseCombos)

	f.clock.Advance(3 * time.Minute)
	res, err := f.reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.CombosTimedOut)
	assert.Empty(t, alerts.alerts, "combo timeouts alone are not alerted")

	f.seed(t, "job-3", baseCombos)
	f.clock.Advance(6 * time.Minute)
	res, err = f.reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.JobsTimedOut)

	require.Len(t, alerts.alerts, 1)
	a := alerts.alerts[0]
	assert.Equal(t, alert.AlertTypeJobsTimedOut, a.Type)
	assert.Equal(t, "reaper", a.Subject)
	assert.Equal(t, "1", a.Fields["jobs_timed_out"])
}

func TestSweep_ForgetsExpiredAndTerminalJobs(t *testing.T) {
	f := newFixture(t, Config{ComboDeadline: 2 * time.Minute})
	ctx := context.Background()
	f.seed(t, "expired", baseCombos)

	f.clock.Advance(ttl + time.Minute)
	f.seed(t, "fresh", baseCombos)
	f.clock.Advance(3 * time.Minute)

	res, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Forgotten)
	assert.Equal(t, 3, res.CombosTimedOut)
	assert.Empty(t, f.running(t))
}

func TestSweep_FinalizesStrandedJob(t *testing.T) {
	f := newFixture(t, Config{ComboDeadline: 2 * time.Minute})
	ctx := context.Background()
	f.seed(t, "job-1", baseCombos[:1])

	// The reporter emptied pending but died before finalizing.
	_, err := f.store.AtomicReportOutcome(ctx, "job-1", store.OutcomeWrite{
		ComboKey: baseCombos[0],
		Outcome:  model.OutcomeSuccess,
		Record:   model.ProcessedRecord{Provider: "aave-v3", Chain: model.ChainBase, Account: account, Status: model.RecordStatusSuccess},
		Payload:  []byte(`{"ok":1}`),
	})
	require.NoError(t, err)

	f.clock.Advance(3 * time.Minute)
	res, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.JobsFinalized)

	snap := f.snapshot(t, "job-1")
	assert.Equal(t, model.JobStatusCompleted, snap.Status)
	require.Len(t, snap.Items, 1)
	assert.JSONEq(t, `{"ok":1}`, string(snap.Items[0]))
}

// expiringTracker loses the job between the pending check and finalize.
type expiringTracker struct {
	Tracker
}

func (expiringTracker) Finalize(_ context.Context, jobID string) (bool, error) {
	return false, fmt.Errorf("%w: %s", orchestrator.ErrNotFound, jobID)
}

func TestSweep_StrandedJobExpiredBeforeFinalize(t *testing.T) {
	f := newFixture(t, Config{ComboDeadline: 2 * time.Minute})
	ctx := context.Background()
	f.seed(t, "job-1", baseCombos[:1])
	_, err := f.store.AtomicReportOutcome(ctx, "job-1", store.OutcomeWrite{
		ComboKey: baseCombos[0],
		Outcome:  model.OutcomeSuccess,
		Record:   model.ProcessedRecord{Provider: "aave-v3", Chain: model.ChainBase, Account: account, Status: model.RecordStatusSuccess},
	})
	require.NoError(t, err)

	r, err := New(f.store, expiringTracker{Tracker: f.tracker}, Config{ComboDeadline: 2 * time.Minute}, f.reaper.logger)
	require.NoError(t, err)
	r.nowFn = f.clock.Now

	f.clock.Advance(3 * time.Minute)
	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.JobsFinalized)
}

func TestSweep_DropsIncompletelyCreatedJob(t *testing.T) {
	f := newFixture(t, Config{ComboDeadline: 2 * time.Minute})
	ctx := context.Background()
	// Meta claims three combos but pending was never written.
	created, err := f.store.CreateMetadataIfAbsent(ctx, model.JobMeta{
		JobID: "job-2", CreatedAt: f.clock.Now(), ExpectedTotal: 3, Status: model.JobStatusRunning,
	}, ttl)
	require.NoError(t, err)
	require.True(t, created)

	f.clock.Advance(3 * time.Minute)
	res, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Forgotten)
	assert.Zero(t, res.JobsFinalized)
	assert.Equal(t, model.JobStatusRunning, f.snapshot(t, "job-2").Status)
}

type failingIndex struct {
	JobIndex
}

func (failingIndex) ListRunning(context.Context, time.Time, int) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestSweep_IndexFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.reaper.index = failingIndex{JobIndex: f.store}

	_, err := f.reaper.Sweep(context.Background())
	require.Error(t, err)
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(memory.New(), nil, Config{Schedule: "every fifteen seconds"}, slog.Default())
	require.Error(t, err)
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"@every 15s", "*/5 * * * *", "@hourly"} {
		_, err := ParseSchedule(expr)
		assert.NoError(t, err, expr)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{Schedule: "@every 1h"})
	f.reaper.nowFn = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.reaper.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop")
	}
}
