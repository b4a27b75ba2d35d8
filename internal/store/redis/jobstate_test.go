package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	"github.com/emperorhan/aggregation-orchestrator/internal/store/storetest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*JobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewJobStore(client, "agg:"), mr
}

func TestJobStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		s, mr := newTestStore(t)
		return storetest.Harness{Store: s, Advance: mr.FastForward}
	})
}

func TestJobStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	meta := model.JobMeta{
		JobID:         "job-1",
		Accounts:      []string{"0xabc"},
		Chains:        []model.Chain{model.ChainBase},
		CreatedAt:     time.UnixMilli(1_700_000_000_000),
		ExpectedTotal: 2,
	}
	created, err := s.CreateMetadataIfAbsent(ctx, meta, time.Minute)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, s.AddPending(ctx, "job-1", []string{"a:base:0xabc", "b:base:0xabc"}, time.Minute))
	require.NoError(t, s.SetPointer(ctx, "active:single:0xabc:base", "job-1", time.Minute))

	assert.True(t, mr.Exists("agg:meta:{job-1}"))
	assert.True(t, mr.Exists("agg:pending:{job-1}"))
	assert.Equal(t, "job-1", mustGet(t, mr, "agg:active:single:0xabc:base"))

	assert.Equal(t, "running", mr.HGet("agg:meta:{job-1}", "status"))
	assert.Equal(t, "0", mr.HGet("agg:meta:{job-1}", "final_emitted"))
	assert.Equal(t, "2", mr.HGet("agg:meta:{job-1}", "expected_total"))
	assert.Equal(t, `["0xabc"]`, mr.HGet("agg:meta:{job-1}", "accounts"))
	assert.Equal(t, time.Minute, mr.TTL("agg:meta:{job-1}"))
	assert.Equal(t, time.Minute, mr.TTL("agg:pending:{job-1}"))

	members, err := mr.SMembers("agg:pending:{job-1}")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:base:0xabc", "b:base:0xabc"}, members)

	score, err := mr.ZScore("agg:running", "job-1")
	require.NoError(t, err)
	assert.Equal(t, float64(1_700_000_000_000), score)
}

func TestJobStore_ReportCarriesMetaTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	_, err := s.CreateMetadataIfAbsent(ctx, model.JobMeta{JobID: "job-1", ExpectedTotal: 1}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.AddPending(ctx, "job-1", []string{"a:base:0xabc"}, time.Minute))

	mr.FastForward(20 * time.Second)
	res, err := s.AtomicReportOutcome(ctx, "job-1", outcomeWrite("a:base:0xabc", model.OutcomeSuccess, `[1,2]`))
	require.NoError(t, err)
	require.True(t, res.Removed)

	assert.Equal(t, 40*time.Second, mr.TTL("agg:processed:{job-1}"))
	assert.Equal(t, 40*time.Second, mr.TTL("agg:fragments:{job-1}"))
	assert.Equal(t, "[1,2]", mr.HGet("agg:fragments:{job-1}", "a:base:0xabc"))
}

func TestJobStore_PrefixDefaults(t *testing.T) {
	assert.Equal(t, "agg:meta:{x}", newKeyspace("").metaKey("x"))
	assert.Equal(t, "tenant:items:{x}", newKeyspace("tenant:").itemsKey("x"))
}

func TestJobStore_Ping(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.SetError("LOADING")
	require.Error(t, s.Ping(context.Background()))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func outcomeWrite(combo string, outcome model.Outcome, payload string) store.OutcomeWrite {
	c, _ := model.ParseComboKey(combo)
	return store.OutcomeWrite{
		ComboKey: combo,
		Outcome:  outcome,
		Record: model.ProcessedRecord{
			Provider: c.Provider,
			Chain:    c.Chain,
			Account:  c.Account,
			Status:   model.RecordStatusFor(outcome),
		},
		Payload: json.RawMessage(payload),
	}
}
