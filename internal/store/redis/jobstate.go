package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	"github.com/redis/go-redis/v9"
)

// createScript writes the meta hash only if it does not exist yet.
// KEYS[1]=meta  ARGV[1]=ttl ms, ARGV[2..]=field/value pairs.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

// reportScript applies one combo outcome.
// KEYS[1]=meta KEYS[2]=pending KEYS[3]=processed KEYS[4]=fragments
// ARGV[1]=combo ARGV[2]=counter field ARGV[3]=record json ARGV[4]=payload ARGV[5]=store payload flag
var reportScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local removed = redis.call('SREM', KEYS[2], ARGV[1])
if removed == 1 then
  redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
  redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
  if ARGV[5] == '1' then
    redis.call('HSET', KEYS[4], ARGV[1], ARGV[4])
  end
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl > 0 then
    redis.call('PEXPIRE', KEYS[3], ttl)
    if ARGV[5] == '1' then
      redis.call('PEXPIRE', KEYS[4], ttl)
    end
  end
end
local m = redis.call('HMGET', KEYS[1], 'expected_total', 'succeeded', 'failed', 'timed_out', 'status', 'final_emitted')
return {removed, m[1], m[2], m[3], m[4], redis.call('SCARD', KEYS[2]), m[5], m[6]}
`)

// finalizeScript is the compare-and-set on final_emitted.
// KEYS[1]=meta KEYS[2]=pending KEYS[3]=items
// ARGV[1]=items json ARGV[2]=finalized_at ms ARGV[3]=running ARGV[4]=completed ARGV[5]=completed with errors
var finalizeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, ''}
end
local m = redis.call('HMGET', KEYS[1], 'status', 'final_emitted', 'failed', 'timed_out')
if redis.call('SCARD', KEYS[2]) > 0 or m[1] ~= ARGV[3] or m[2] == '1' then
  return {0, m[1] or ''}
end
local status = ARGV[4]
if (tonumber(m[3]) or 0) > 0 or (tonumber(m[4]) or 0) > 0 then
  status = ARGV[5]
end
redis.call('HSET', KEYS[1], 'final_emitted', '1', 'status', status, 'finalized_at', ARGV[2])
redis.call('SET', KEYS[3], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[3], ttl)
end
return {1, status}
`)

// timeoutScript marks a running job with outstanding combos as timed out.
// KEYS[1]=meta KEYS[2]=pending  ARGV[1]=running ARGV[2]=timed_out ARGV[3]=finalized_at ms
var timeoutScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local m = redis.call('HMGET', KEYS[1], 'status', 'final_emitted')
if m[1] ~= ARGV[1] or m[2] == '1' or redis.call('SCARD', KEYS[2]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'finalized_at', ARGV[3])
return 1
`)

// JobStore is the redis JobStateStore. All counter and set mutations run
// inside Lua scripts; the running index is maintained beside them.
type JobStore struct {
	client redis.UniversalClient
	keys   keyspace
}

var _ store.Store = (*JobStore)(nil)

func NewJobStore(client redis.UniversalClient, keyPrefix string) *JobStore {
	return &JobStore{client: client, keys: newKeyspace(keyPrefix)}
}

func (s *JobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *JobStore) TryGetPointer(ctx context.Context, key string) (string, bool, error) {
	jobID, err := s.client.Get(ctx, s.keys.pointerKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get pointer %s: %w", key, err)
	}

	n, err := s.client.Exists(ctx, s.keys.metaKey(jobID)).Result()
	if err != nil {
		return "", false, fmt.Errorf("check job %s: %w", jobID, err)
	}
	if n == 0 {
		return "", false, nil
	}
	return jobID, true, nil
}

func (s *JobStore) SetPointer(ctx context.Context, key, jobID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.keys.pointerKey(key), jobID, ttl).Err(); err != nil {
		return fmt.Errorf("set pointer %s: %w", key, err)
	}
	return nil
}

func (s *JobStore) CreateMetadataIfAbsent(ctx context.Context, meta model.JobMeta, ttl time.Duration) (bool, error) {
	fields, err := metaToFields(meta)
	if err != nil {
		return false, err
	}
	args := make([]interface{}, 0, len(fields)+1)
	args = append(args, ttl.Milliseconds())
	args = append(args, fields...)

	created, err := createScript.Run(ctx, s.client, []string{s.keys.metaKey(meta.JobID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("create job %s: %w", meta.JobID, err)
	}
	if created == 0 {
		return false, nil
	}

	if err := s.client.ZAdd(ctx, s.keys.runningKey(), redis.Z{
		Score:  float64(meta.CreatedAt.UnixMilli()),
		Member: meta.JobID,
	}).Err(); err != nil {
		return true, fmt.Errorf("index running job %s: %w", meta.JobID, err)
	}
	return true, nil
}

func (s *JobStore) AddPending(ctx context.Context, jobID string, comboKeys []string, ttl time.Duration) error {
	if len(comboKeys) == 0 {
		return nil
	}
	members := make([]interface{}, len(comboKeys))
	for i, k := range comboKeys {
		members[i] = k
	}

	key := s.keys.pendingKey(jobID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, members...)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add pending for job %s: %w", jobID, err)
	}
	return nil
}

func (s *JobStore) Expire(ctx context.Context, jobID string, ttl time.Duration) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range s.keys.jobKeys(jobID) {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("expire job %s: %w", jobID, err)
	}
	return nil
}

func counterField(o model.Outcome) (string, error) {
	switch o {
	case model.OutcomeSuccess:
		return fieldSucceeded, nil
	case model.OutcomeFailure:
		return fieldFailed, nil
	case model.OutcomeTimeout:
		return fieldTimedOut, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", o)
	}
}

func (s *JobStore) AtomicReportOutcome(ctx context.Context, jobID string, write store.OutcomeWrite) (store.ReportResult, error) {
	field, err := counterField(write.Outcome)
	if err != nil {
		return store.ReportResult{}, err
	}
	record, err := json.Marshal(write.Record)
	if err != nil {
		return store.ReportResult{}, fmt.Errorf("marshal processed record: %w", err)
	}
	storePayload := "0"
	if write.Outcome == model.OutcomeSuccess {
		storePayload = "1"
	}

	keys := []string{
		s.keys.metaKey(jobID),
		s.keys.pendingKey(jobID),
		s.keys.processedKey(jobID),
		s.keys.fragmentsKey(jobID),
	}
	res, err := reportScript.Run(ctx, s.client, keys,
		write.ComboKey, field, string(record), string(write.Payload), storePayload,
	).Result()
	if err != nil {
		return store.ReportResult{}, fmt.Errorf("report outcome for job %s: %w", jobID, err)
	}

	values, ok := res.([]interface{})
	if !ok {
		if code, isInt := res.(int64); isInt && code == -1 {
			return store.ReportResult{}, store.ErrJobNotFound
		}
		return store.ReportResult{}, fmt.Errorf("report outcome for job %s: unexpected reply %v", jobID, res)
	}
	if len(values) != 8 {
		return store.ReportResult{}, fmt.Errorf("report outcome for job %s: unexpected reply length %d", jobID, len(values))
	}

	return store.ReportResult{
		Removed:      toInt(values[0]) == 1,
		Expected:     toInt(values[1]),
		Succeeded:    toInt(values[2]),
		Failed:       toInt(values[3]),
		TimedOut:     toInt(values[4]),
		Pending:      toInt(values[5]),
		Status:       model.JobStatus(toString(values[6])),
		FinalEmitted: toString(values[7]) == "1",
	}, nil
}

func (s *JobStore) LoadFragments(ctx context.Context, jobID string) (map[string]json.RawMessage, error) {
	raw, err := s.client.HGetAll(ctx, s.keys.fragmentsKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load fragments for job %s: %w", jobID, err)
	}
	out := make(map[string]json.RawMessage, len(raw))
	for combo, payload := range raw {
		out[combo] = json.RawMessage(payload)
	}
	return out, nil
}

func (s *JobStore) TryFinalize(ctx context.Context, jobID string, items json.RawMessage, at time.Time) (store.FinalizeResult, error) {
	keys := []string{s.keys.metaKey(jobID), s.keys.pendingKey(jobID), s.keys.itemsKey(jobID)}
	res, err := finalizeScript.Run(ctx, s.client, keys,
		string(items),
		at.UnixMilli(),
		string(model.JobStatusRunning),
		string(model.JobStatusCompleted),
		string(model.JobStatusCompletedWithErrors),
	).Slice()
	if err != nil {
		return store.FinalizeResult{}, fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	if len(res) != 2 {
		return store.FinalizeResult{}, fmt.Errorf("finalize job %s: unexpected reply length %d", jobID, len(res))
	}

	switch toInt(res[0]) {
	case -1:
		return store.FinalizeResult{}, store.ErrJobNotFound
	case 1:
		result := store.FinalizeResult{Emitted: true, Status: model.JobStatus(toString(res[1]))}
		if err := s.ForgetRunning(ctx, jobID); err != nil {
			return result, err
		}
		return result, nil
	default:
		return store.FinalizeResult{Status: model.JobStatus(toString(res[1]))}, nil
	}
}

func (s *JobStore) MarkTimedOut(ctx context.Context, jobID string, at time.Time) (bool, error) {
	keys := []string{s.keys.metaKey(jobID), s.keys.pendingKey(jobID)}
	code, err := timeoutScript.Run(ctx, s.client, keys,
		string(model.JobStatusRunning),
		string(model.JobStatusTimedOut),
		at.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("mark job %s timed out: %w", jobID, err)
	}
	switch code {
	case -1:
		return false, store.ErrJobNotFound
	case 1:
		return true, s.ForgetRunning(ctx, jobID)
	default:
		return false, nil
	}
}

func (s *JobStore) GetMeta(ctx context.Context, jobID string) (*model.JobMeta, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.metaKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrJobNotFound
	}
	return metaFromFields(jobID, fields)
}

func (s *JobStore) ListPending(ctx context.Context, jobID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.keys.pendingKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending for job %s: %w", jobID, err)
	}
	return members, nil
}

// ReadJob reads meta, pending, processed records and items in one MULTI so
// the counters and the pending set are observed at the same instant.
func (s *JobStore) ReadJob(ctx context.Context, jobID string) (*store.JobView, error) {
	var (
		metaCmd      *redis.MapStringStringCmd
		pendingCmd   *redis.StringSliceCmd
		processedCmd *redis.MapStringStringCmd
		itemsCmd     *redis.StringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, s.keys.metaKey(jobID))
		pendingCmd = pipe.SMembers(ctx, s.keys.pendingKey(jobID))
		processedCmd = pipe.HGetAll(ctx, s.keys.processedKey(jobID))
		itemsCmd = pipe.Get(ctx, s.keys.itemsKey(jobID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}

	fields := metaCmd.Val()
	if len(fields) == 0 {
		return nil, store.ErrJobNotFound
	}
	meta, err := metaFromFields(jobID, fields)
	if err != nil {
		return nil, err
	}

	view := &store.JobView{
		Meta:    *meta,
		Pending: pendingCmd.Val(),
	}
	for combo, raw := range processedCmd.Val() {
		var rec model.ProcessedRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode processed record %s: %w", combo, err)
		}
		view.Processed = append(view.Processed, rec)
	}
	if items, err := itemsCmd.Bytes(); err == nil {
		view.Items = items
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read items for job %s: %w", jobID, err)
	}
	return view, nil
}

func (s *JobStore) ListRunning(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.runningKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(createdBefore.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	return ids, nil
}

func (s *JobStore) ForgetRunning(ctx context.Context, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(jobIDs))
	for i, id := range jobIDs {
		members[i] = id
	}
	if err := s.client.ZRem(ctx, s.keys.runningKey(), members...).Err(); err != nil {
		return fmt.Errorf("forget running jobs: %w", err)
	}
	return nil
}

func metaToFields(meta model.JobMeta) ([]interface{}, error) {
	accounts, err := json.Marshal(meta.Accounts)
	if err != nil {
		return nil, fmt.Errorf("marshal accounts: %w", err)
	}
	chains, err := json.Marshal(meta.Chains)
	if err != nil {
		return nil, fmt.Errorf("marshal chains: %w", err)
	}
	status := meta.Status
	if status == "" {
		status = model.JobStatusRunning
	}
	return []interface{}{
		fieldAccounts, string(accounts),
		fieldChains, string(chains),
		fieldWalletGroupID, meta.WalletGroupID,
		fieldCreatedAt, meta.CreatedAt.UnixMilli(),
		fieldExpectedTotal, meta.ExpectedTotal,
		fieldSucceeded, meta.Succeeded,
		fieldFailed, meta.Failed,
		fieldTimedOut, meta.TimedOut,
		fieldStatus, string(status),
		fieldFinalEmitted, boolField(meta.FinalEmitted),
	}, nil
}

func metaFromFields(jobID string, fields map[string]string) (*model.JobMeta, error) {
	meta := &model.JobMeta{
		JobID:         jobID,
		WalletGroupID: fields[fieldWalletGroupID],
		ExpectedTotal: atoi(fields[fieldExpectedTotal]),
		Succeeded:     atoi(fields[fieldSucceeded]),
		Failed:        atoi(fields[fieldFailed]),
		TimedOut:      atoi(fields[fieldTimedOut]),
		Status:        model.JobStatus(fields[fieldStatus]),
		FinalEmitted:  fields[fieldFinalEmitted] == "1",
	}
	if raw := fields[fieldAccounts]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta.Accounts); err != nil {
			return nil, fmt.Errorf("decode accounts of job %s: %w", jobID, err)
		}
	}
	if raw := fields[fieldChains]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta.Chains); err != nil {
			return nil, fmt.Errorf("decode chains of job %s: %w", jobID, err)
		}
	}
	if ms, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64); err == nil {
		meta.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return meta, nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case string:
		return atoi(t)
	default:
		return 0
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
