package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-process implementation of store.Store with the same
// atomicity and expiry semantics as the redis store. One mutex serializes
// every operation. Intended for tests and single-node development.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*jobState
	pointers map[string]pointer
	running  map[string]time.Time
	nowFn    func() time.Time
}

type jobState struct {
	meta      model.JobMeta
	expiresAt time.Time
	pending   map[string]struct{}
	processed map[string]model.ProcessedRecord
	fragments map[string]json.RawMessage
	items     json.RawMessage
}

type pointer struct {
	jobID     string
	expiresAt time.Time
}

func New() *Store {
	return &Store{
		jobs:     make(map[string]*jobState),
		pointers: make(map[string]pointer),
		running:  make(map[string]time.Time),
		nowFn:    time.Now,
	}
}

// SetClock replaces the time source used for expiry.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = now
}

func (m *Store) Ping(_ context.Context) error { return nil }

// liveJob returns the job state if it exists and has not expired. Expired
// state is dropped on the way.
func (m *Store) liveJob(jobID string) (*jobState, bool) {
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	if !m.nowFn().Before(j.expiresAt) {
		delete(m.jobs, jobID)
		return nil, false
	}
	return j, true
}

func (m *Store) TryGetPointer(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pointers[key]
	if !ok {
		return "", false, nil
	}
	if !m.nowFn().Before(p.expiresAt) {
		delete(m.pointers, key)
		return "", false, nil
	}
	if _, live := m.liveJob(p.jobID); !live {
		return "", false, nil
	}
	return p.jobID, true, nil
}

func (m *Store) SetPointer(_ context.Context, key, jobID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointers[key] = pointer{jobID: jobID, expiresAt: m.nowFn().Add(ttl)}
	return nil
}

func (m *Store) CreateMetadataIfAbsent(_ context.Context, meta model.JobMeta, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.liveJob(meta.JobID); exists {
		return false, nil
	}
	if meta.Status == "" {
		meta.Status = model.JobStatusRunning
	}
	meta.Accounts = append([]string(nil), meta.Accounts...)
	meta.Chains = append([]model.Chain(nil), meta.Chains...)

	m.jobs[meta.JobID] = &jobState{
		meta:      meta,
		expiresAt: m.nowFn().Add(ttl),
		pending:   make(map[string]struct{}),
		processed: make(map[string]model.ProcessedRecord),
		fragments: make(map[string]json.RawMessage),
	}
	m.running[meta.JobID] = meta.CreatedAt
	return true, nil
}

func (m *Store) AddPending(_ context.Context, jobID string, comboKeys []string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.liveJob(jobID)
	if !ok {
		return store.ErrJobNotFound
	}
	for _, k := range comboKeys {
		j.pending[k] = struct{}{}
	}
	return nil
}

func (m *Store) Expire(_ context.Context, jobID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.liveJob(jobID); ok {
		j.expiresAt = m.nowFn().Add(ttl)
	}
	return nil
}

func (m *Store) AtomicReportOutcome(_ context.Context, jobID string, write store.OutcomeWrite) (store.ReportResult, error) {
	if !write.Outcome.IsValid() {
		return store.ReportResult{}, fmt.Errorf("unknown outcome %q", write.Outcome)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.liveJob(jobID)
	if !ok {
		return store.ReportResult{}, store.ErrJobNotFound
	}

	_, removed := j.pending[write.ComboKey]
	if removed {
		switch write.Outcome {
		case model.OutcomeSuccess:
			j.meta.Succeeded++
			j.fragments[write.ComboKey] = append(json.RawMessage(nil), write.Payload...)
		case model.OutcomeFailure:
			j.meta.Failed++
		case model.OutcomeTimeout:
			j.meta.TimedOut++
		}
		delete(j.pending, write.ComboKey)
		j.processed[write.ComboKey] = write.Record
	}

	return store.ReportResult{
		Removed:      removed,
		Expected:     j.meta.ExpectedTotal,
		Succeeded:    j.meta.Succeeded,
		Failed:       j.meta.Failed,
		TimedOut:     j.meta.TimedOut,
		Pending:      len(j.pending),
		Status:       j.meta.Status,
		FinalEmitted: j.meta.FinalEmitted,
	}, nil
}

func (m *Store) LoadFragments(_ context.Context, jobID string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.liveJob(jobID)
	if !ok {
		return map[string]json.RawMessage{}, nil
	}
	out := make(map[string]json.RawMessage, len(j.fragments))
	for k, v := range j.fragments {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (m *Store) TryFinalize(_ context.Context, jobID string, items json.RawMessage, _ time.Time) (store.FinalizeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.liveJob(jobID)
	if !ok {
		return store.FinalizeResult{}, store.ErrJobNotFound
	}
	if len(j.pending) > 0 || j.meta.FinalEmitted || j.meta.Status != model.JobStatusRunning {
		return store.FinalizeResult{Status: j.meta.Status}, nil
	}

	j.meta.FinalEmitted = true
	j.meta.Status = model.TerminalStatusFor(j.meta.Failed, j.meta.TimedOut)
	j.items = append(json.RawMessage(nil), items...)
	delete(m.running, jobID)
	return store.FinalizeResult{Emitted: true, Status: j.meta.Status}, nil
}

func (m *Store) MarkTimedOut(_ context.Context, jobID string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.liveJob(jobID)
	if !ok {
		return false, store.ErrJobNotFound
	}
	if j.meta.Status != model.JobStatusRunning || j.meta.FinalEmitted || len(j.pending) == 0 {
		return false, nil
	}
	j.meta.Status = model.JobStatusTimedOut
	delete(m.running, jobID)
	return true, nil
}

func (m *Store) GetMeta(_ context.Context, jobID string) (*model.JobMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.liveJob(jobID)
	if !ok {
		return nil, store.ErrJobNotFound
	}
	meta := j.meta
	meta.Accounts = append([]string(nil), j.meta.Accounts...)
	meta.Chains = append([]model.Chain(nil), j.meta.Chains...)
	return &meta, nil
}

func (m *Store) ListPending(_ context.Context, jobID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.liveJob(jobID)
	if !ok {
		return nil, nil
	}
	return sortedKeys(j.pending), nil
}

func (m *Store) ReadJob(_ context.Context, jobID string) (*store.JobView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.liveJob(jobID)
	if !ok {
		return nil, store.ErrJobNotFound
	}

	view := &store.JobView{
		Meta:    j.meta,
		Pending: sortedKeys(j.pending),
	}
	view.Meta.Accounts = append([]string(nil), j.meta.Accounts...)
	view.Meta.Chains = append([]model.Chain(nil), j.meta.Chains...)
	for _, rec := range j.processed {
		view.Processed = append(view.Processed, rec)
	}
	if j.items != nil {
		view.Items = append(json.RawMessage(nil), j.items...)
	}
	return view, nil
}

func (m *Store) ListRunning(_ context.Context, createdBefore time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type entry struct {
		id        string
		createdAt time.Time
	}
	var entries []entry
	for id, createdAt := range m.running {
		if !createdAt.After(createdBefore) {
			entries = append(entries, entry{id: id, createdAt: createdAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].createdAt.Equal(entries[j].createdAt) {
			return entries[i].id < entries[j].id
		}
		return entries[i].createdAt.Before(entries[j].createdAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

func (m *Store) ForgetRunning(_ context.Context, jobIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range jobIDs {
		delete(m.running, id)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
