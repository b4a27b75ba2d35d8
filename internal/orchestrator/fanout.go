package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/event"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/identity"
	"github.com/emperorhan/aggregation-orchestrator/internal/jobkey"
	"github.com/emperorhan/aggregation-orchestrator/internal/metrics"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	"github.com/emperorhan/aggregation-orchestrator/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultJobTTL             = 10 * time.Minute
	DefaultMaxAccounts        = 3
	DefaultPublishConcurrency = 16
)

// RequestPublisher submits one integration request to the bus.
type RequestPublisher interface {
	PublishRequest(ctx context.Context, req event.IntegrationRequest) (string, error)
}

// Compatibility lists the providers able to serve a chain.
type Compatibility interface {
	ProvidersFor(chain model.Chain) []model.ProviderID
}

// OutcomeReporter receives the Failure outcomes of combos that could not
// be published.
type OutcomeReporter interface {
	ReportOutcome(ctx context.Context, report event.OutcomeReport) error
}

// EnsureRequest is the input of Ensure. Chains are chain ids, matched
// case-insensitively.
type EnsureRequest struct {
	Accounts      []string
	Chains        []string
	WalletGroupID string
}

type FanoutConfig struct {
	JobTTL             time.Duration
	MaxAccounts        int
	PublishConcurrency int
}

func (c FanoutConfig) withDefaults() FanoutConfig {
	if c.JobTTL <= 0 {
		c.JobTTL = DefaultJobTTL
	}
	if c.MaxAccounts <= 0 {
		c.MaxAccounts = DefaultMaxAccounts
	}
	if c.PublishConcurrency <= 0 {
		c.PublishConcurrency = DefaultPublishConcurrency
	}
	return c
}

// Fanout creates (or reuses) the job for a request and dispatches one
// integration request per compatible (provider, chain, account) combo.
type Fanout struct {
	store     store.JobStateStore
	compat    Compatibility
	publisher RequestPublisher
	reporter  OutcomeReporter
	cfg       FanoutConfig
	logger    *slog.Logger
	nowFn     func() time.Time
	newJobID  func() (string, error)
}

func NewFanout(
	st store.JobStateStore,
	compat Compatibility,
	publisher RequestPublisher,
	reporter OutcomeReporter,
	cfg FanoutConfig,
	logger *slog.Logger,
) *Fanout {
	return &Fanout{
		store:     st,
		compat:    compat,
		publisher: publisher,
		reporter:  reporter,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "fanout"),
		nowFn:     time.Now,
		newJobID:  newJobID,
	}
}

// newJobID returns a UUIDv7 so job ids sort by creation time.
func newJobID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type ensureInput struct {
	accounts      []string
	chains        []model.Chain
	walletGroupID string
}

// Ensure returns the id of the live job for req, creating and fanning out a
// new one when none exists. It returns once every request is submitted to
// the bus, not once they are processed.
func (f *Fanout) Ensure(ctx context.Context, req EnsureRequest) (jobID string, err error) {
	start := f.nowFn()
	ctx, span := tracing.Tracer("fanout").Start(ctx, "fanout.Ensure",
		otelTrace.WithAttributes(
			attribute.Int("accounts", len(req.Accounts)),
			attribute.StringSlice("chains", req.Chains),
		),
	)
	defer func() {
		if err != nil {
			metrics.FanoutEnsureErrors.WithLabelValues(errorKind(err)).Inc()
		} else {
			span.SetAttributes(attribute.String("job_id", jobID))
		}
		tracing.EndSpan(span, err)
		metrics.FanoutEnsureLatency.Observe(time.Since(start).Seconds())
	}()

	in, err := f.normalize(req)
	if err != nil {
		return "", err
	}
	key := jobkey.Resolve(in.accounts, in.chains, in.walletGroupID)

	existing, ok, err := f.store.TryGetPointer(ctx, key.Value)
	if err != nil {
		return "", storeUnavailable("resolve reuse key", err)
	}
	if ok {
		metrics.FanoutJobsReused.WithLabelValues(string(key.Shape)).Inc()
		f.logger.Debug("reusing live job", "job_id", existing, "key", key.Value)
		return existing, nil
	}

	combos := f.buildCombos(in)
	if len(combos) == 0 {
		return "", fmt.Errorf("%w: accounts %v on chains %v", ErrNoCompatibleProviders, in.accounts, in.chains)
	}

	jobID, err = f.newJobID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	created, err := f.createJob(ctx, jobID, in, combos)
	if err != nil {
		return "", err
	}
	if !created {
		// Someone else owns this id; fall back to whatever the key points at.
		if existing, ok, err := f.store.TryGetPointer(ctx, key.Value); err == nil && ok {
			metrics.FanoutJobsReused.WithLabelValues(string(key.Shape)).Inc()
			return existing, nil
		}
		return "", storeUnavailable("create job", fmt.Errorf("job %s already exists", jobID))
	}
	metrics.FanoutJobsCreated.Inc()
	span.SetAttributes(attribute.Int("combos", len(combos)))

	f.publishAll(ctx, jobID, combos)

	if err := f.store.SetPointer(ctx, key.Value, jobID, f.cfg.JobTTL); err != nil {
		f.logger.Warn("failed to store reuse pointer",
			"job_id", jobID,
			"key", key.Value,
			"error", err,
		)
	}
	if err := ctx.Err(); err != nil {
		return jobID, fmt.Errorf("ensure job %s: %w", jobID, err)
	}

	f.logger.Info("job created",
		"job_id", jobID,
		"key", key.Value,
		"combos", len(combos),
	)
	return jobID, nil
}

func (f *Fanout) normalize(req EnsureRequest) (ensureInput, error) {
	if len(req.Accounts) == 0 {
		return ensureInput{}, invalid("accounts", "at least one account is required")
	}
	if len(req.Accounts) > f.cfg.MaxAccounts {
		return ensureInput{}, invalid("accounts", "at most %d accounts are allowed, got %d", f.cfg.MaxAccounts, len(req.Accounts))
	}

	var in ensureInput
	seenAccounts := make(map[string]struct{}, len(req.Accounts))
	for _, raw := range req.Accounts {
		if strings.TrimSpace(raw) == "" {
			return ensureInput{}, invalid("accounts", "empty account")
		}
		if identity.Family(raw) == model.AddressFamilyUnknown {
			return ensureInput{}, invalid("accounts", "unrecognized address format %q", raw)
		}
		account := identity.CanonicalAccount(raw)
		if _, dup := seenAccounts[account]; dup {
			continue
		}
		seenAccounts[account] = struct{}{}
		in.accounts = append(in.accounts, account)
	}

	if len(req.Chains) == 0 {
		return ensureInput{}, invalid("chains", "at least one chain is required")
	}
	seenChains := make(map[model.Chain]struct{}, len(req.Chains))
	for _, raw := range req.Chains {
		chain, ok := model.ParseChain(raw)
		if !ok {
			return ensureInput{}, invalid("chains", "unknown chain %q", raw)
		}
		if _, dup := seenChains[chain]; dup {
			continue
		}
		seenChains[chain] = struct{}{}
		in.chains = append(in.chains, chain)
	}

	in.walletGroupID = strings.TrimSpace(req.WalletGroupID)
	return in, nil
}

// buildCombos pairs each account only with chains of its own address family.
func (f *Fanout) buildCombos(in ensureInput) []model.Combo {
	var combos []model.Combo
	for _, account := range in.accounts {
		family := identity.Family(account)
		for _, chain := range in.chains {
			if chain.Family() != family {
				continue
			}
			for _, p := range f.compat.ProvidersFor(chain) {
				combos = append(combos, model.Combo{Provider: p, Chain: chain, Account: account})
			}
		}
	}
	sort.Slice(combos, func(i, j int) bool { return combos[i].Key() < combos[j].Key() })
	return combos
}

func (f *Fanout) createJob(ctx context.Context, jobID string, in ensureInput, combos []model.Combo) (bool, error) {
	meta := model.JobMeta{
		JobID:         jobID,
		Accounts:      in.accounts,
		Chains:        in.chains,
		WalletGroupID: in.walletGroupID,
		CreatedAt:     f.nowFn().UTC(),
		ExpectedTotal: len(combos),
		Status:        model.JobStatusRunning,
	}
	created, err := f.store.CreateMetadataIfAbsent(ctx, meta, f.cfg.JobTTL)
	if err != nil {
		return false, storeUnavailable("create job metadata", err)
	}
	if !created {
		return false, nil
	}

	keys := make([]string, len(combos))
	for i, c := range combos {
		keys[i] = c.Key()
	}
	if err := f.store.AddPending(ctx, jobID, keys, f.cfg.JobTTL); err != nil {
		return false, storeUnavailable("add pending combos", err)
	}
	if err := f.store.Expire(ctx, jobID, f.cfg.JobTTL); err != nil {
		return false, storeUnavailable("expire job", err)
	}
	return true, nil
}

// publishAll submits every combo concurrently. A combo whose publish fails
// is reported as a Failure outcome; it never aborts the others.
func (f *Fanout) publishAll(ctx context.Context, jobID string, combos []model.Combo) {
	requestedAt := f.nowFn().UTC()

	var g errgroup.Group
	g.SetLimit(f.cfg.PublishConcurrency)
	for _, combo := range combos {
		g.Go(func() error {
			req := event.IntegrationRequest{
				JobID:       jobID,
				RequestID:   uuid.NewString(),
				Account:     combo.Account,
				Chains:      []model.Chain{combo.Chain},
				Provider:    combo.Provider,
				RequestedAt: requestedAt,
				Attempt:     1,
			}
			if _, err := f.publisher.PublishRequest(ctx, req); err != nil {
				f.publishFailed(ctx, jobID, combo, err)
				return nil
			}
			metrics.FanoutCombosPublished.WithLabelValues(combo.Provider.String()).Inc()
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Fanout) publishFailed(ctx context.Context, jobID string, combo model.Combo, cause error) {
	metrics.FanoutPublishFailures.WithLabelValues(combo.Provider.String()).Inc()
	f.logger.Warn("publish failed, degrading combo to failure",
		"job_id", jobID,
		"combo", combo.Key(),
		"error", cause,
	)

	// The degradation must land even when Ensure's caller has gone away.
	err := f.reporter.ReportOutcome(context.WithoutCancel(ctx), event.OutcomeReport{
		JobID:    jobID,
		Provider: combo.Provider,
		Chain:    combo.Chain.String(),
		Account:  combo.Account,
		Outcome:  model.OutcomeFailure,
		Error:    "publish failed: " + cause.Error(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		f.logger.Error("failed to record publish failure",
			"job_id", jobID,
			"combo", combo.Key(),
			"error", err,
		)
	}
}
