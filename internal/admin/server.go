package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/emperorhan/aggregation-orchestrator/internal/circuitbreaker"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/orchestrator"
	"github.com/emperorhan/aggregation-orchestrator/internal/reaper"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// SnapshotReader serves the job read model.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, jobID string) (*model.Snapshot, error)
}

// JobController forces a job's terminal transition.
type JobController interface {
	MarkTimedOut(ctx context.Context, jobID string) (bool, error)
	Finalize(ctx context.Context, jobID string) (bool, error)
}

// Ensurer starts or reuses an aggregation job.
type Ensurer interface {
	Ensure(ctx context.Context, req orchestrator.EnsureRequest) (string, error)
}

type BreakerReporter interface {
	BreakerStates() map[string]circuitbreaker.State
}

type Compatibility interface {
	ProvidersFor(chain model.Chain) []model.ProviderID
}

type ProviderRegistry interface {
	Get(id model.ProviderID) (model.ProviderDescriptor, bool)
}

// DenyListEditor toggles the runtime provider kill-switch.
type DenyListEditor interface {
	Deny(ctx context.Context, provider model.ProviderID, chain model.Chain) error
	Allow(ctx context.Context, provider model.ProviderID, chain model.Chain) error
}

type Sweeper interface {
	Sweep(ctx context.Context) (reaper.SweepResult, error)
}

// Server provides an HTTP-based admin API for operational management.
type Server struct {
	query    SnapshotReader
	jobs     JobController
	ensurer  Ensurer
	breakers BreakerReporter
	compat   Compatibility
	registry ProviderRegistry
	denyList DenyListEditor
	sweeper  Sweeper
	logger   *slog.Logger
}

func NewServer(query SnapshotReader, jobs JobController, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		query:  query,
		jobs:   jobs,
		logger: logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

func WithEnsurer(e Ensurer) ServerOption {
	return func(s *Server) { s.ensurer = e }
}

func WithBreakerReporter(b BreakerReporter) ServerOption {
	return func(s *Server) { s.breakers = b }
}

func WithCompatibility(c Compatibility) ServerOption {
	return func(s *Server) { s.compat = c }
}

func WithProviderRegistry(r ProviderRegistry) ServerOption {
	return func(s *Server) { s.registry = r }
}

func WithDenyList(d DenyListEditor) ServerOption {
	return func(s *Server) { s.denyList = d }
}

func WithSweeper(sw Sweeper) ServerOption {
	return func(s *Server) { s.sweeper = sw }
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/v1/jobs", s.handleEnsureJob)
	mux.HandleFunc("GET /admin/v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /admin/v1/jobs/{id}/timeout", s.handleTimeoutJob)
	mux.HandleFunc("POST /admin/v1/jobs/{id}/finalize", s.handleFinalizeJob)
	mux.HandleFunc("GET /admin/v1/breakers", s.handleBreakers)
	mux.HandleFunc("GET /admin/v1/providers", s.handleProviders)
	mux.HandleFunc("POST /admin/v1/denylist", s.handleDeny)
	mux.HandleFunc("DELETE /admin/v1/denylist", s.handleAllow)
	mux.HandleFunc("POST /admin/v1/sweep", s.handleSweep)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// --- Jobs ---

type ensureRequest struct {
	Accounts      []string `json:"accounts"`
	Chains        []string `json:"chains"`
	WalletGroupID string   `json:"wallet_group_id,omitempty"`
}

type ensureResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleEnsureJob(w http.ResponseWriter, r *http.Request) {
	if s.ensurer == nil {
		writeError(w, http.StatusServiceUnavailable, "job creation not enabled")
		return
	}
	var req ensureRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	jobID, err := s.ensurer.Ensure(r.Context(), orchestrator.EnsureRequest{
		Accounts:      req.Accounts,
		Chains:        req.Chains,
		WalletGroupID: req.WalletGroupID,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ensureResponse{JobID: jobID})
	case errors.Is(err, orchestrator.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrNoCompatibleProviders):
		writeError(w, http.StatusUnprocessableEntity, "no compatible providers")
	case errors.Is(err, orchestrator.ErrStoreUnavailable):
		s.logger.Warn("job store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.logger.Error("failed to ensure job", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	snap, err := s.query.GetSnapshot(r.Context(), jobID)
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type transitionResponse struct {
	JobID   string `json:"job_id"`
	Changed bool   `json:"changed"`
}

func (s *Server) handleTimeoutJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	marked, err := s.jobs.MarkTimedOut(r.Context(), jobID)
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to time out job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("job timed out by operator", "job_id", jobID, "changed", marked)
	writeJSON(w, http.StatusOK, transitionResponse{JobID: jobID, Changed: marked})
}

func (s *Server) handleFinalizeJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	emitted, err := s.jobs.Finalize(r.Context(), jobID)
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to finalize job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{JobID: jobID, Changed: emitted})
}

// --- Bus and providers ---

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	if s.breakers == nil {
		writeError(w, http.StatusServiceUnavailable, "breaker states not available")
		return
	}
	states := s.breakers.BreakerStates()
	resp := make(map[string]string, len(states))
	for key, state := range states {
		resp[key] = state.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type providersResponse struct {
	Chain     model.Chain        `json:"chain"`
	Providers []model.ProviderID `json:"providers"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if s.compat == nil {
		writeError(w, http.StatusServiceUnavailable, "provider matrix not available")
		return
	}
	raw := r.URL.Query().Get("chain")
	if raw == "" {
		chains := model.KnownChains()
		resp := make([]providersResponse, 0, len(chains))
		for _, chain := range chains {
			resp = append(resp, providersResponse{Chain: chain, Providers: nonNil(s.compat.ProvidersFor(chain))})
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	chain, ok := model.ParseChain(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown chain")
		return
	}
	writeJSON(w, http.StatusOK, providersResponse{Chain: chain, Providers: nonNil(s.compat.ProvidersFor(chain))})
}

func nonNil(ids []model.ProviderID) []model.ProviderID {
	if ids == nil {
		return []model.ProviderID{}
	}
	return ids
}

type denyListRequest struct {
	Provider string `json:"provider"`
	Chain    string `json:"chain"`
}

func (s *Server) parseDenyListRequest(w http.ResponseWriter, r *http.Request) (model.ProviderID, model.Chain, bool) {
	if s.denyList == nil {
		writeError(w, http.StatusServiceUnavailable, "runtime deny-list not enabled")
		return "", "", false
	}
	var req denyListRequest
	if !decodeJSONBody(w, r, &req) {
		return "", "", false
	}
	id := model.ProviderID(strings.TrimSpace(req.Provider))
	if id == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return "", "", false
	}
	if s.registry != nil {
		if _, known := s.registry.Get(id); !known {
			writeError(w, http.StatusBadRequest, "unknown provider")
			return "", "", false
		}
	}
	chain, ok := model.ParseChain(req.Chain)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown chain")
		return "", "", false
	}
	return id, chain, true
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	id, chain, ok := s.parseDenyListRequest(w, r)
	if !ok {
		return
	}
	if err := s.denyList.Deny(r.Context(), id, chain); err != nil {
		s.logger.Error("failed to deny provider", "provider", id, "chain", chain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Warn("provider denied on chain", "provider", id, "chain", chain)
	writeJSON(w, http.StatusOK, denyListRequest{Provider: id.String(), Chain: chain.String()})
}

func (s *Server) handleAllow(w http.ResponseWriter, r *http.Request) {
	id, chain, ok := s.parseDenyListRequest(w, r)
	if !ok {
		return
	}
	if err := s.denyList.Allow(r.Context(), id, chain); err != nil {
		s.logger.Error("failed to allow provider", "provider", id, "chain", chain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("provider allowed on chain", "provider", id, "chain", chain)
	writeJSON(w, http.StatusOK, denyListRequest{Provider: id.String(), Chain: chain.String()})
}

// --- Reaper ---

type sweepResponse struct {
	Scanned        int `json:"scanned"`
	CombosTimedOut int `json:"combos_timed_out"`
	JobsTimedOut   int `json:"jobs_timed_out"`
	JobsFinalized  int `json:"jobs_finalized"`
	Forgotten      int `json:"forgotten"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "reaper not enabled")
		return
	}
	res, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		s.logger.Error("manual sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse(res))
}
