package provider

import (
	"fmt"
	"log/slog"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/metrics"
)

// ChainSupport is an external collaborator that may further restrict which
// chains a provider serves. Errors and panics are read as "unsupported".
type ChainSupport interface {
	SupportsChain(provider model.ProviderID, chain model.Chain) (bool, error)
}

// ChainSupportFunc adapts a plain function to ChainSupport.
type ChainSupportFunc func(provider model.ProviderID, chain model.Chain) (bool, error)

func (f ChainSupportFunc) SupportsChain(provider model.ProviderID, chain model.Chain) (bool, error) {
	return f(provider, chain)
}

type allOf []ChainSupport

// AllOf combines collaborators; a chain is supported only when every one of
// them agrees. Nil entries are skipped.
func AllOf(supports ...ChainSupport) ChainSupport {
	combined := make(allOf, 0, len(supports))
	for _, s := range supports {
		if s != nil {
			combined = append(combined, s)
		}
	}
	return combined
}

func (a allOf) SupportsChain(provider model.ProviderID, chain model.Chain) (bool, error) {
	for _, s := range a {
		ok, err := s.SupportsChain(provider, chain)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Matrix answers whether a provider can serve a chain. The answer is the
// registry's static allow-list intersected with the chain's address family,
// optionally narrowed by a ChainSupport collaborator.
type Matrix struct {
	registry *Registry
	support  ChainSupport
	logger   *slog.Logger
}

type MatrixOption func(*Matrix)

func WithChainSupport(support ChainSupport) MatrixOption {
	return func(m *Matrix) { m.support = support }
}

func WithLogger(logger *slog.Logger) MatrixOption {
	return func(m *Matrix) { m.logger = logger }
}

func NewMatrix(registry *Registry, opts ...MatrixOption) *Matrix {
	m := &Matrix{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "provider_matrix")
	return m
}

// Supports reports whether provider serves chain. It never returns an error:
// unknown providers, unknown chains and failing collaborators all yield false.
func (m *Matrix) Supports(provider model.ProviderID, chain model.Chain) bool {
	desc, ok := m.registry.Get(provider)
	if !ok || !chain.IsKnown() {
		return false
	}
	if !desc.ListsChain(chain) || !desc.ServesFamily(chain.Family()) {
		return false
	}
	if m.support == nil {
		return true
	}
	return m.collaboratorAllows(provider, chain)
}

func (m *Matrix) collaboratorAllows(provider model.ProviderID, chain model.Chain) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.unsupported(provider, chain, fmt.Errorf("chain support panicked: %v", r))
			ok = false
		}
	}()

	allowed, err := m.support.SupportsChain(provider, chain)
	if err != nil {
		m.unsupported(provider, chain, err)
		return false
	}
	return allowed
}

func (m *Matrix) unsupported(provider model.ProviderID, chain model.Chain, err error) {
	metrics.ProviderSupportErrors.WithLabelValues(provider.String(), chain.String()).Inc()
	m.logger.Warn("chain support lookup failed, treating as unsupported",
		"provider", provider,
		"chain", chain,
		"error", err,
	)
}

// ProvidersFor returns the ids of every provider that supports chain, in
// lexical order.
func (m *Matrix) ProvidersFor(chain model.Chain) []model.ProviderID {
	var out []model.ProviderID
	for _, id := range m.registry.IDs() {
		if m.Supports(id, chain) {
			out = append(out, id)
		}
	}
	return out
}

func (m *Matrix) Registry() *Registry {
	return m.registry
}
