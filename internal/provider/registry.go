package provider

import (
	"fmt"
	"sort"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
)

// Provider ids of the default catalogue.
const (
	TokenBalances  model.ProviderID = "token-balances"
	AaveV3         model.ProviderID = "aave-v3"
	UniswapV3      model.ProviderID = "uniswap-v3"
	Lido           model.ProviderID = "lido"
	PancakeSwapV3  model.ProviderID = "pancakeswap-v3"
	Kamino         model.ProviderID = "kamino"
	OrcaWhirlpools model.ProviderID = "orca-whirlpools"
	Marinade       model.ProviderID = "marinade"
)

var (
	evmOnly    = []model.AddressFamily{model.AddressFamilyEVM}
	base58Only = []model.AddressFamily{model.AddressFamilyBase58}
)

// Registry is the statically constructed provider catalogue. It is built
// once at startup and never mutated afterwards.
type Registry struct {
	descriptors map[model.ProviderID]model.ProviderDescriptor
	ids         []model.ProviderID
}

// NewRegistry builds a registry from explicit descriptors. Descriptors must
// have a unique id, at least one known chain and at least one known family.
func NewRegistry(descriptors ...model.ProviderDescriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[model.ProviderID]model.ProviderDescriptor, len(descriptors)),
		ids:         make([]model.ProviderID, 0, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.ID == "" {
			return nil, fmt.Errorf("provider descriptor has empty id")
		}
		if _, dup := r.descriptors[d.ID]; dup {
			return nil, fmt.Errorf("duplicate provider %q", d.ID)
		}
		if len(d.Chains) == 0 {
			return nil, fmt.Errorf("provider %q lists no chains", d.ID)
		}
		for _, c := range d.Chains {
			if !c.IsKnown() {
				return nil, fmt.Errorf("provider %q lists unknown chain %q", d.ID, c)
			}
		}
		if len(d.Families) == 0 {
			return nil, fmt.Errorf("provider %q serves no address family", d.ID)
		}
		for _, f := range d.Families {
			if f == model.AddressFamilyUnknown {
				return nil, fmt.Errorf("provider %q tagged with unknown address family", d.ID)
			}
		}

		d.Chains = append([]model.Chain(nil), d.Chains...)
		d.Families = append([]model.AddressFamily(nil), d.Families...)
		r.descriptors[d.ID] = d
		r.ids = append(r.ids, d.ID)
	}
	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	return r, nil
}

// DefaultRegistry returns the built-in provider catalogue.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDescriptors()...)
	if err != nil {
		panic(fmt.Sprintf("default provider registry: %v", err))
	}
	return r
}

// DefaultDescriptors lists the built-in providers.
func DefaultDescriptors() []model.ProviderDescriptor {
	return []model.ProviderDescriptor{
		{
			ID:       TokenBalances,
			Kind:     model.ProviderKindTokenBalances,
			Chains:   model.KnownChains(),
			Families: []model.AddressFamily{model.AddressFamilyEVM, model.AddressFamilyBase58},
		},
		{
			ID:   AaveV3,
			Kind: model.ProviderKindLending,
			Chains: []model.Chain{
				model.ChainEthereum, model.ChainBase, model.ChainPolygon,
				model.ChainArbitrum, model.ChainOptimism, model.ChainAvalanche,
			},
			Families: evmOnly,
		},
		{
			ID:   UniswapV3,
			Kind: model.ProviderKindConcentratedLiquidity,
			Chains: []model.Chain{
				model.ChainEthereum, model.ChainBase, model.ChainPolygon,
				model.ChainArbitrum, model.ChainOptimism, model.ChainBSC,
			},
			Families: evmOnly,
		},
		{ID: Lido, Kind: model.ProviderKindStaking, Chains: []model.Chain{model.ChainEthereum}, Families: evmOnly},
		{ID: PancakeSwapV3, Kind: model.ProviderKindConcentratedLiquidity, Chains: []model.Chain{model.ChainBSC}, Families: evmOnly},
		{ID: Kamino, Kind: model.ProviderKindLending, Chains: []model.Chain{model.ChainSolana}, Families: base58Only},
		{ID: OrcaWhirlpools, Kind: model.ProviderKindConcentratedLiquidity, Chains: []model.Chain{model.ChainSolana}, Families: base58Only},
		{ID: Marinade, Kind: model.ProviderKindStaking, Chains: []model.Chain{model.ChainSolana}, Families: base58Only},
	}
}

// Get returns the descriptor registered under id.
func (r *Registry) Get(id model.ProviderID) (model.ProviderDescriptor, bool) {
	d, ok := r.descriptors[id]
	return d, ok
}

// IDs returns every registered provider id in lexical order.
func (r *Registry) IDs() []model.ProviderID {
	return append([]model.ProviderID(nil), r.ids...)
}

func (r *Registry) Len() int {
	return len(r.ids)
}
