package model

// ProviderID names a data provider integration (e.g. "aave-v3").
type ProviderID string

func (p ProviderID) String() string {
	return string(p)
}

// ProviderKind describes what a provider reports about a wallet.
type ProviderKind string

const (
	ProviderKindTokenBalances         ProviderKind = "TOKEN_BALANCES"
	ProviderKindLending               ProviderKind = "LENDING"
	ProviderKindConcentratedLiquidity ProviderKind = "CONCENTRATED_LIQUIDITY"
	ProviderKindStaking               ProviderKind = "STAKING"
)

// ProviderDescriptor is the static metadata of one provider: the chains it
// is listed for and the address families it can serve.
type ProviderDescriptor struct {
	ID       ProviderID
	Kind     ProviderKind
	Chains   []Chain
	Families []AddressFamily
}

// ListsChain reports whether chain is on the provider's static allow-list.
func (d ProviderDescriptor) ListsChain(chain Chain) bool {
	for _, c := range d.Chains {
		if c == chain {
			return true
		}
	}
	return false
}

// ServesFamily reports whether the provider is tagged for the family.
func (d ProviderDescriptor) ServesFamily(family AddressFamily) bool {
	for _, f := range d.Families {
		if f == family {
			return true
		}
	}
	return false
}
