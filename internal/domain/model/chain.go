package model

import (
	"sort"
	"strings"
)

type Chain string

const (
	ChainEthereum  Chain = "ethereum"
	ChainBase      Chain = "base"
	ChainPolygon   Chain = "polygon"
	ChainArbitrum  Chain = "arbitrum"
	ChainOptimism  Chain = "optimism"
	ChainBSC       Chain = "bsc"
	ChainAvalanche Chain = "avalanche"
	ChainSolana    Chain = "solana"
)

func (c Chain) String() string {
	return string(c)
}

// AddressFamily groups address encodings that share validation and
// normalization rules.
type AddressFamily string

const (
	AddressFamilyUnknown AddressFamily = "unknown"
	AddressFamilyEVM     AddressFamily = "evm"
	AddressFamilyBase58  AddressFamily = "base58"
)

func (f AddressFamily) String() string {
	return string(f)
}

var chainFamilies = map[Chain]AddressFamily{
	ChainEthereum:  AddressFamilyEVM,
	ChainBase:      AddressFamilyEVM,
	ChainPolygon:   AddressFamilyEVM,
	ChainArbitrum:  AddressFamilyEVM,
	ChainOptimism:  AddressFamilyEVM,
	ChainBSC:       AddressFamilyEVM,
	ChainAvalanche: AddressFamilyEVM,
	ChainSolana:    AddressFamilyBase58,
}

// Family returns the address family accounts on this chain must belong to.
func (c Chain) Family() AddressFamily {
	if family, ok := chainFamilies[c]; ok {
		return family
	}
	return AddressFamilyUnknown
}

// IsKnown reports whether the chain is part of the catalogue.
func (c Chain) IsKnown() bool {
	_, ok := chainFamilies[c]
	return ok
}

// ParseChain resolves a chain id case-insensitively ("Base" -> ChainBase).
func ParseChain(raw string) (Chain, bool) {
	c := Chain(strings.ToLower(strings.TrimSpace(raw)))
	if !c.IsKnown() {
		return "", false
	}
	return c, true
}

// KnownChains returns every catalogued chain in lexical order.
func KnownChains() []Chain {
	chains := make([]Chain, 0, len(chainFamilies))
	for c := range chainFamilies {
		chains = append(chains, c)
	}
	SortChains(chains)
	return chains
}

// SortChains sorts chains in place by their string id.
func SortChains(chains []Chain) {
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
}
