package provider

import (
	"errors"
	"testing"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrix_StaticSupport(t *testing.T) {
	m := NewMatrix(DefaultRegistry())

	tests := []struct {
		provider model.ProviderID
		chain    model.Chain
		want     bool
	}{
		{TokenBalances, model.ChainBase, true},
		{TokenBalances, model.ChainSolana, true},
		{AaveV3, model.ChainBase, true},
		{AaveV3, model.ChainBSC, false},
		{UniswapV3, model.ChainBase, true},
		{Lido, model.ChainEthereum, true},
		{Lido, model.ChainBase, false},
		{Kamino, model.ChainSolana, true},
		{Kamino, model.ChainEthereum, false},
		{"unknown-provider", model.ChainEthereum, false},
		{TokenBalances, "btc", false},
	}

	for _, tt := range tests {
		t.Run(tt.provider.String()+"/"+tt.chain.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, m.Supports(tt.provider, tt.chain))
		})
	}
}

func TestMatrix_FamilyTagGatesStaticList(t *testing.T) {
	// Statically lists solana but is tagged EVM-only.
	r, err := NewRegistry(model.ProviderDescriptor{
		ID:       "bridge",
		Chains:   []model.Chain{model.ChainEthereum, model.ChainSolana},
		Families: []model.AddressFamily{model.AddressFamilyEVM},
	})
	require.NoError(t, err)

	m := NewMatrix(r)
	assert.True(t, m.Supports("bridge", model.ChainEthereum))
	assert.False(t, m.Supports("bridge", model.ChainSolana))
}

func TestMatrix_ExactlyThreeProvidersOnBase(t *testing.T) {
	m := NewMatrix(DefaultRegistry())
	assert.Equal(t, []model.ProviderID{AaveV3, TokenBalances, UniswapV3}, m.ProvidersFor(model.ChainBase))
}

func TestMatrix_CollaboratorFailuresMeanUnsupported(t *testing.T) {
	tests := []struct {
		name    string
		support ChainSupport
	}{
		{
			name: "error",
			support: ChainSupportFunc(func(model.ProviderID, model.Chain) (bool, error) {
				return true, errors.New("backend down")
			}),
		},
		{
			name: "panic",
			support: ChainSupportFunc(func(model.ProviderID, model.Chain) (bool, error) {
				panic("nil map")
			}),
		},
		{
			name: "denied",
			support: ChainSupportFunc(func(model.ProviderID, model.Chain) (bool, error) {
				return false, nil
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatrix(DefaultRegistry(), WithChainSupport(tt.support))
			assert.NotPanics(t, func() {
				assert.False(t, m.Supports(AaveV3, model.ChainBase))
			})
		})
	}
}

func TestMatrix_CollaboratorCannotWidenStaticList(t *testing.T) {
	always := ChainSupportFunc(func(model.ProviderID, model.Chain) (bool, error) { return true, nil })
	m := NewMatrix(DefaultRegistry(), WithChainSupport(always))

	assert.True(t, m.Supports(AaveV3, model.ChainBase))
	assert.False(t, m.Supports(AaveV3, model.ChainSolana))
}

func TestAllOf(t *testing.T) {
	allow := ChainSupportFunc(func(model.ProviderID, model.Chain) (bool, error) { return true, nil })
	denyBase := ChainSupportFunc(func(_ model.ProviderID, c model.Chain) (bool, error) {
		return c != model.ChainBase, nil
	})
	failing := ChainSupportFunc(func(model.ProviderID, model.Chain) (bool, error) {
		return false, errors.New("boom")
	})

	ok, err := AllOf(allow, nil, denyBase).SupportsChain(AaveV3, model.ChainEthereum)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AllOf(allow, denyBase).SupportsChain(AaveV3, model.ChainBase)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = AllOf(allow, failing).SupportsChain(AaveV3, model.ChainBase)
	require.Error(t, err)
	assert.False(t, ok)

	ok, err = AllOf().SupportsChain(AaveV3, model.ChainBase)
	require.NoError(t, err)
	assert.True(t, ok)
}
