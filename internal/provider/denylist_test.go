package provider

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const denyKey = "agg:provider-denylist"

func newDenyList(t *testing.T, opts ...DenyListOption) (*RedisDenyList, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDenyList(client, denyKey, opts...), mr
}

func TestRedisDenyList_SupportsChain(t *testing.T) {
	d, mr := newDenyList(t)
	_, err := mr.SAdd(denyKey, "aave-v3:base")
	require.NoError(t, err)

	ok, err := d.SupportsChain(AaveV3, model.ChainBase)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.SupportsChain(AaveV3, model.ChainEthereum)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDenyList_DenyAndAllow(t *testing.T) {
	d, mr := newDenyList(t, WithDenyListCache(16, time.Minute))
	ctx := context.Background()

	ok, err := d.SupportsChain(Lido, model.ChainEthereum)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, d.Deny(ctx, Lido, model.ChainEthereum))
	assert.True(t, mr.Exists(denyKey))

	ok, err = d.SupportsChain(Lido, model.ChainEthereum)
	require.NoError(t, err)
	assert.False(t, ok, "deny must invalidate the cached answer")

	require.NoError(t, d.Allow(ctx, Lido, model.ChainEthereum))
	ok, err = d.SupportsChain(Lido, model.ChainEthereum)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDenyList_CachesAnswers(t *testing.T) {
	d, mr := newDenyList(t, WithDenyListCache(16, time.Minute))

	ok, err := d.SupportsChain(Kamino, model.ChainSolana)
	require.NoError(t, err)
	require.True(t, ok)

	// Written behind the cache's back; the cached answer stands until expiry.
	_, err = mr.SAdd(denyKey, "kamino:solana")
	require.NoError(t, err)

	ok, err = d.SupportsChain(Kamino, model.ChainSolana)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDenyList_ErrorMakesMatrixReturnFalse(t *testing.T) {
	d, mr := newDenyList(t)
	mr.SetError("LOADING redis is loading")

	_, err := d.SupportsChain(AaveV3, model.ChainBase)
	require.Error(t, err)

	m := NewMatrix(DefaultRegistry(), WithChainSupport(d))
	assert.False(t, m.Supports(AaveV3, model.ChainBase))

	mr.SetError("")
	assert.True(t, m.Supports(AaveV3, model.ChainBase))
}
