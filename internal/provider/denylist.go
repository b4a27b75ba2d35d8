package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/cache"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

const defaultDenyListLookupTimeout = 250 * time.Millisecond

// RedisDenyList is a runtime kill-switch: members of the redis set
// "provider:chain" are reported unsupported. Lookups are cached so the matrix
// can be evaluated per combo without a round trip each time.
type RedisDenyList struct {
	client  redis.Cmdable
	key     string
	timeout time.Duration
	cache   *cache.LRU[string, bool]
}

type DenyListOption func(*RedisDenyList)

// WithDenyListCache caches lookups for ttl, holding at most size entries.
// A non-positive size or ttl disables caching.
func WithDenyListCache(size int, ttl time.Duration) DenyListOption {
	return func(d *RedisDenyList) {
		if size <= 0 || ttl <= 0 {
			d.cache = nil
			return
		}
		d.cache = cache.NewLRU[string, bool](size, ttl)
	}
}

func WithDenyListTimeout(timeout time.Duration) DenyListOption {
	return func(d *RedisDenyList) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func NewRedisDenyList(client redis.Cmdable, key string, opts ...DenyListOption) *RedisDenyList {
	d := &RedisDenyList{
		client:  client,
		key:     key,
		timeout: defaultDenyListLookupTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func denyMember(provider model.ProviderID, chain model.Chain) string {
	return provider.String() + ":" + chain.String()
}

func (d *RedisDenyList) SupportsChain(provider model.ProviderID, chain model.Chain) (bool, error) {
	member := denyMember(provider, chain)
	if d.cache == nil {
		return d.lookup(member)
	}
	return d.cache.GetOrLoad(member, func() (bool, error) { return d.lookup(member) })
}

func (d *RedisDenyList) lookup(member string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	denied, err := d.client.SIsMember(ctx, d.key, member).Result()
	if err != nil {
		return false, fmt.Errorf("deny-list lookup %s: %w", member, err)
	}
	return !denied, nil
}

// Deny adds provider/chain to the deny-list.
func (d *RedisDenyList) Deny(ctx context.Context, provider model.ProviderID, chain model.Chain) error {
	member := denyMember(provider, chain)
	if err := d.client.SAdd(ctx, d.key, member).Err(); err != nil {
		return fmt.Errorf("deny %s: %w", member, err)
	}
	if d.cache != nil {
		d.cache.Remove(member)
	}
	return nil
}

// Allow removes provider/chain from the deny-list.
func (d *RedisDenyList) Allow(ctx context.Context, provider model.ProviderID, chain model.Chain) error {
	member := denyMember(provider, chain)
	if err := d.client.SRem(ctx, d.key, member).Err(); err != nil {
		return fmt.Errorf("allow %s: %w", member, err)
	}
	if d.cache != nil {
		d.cache.Remove(member)
	}
	return nil
}
