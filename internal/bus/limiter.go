package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per routing key so a chatty provider cannot
// starve the others.
type Limiter struct {
	mu       sync.Mutex
	rps      float64
	burst    int
	limiters map[string]*rate.Limiter
}

// NewLimiter returns nil when rps is not positive, meaning "unlimited".
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) forKey(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Wait blocks until key may publish once, or ctx is done. A nil Limiter
// never blocks. Reserve guarantees exactly one token per call.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	r := l.forKey(key).Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token for %s", key)
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
