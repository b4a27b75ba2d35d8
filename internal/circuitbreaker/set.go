package circuitbreaker

import (
	"sync"
	"time"
)

// Set lazily creates one breaker per key (for example per routing key) so a
// failing target only trips its own breaker.
type Set struct {
	mu            sync.Mutex
	cfg           Config
	breakers      map[string]*Breaker
	onStateChange func(key string, from, to State)
	nowFn         func() time.Time
}

// NewSet builds a Set. cfg.OnStateChange is ignored; use onStateChange,
// which also receives the key.
func NewSet(cfg Config, onStateChange func(key string, from, to State)) *Set {
	cfg = cfg.withDefaults()
	cfg.OnStateChange = nil
	return &Set{
		cfg:           cfg,
		breakers:      make(map[string]*Breaker),
		onStateChange: onStateChange,
		nowFn:         time.Now,
	}
}

// For returns the breaker for key, creating it on first use.
func (s *Set) For(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[key]; ok {
		return b
	}
	cfg := s.cfg
	if s.onStateChange != nil {
		notify := s.onStateChange
		cfg.OnStateChange = func(from, to State) { notify(key, from, to) }
	}
	b := New(cfg)
	b.nowFn = s.nowFn
	s.breakers[key] = b
	return b
}

// States returns a snapshot of every known breaker's state.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	breakers := make(map[string]*Breaker, len(s.breakers))
	for k, b := range s.breakers {
		breakers[k] = b
	}
	s.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for k, b := range breakers {
		out[k] = b.GetState()
	}
	return out
}
