package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// staleLimiterTTL is how long a per-client limiter may sit idle before eviction.
	staleLimiterTTL = 10 * time.Minute
	cleanupInterval = time.Minute
)

type endpointRule struct {
	method string // empty matches any method
	prefix string // empty matches any path
	rps    rate.Limit
	burst  int
}

func (r endpointRule) key() string {
	return r.method + ":" + r.prefix
}

func (r endpointRule) matches(method, path string) bool {
	if r.method != "" && !strings.EqualFold(r.method, method) {
		return false
	}
	return r.prefix == "" || strings.HasPrefix(path, r.prefix)
}

// defaultRules are checked in order; the last one matches everything.
// Limits apply per client IP.
var defaultRules = []endpointRule{
	{method: http.MethodPost, prefix: "/admin/v1/sweep", rps: rate.Limit(1.0 / 60), burst: 1},
	{method: http.MethodPost, prefix: "/admin/v1/jobs/", rps: rate.Limit(30.0 / 60), burst: 5},
	{method: http.MethodPost, prefix: "/admin/v1/denylist", rps: rate.Limit(10.0 / 60), burst: 3},
	{method: http.MethodDelete, prefix: "/admin/v1/denylist", rps: rate.Limit(10.0 / 60), burst: 3},
	{rps: 1, burst: 5},
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits each client per endpoint rule.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // "rule|clientIP"
	rules    []endpointRule
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimitMiddleware starts a background sweep of idle limiters; call
// Stop to end it.
func NewRateLimitMiddleware(logger *slog.Logger) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		rules:    defaultRules,
		logger:   logger,
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop is safe to call more than once.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		rule := rl.ruleFor(r.Method, r.URL.Path)

		if !rl.limiterFor(rule, clientIP).Allow() {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			rl.logger.Warn("admin API rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection's remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimitMiddleware) ruleFor(method, path string) endpointRule {
	for _, rule := range rl.rules {
		if rule.matches(method, path) {
			return rule
		}
	}
	return endpointRule{rps: 1, burst: 5}
}

func (rl *RateLimitMiddleware) limiterFor(rule endpointRule, clientIP string) *rate.Limiter {
	key := rule.key() + "|" + clientIP
	now := rl.nowFunc()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	entry := &limiterEntry{limiter: rate.NewLimiter(rule.rps, rule.burst), lastSeen: now}
	rl.limiters[key] = entry
	return entry.limiter
}
