package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/alert"
	"github.com/emperorhan/aggregation-orchestrator/internal/circuitbreaker"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/event"
	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/emperorhan/aggregation-orchestrator/internal/metrics"
	"github.com/emperorhan/aggregation-orchestrator/internal/retry"
	redisstore "github.com/emperorhan/aggregation-orchestrator/internal/store/redis"
)

const (
	DefaultRoutingPrefix = "integration.request."

	alertSendTimeout = 10 * time.Second
)

// Publisher routes integration requests onto one stream per provider.
// Each routing key has its own circuit breaker and optional rate limit;
// transient transport errors are retried under the configured policy.
type Publisher struct {
	transport redisstore.MessageTransport
	prefix    string
	breakers  *circuitbreaker.Set
	limiter   *Limiter
	policy    retry.Policy
	alerter   alert.Alerter
	logger    *slog.Logger
}

type Option func(*Publisher)

func WithRoutingPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

func WithBreakerConfig(cfg circuitbreaker.Config) Option {
	return func(p *Publisher) { p.breakers = p.newBreakerSet(cfg) }
}

func WithLimiter(l *Limiter) Option {
	return func(p *Publisher) { p.limiter = l }
}

func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Publisher) { p.policy = policy }
}

// WithAlerter notifies operators when a routing key's breaker opens or
// closes again.
func WithAlerter(a alert.Alerter) Option {
	return func(p *Publisher) { p.alerter = a }
}

func NewPublisher(transport redisstore.MessageTransport, logger *slog.Logger, opts ...Option) *Publisher {
	logger = logger.With("component", "bus_publisher")
	p := &Publisher{
		transport: transport,
		prefix:    DefaultRoutingPrefix,
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
		},
		logger: logger,
	}
	p.breakers = p.newBreakerSet(circuitbreaker.Config{})
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) newBreakerSet(cfg circuitbreaker.Config) *circuitbreaker.Set {
	return circuitbreaker.NewSet(cfg, p.onBreakerStateChange)
}

// onBreakerStateChange runs with the breaker locked, so alerts are sent
// from their own goroutine.
func (p *Publisher) onBreakerStateChange(key string, from, to circuitbreaker.State) {
	metrics.BusBreakerState.WithLabelValues(key).Set(float64(to))
	p.logger.Warn("publish circuit breaker state changed",
		"routing_key", key,
		"from", from.String(),
		"to", to.String(),
	)
	if p.alerter == nil {
		return
	}

	var a alert.Alert
	switch {
	case to == circuitbreaker.StateOpen:
		a = alert.Alert{
			Type:    alert.AlertTypeBreakerOpen,
			Subject: key,
			Title:   "Publish circuit breaker opened",
			Message: "integration requests for this routing key fail fast and degrade to failure",
		}
	case to == circuitbreaker.StateClosed && from == circuitbreaker.StateHalfOpen:
		a = alert.Alert{
			Type:    alert.AlertTypeBreakerRecovered,
			Subject: key,
			Title:   "Publish circuit breaker closed",
			Message: "publishing recovered",
		}
	default:
		return
	}
	a.Fields = map[string]string{"from": from.String(), "to": to.String()}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertSendTimeout)
		defer cancel()
		if err := p.alerter.Send(ctx, a); err != nil {
			p.logger.Warn("failed to send breaker alert", "routing_key", key, "error", err)
		}
	}()
}

// RoutingKey returns the stream a provider's workers consume.
func (p *Publisher) RoutingKey(provider model.ProviderID) string {
	return p.prefix + provider.String()
}

// PublishRequest submits req to its provider's stream and returns the
// message id. It does not wait for the request to be processed.
func (p *Publisher) PublishRequest(ctx context.Context, req event.IntegrationRequest) (string, error) {
	key := p.RoutingKey(req.Provider)
	breaker := p.breakers.For(key)

	var id string
	err := retry.Do(ctx, p.policy, func(attempt int) error {
		if err := breaker.Allow(); err != nil {
			return retry.Terminal(err)
		}
		if err := p.limiter.Wait(ctx, key); err != nil {
			return retry.Terminal(err)
		}
		if attempt > 1 {
			metrics.BusPublishRetries.WithLabelValues(key).Inc()
		}

		published, err := p.transport.Publish(ctx, key, req)
		if err != nil {
			// The caller giving up says nothing about the bus.
			if callerGaveUp(ctx, err) {
				return retry.Terminal(err)
			}
			breaker.RecordFailure()
			return err
		}
		breaker.RecordSuccess()
		id = published
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", key, err)
	}
	return id, nil
}

func callerGaveUp(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// BreakerStates reports the circuit state of every routing key seen so far.
func (p *Publisher) BreakerStates() map[string]circuitbreaker.State {
	return p.breakers.States()
}
