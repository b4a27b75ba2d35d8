package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/admin"
	"github.com/emperorhan/aggregation-orchestrator/internal/alert"
	"github.com/emperorhan/aggregation-orchestrator/internal/bus"
	"github.com/emperorhan/aggregation-orchestrator/internal/circuitbreaker"
	"github.com/emperorhan/aggregation-orchestrator/internal/config"
	"github.com/emperorhan/aggregation-orchestrator/internal/orchestrator"
	"github.com/emperorhan/aggregation-orchestrator/internal/provider"
	"github.com/emperorhan/aggregation-orchestrator/internal/reaper"
	"github.com/emperorhan/aggregation-orchestrator/internal/retry"
	"github.com/emperorhan/aggregation-orchestrator/internal/store"
	"github.com/emperorhan/aggregation-orchestrator/internal/store/memory"
	redispkg "github.com/emperorhan/aggregation-orchestrator/internal/store/redis"
	"github.com/emperorhan/aggregation-orchestrator/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "aggregation-orchestrator"
	denyListKeyName = "provider-denylist"
)

// services is everything main runs, assembled by wire.
type services struct {
	store     store.Store
	transport redispkg.MessageTransport
	matrix    *provider.Matrix
	denyList  *provider.RedisDenyList
	publisher *bus.Publisher
	tracker   *orchestrator.Tracker
	fanout    *orchestrator.Fanout
	query     *orchestrator.QueryService
	consumer  *orchestrator.Consumer
	reaper    *reaper.Reaper
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newStore(cfg *config.Config, client redis.UniversalClient) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis store backend: client is nil")
		}
		return redispkg.NewJobStore(client, cfg.Redis.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

func newTransport(cfg *config.Config, client redis.UniversalClient) (redispkg.MessageTransport, error) {
	codec, err := redispkg.GetCodec(cfg.Bus.Codec)
	if err != nil {
		return nil, err
	}
	switch cfg.Bus.Transport {
	case config.BackendMemory:
		return redispkg.NewInMemoryStreamWithCodec(codec), nil
	case config.BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis stream transport: client is nil")
		}
		return redispkg.NewStream(client, cfg.Redis.KeyPrefix,
			redispkg.WithCodec(codec),
			redispkg.WithMaxLen(cfg.Bus.StreamMaxLen),
		), nil
	default:
		return nil, fmt.Errorf("unsupported stream transport: %s", cfg.Bus.Transport)
	}
}

// buildMatrix combines the static registry with the optional allow-list
// file and redis deny-list. The deny-list is nil unless enabled.
func buildMatrix(cfg *config.Config, client redis.Cmdable, logger *slog.Logger) (*provider.Matrix, *provider.RedisDenyList, error) {
	var supports []provider.ChainSupport
	if cfg.Provider.SupportFile != "" {
		allow, err := provider.LoadAllowList(cfg.Provider.SupportFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load provider support file: %w", err)
		}
		supports = append(supports, allow)
	}

	var denyList *provider.RedisDenyList
	if cfg.Provider.RuntimeDenyListEnabled {
		if client == nil {
			return nil, nil, fmt.Errorf("provider deny-list: redis client is nil")
		}
		denyList = provider.NewRedisDenyList(client, cfg.Redis.KeyPrefix+denyListKeyName,
			provider.WithDenyListCache(cfg.Provider.SupportCacheSize, cfg.Provider.SupportCacheTTL),
		)
		supports = append(supports, denyList)
	}

	opts := []provider.MatrixOption{provider.WithLogger(logger)}
	if len(supports) > 0 {
		opts = append(opts, provider.WithChainSupport(provider.AllOf(supports...)))
	}
	return provider.NewMatrix(provider.DefaultRegistry(), opts...), denyList, nil
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	if !cfg.AlertsEnabled() {
		return &alert.NoopAlerter{}
	}
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
}

func wire(cfg *config.Config, client *redis.Client, logger *slog.Logger) (*services, error) {
	// A nil *redis.Client must not become a non-nil interface.
	var universal redis.UniversalClient
	if client != nil {
		universal = client
	}

	st, err := newStore(cfg, universal)
	if err != nil {
		return nil, err
	}
	transport, err := newTransport(cfg, universal)
	if err != nil {
		return nil, err
	}
	matrix, denyList, err := buildMatrix(cfg, universal, logger)
	if err != nil {
		return nil, err
	}

	alerter := buildAlerter(cfg, logger)
	publisher := bus.NewPublisher(transport, logger,
		bus.WithAlerter(alerter),
		bus.WithRoutingPrefix(cfg.Bus.RoutingPrefix),
		bus.WithBreakerConfig(circuitbreaker.Config{
			FailureThreshold: cfg.Bus.BreakerFailureThreshold,
			OpenTimeout:      cfg.Bus.BreakerOpenTimeout,
		}),
		bus.WithLimiter(bus.NewLimiter(cfg.Bus.ProviderRPS, cfg.Bus.ProviderBurst)),
		bus.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Bus.PublishMaxAttempts,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
		}),
	)

	tracker := orchestrator.NewTracker(st, logger)
	fanout := orchestrator.NewFanout(st, matrix, publisher, tracker, orchestrator.FanoutConfig{
		JobTTL:             cfg.Job.TTL,
		MaxAccounts:        cfg.Job.MaxAccounts,
		PublishConcurrency: cfg.Bus.PublishConcurrency,
	}, logger)
	svc := &services{
		store:     st,
		transport: transport,
		matrix:    matrix,
		denyList:  denyList,
		publisher: publisher,
		tracker:   tracker,
		fanout:    fanout,
		query:     orchestrator.NewQueryService(st, logger),
	}

	if cfg.Consumer.Enabled {
		svc.consumer = orchestrator.NewConsumer(transport, tracker, orchestrator.ConsumerConfig{
			Stream:        cfg.Bus.OutcomeStream,
			CheckpointKey: cfg.Consumer.CheckpointKey,
		}, logger)
	}
	if cfg.Reaper.Enabled {
		r, err := reaper.New(st, tracker, reaper.Config{
			Schedule:      cfg.Reaper.Schedule,
			ComboDeadline: cfg.Reaper.ComboDeadline,
			JobDeadline:   cfg.Reaper.JobDeadline,
			BatchSize:     cfg.Reaper.BatchSize,
		}, logger, reaper.WithAlerter(alerter))
		if err != nil {
			return nil, fmt.Errorf("build reaper: %w", err)
		}
		svc.reaper = r
	}
	return svc, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting aggregation-orchestrator",
		"store_backend", cfg.Store.Backend,
		"stream_transport", cfg.Bus.Transport,
		"codec", cfg.Bus.Codec,
		"job_ttl", cfg.Job.TTL,
		"max_accounts", cfg.Job.MaxAccounts,
		"reaper_enabled", cfg.Reaper.Enabled,
		"consumer_enabled", cfg.Consumer.Enabled,
	)

	// Initialize OpenTelemetry tracing
	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), serviceName, tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	var client *redis.Client
	if cfg.UsesRedis() {
		connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
		client, err = redispkg.NewClient(connectCtx, cfg.Redis.URL)
		cancelConnect()
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		logger.Info("connected to redis", "key_prefix", cfg.Redis.KeyPrefix)
	}

	svc, err := wire(cfg, client, logger)
	if err != nil {
		logger.Error("failed to wire services", "error", err)
		os.Exit(1)
	}
	defer svc.transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, svc.store, logger)
	})
	if svc.consumer != nil {
		g.Go(func() error {
			return svc.consumer.Run(gCtx)
		})
	}
	if svc.reaper != nil {
		g.Go(func() error {
			return svc.reaper.Run(gCtx)
		})
	}
	if cfg.Server.AdminPort != 0 {
		g.Go(func() error {
			return runAdminServer(gCtx, cfg.Server.AdminPort, svc, logger)
		})
	}

	// Signal handler
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("orchestrator shut down gracefully")
}

// pinger is the part of the store the health check needs.
type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(p pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logger.Warn("health check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	}
}

// adminHandler builds the operator API with audit logging and per-client
// rate limits. The returned stop func ends the limiter's cleanup loop.
func adminHandler(svc *services, logger *slog.Logger) (http.Handler, func()) {
	opts := []admin.ServerOption{
		admin.WithEnsurer(svc.fanout),
		admin.WithBreakerReporter(svc.publisher),
		admin.WithCompatibility(svc.matrix),
		admin.WithProviderRegistry(svc.matrix.Registry()),
	}
	if svc.denyList != nil {
		opts = append(opts, admin.WithDenyList(svc.denyList))
	}
	if svc.reaper != nil {
		opts = append(opts, admin.WithSweeper(svc.reaper))
	}
	server := admin.NewServer(svc.query, svc.tracker, logger, opts...)

	limiter := admin.NewRateLimitMiddleware(logger)
	return admin.AuditMiddleware(logger, limiter.Wrap(server.Handler())), limiter.Stop
}

func runAdminServer(ctx context.Context, port int, svc *services, logger *slog.Logger) error {
	handler, stop := adminHandler(svc, logger)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	logger.Info("admin server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func runHealthServer(ctx context.Context, port int, p pinger, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/healthz", healthHandler(p, logger))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
