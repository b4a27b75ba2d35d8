package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/reaper"
	"github.com/joho/godotenv"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	minJobTTL = 30 * time.Second
	maxJobTTL = 30 * time.Minute
)

type Config struct {
	Redis    RedisConfig
	Store    StoreConfig
	Job      JobConfig
	Bus      BusConfig
	Provider ProviderConfig
	Reaper   ReaperConfig
	Consumer ConsumerConfig
	Server   ServerConfig
	Log      LogConfig
	Tracing  TracingConfig
	Alert    AlertConfig
}

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

type StoreConfig struct {
	Backend string
}

type JobConfig struct {
	TTL         time.Duration
	MaxAccounts int
}

type BusConfig struct {
	Transport               string
	RoutingPrefix           string
	OutcomeStream           string
	Codec                   string
	StreamMaxLen            int64
	PublishConcurrency      int
	PublishMaxAttempts      int
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
	ProviderRPS             float64
	ProviderBurst           int
}

type ProviderConfig struct {
	SupportFile            string
	RuntimeDenyListEnabled bool
	SupportCacheTTL        time.Duration
	SupportCacheSize       int
}

type ReaperConfig struct {
	Enabled       bool
	Schedule      string
	ComboDeadline time.Duration
	JobDeadline   time.Duration
	BatchSize     int
}

type ConsumerConfig struct {
	Enabled       bool
	CheckpointKey string
}

type ServerConfig struct {
	HealthPort int
	AdminPort  int // 0 disables the admin API
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := &envReader{}
	cfg := &Config{
		Redis: RedisConfig{
			URL:       env.getEnv("REDIS_URL", "redis://localhost:6379"),
			KeyPrefix: env.getEnv("REDIS_KEY_PREFIX", "agg:"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(env.getEnv("STORE_BACKEND", BackendRedis)),
		},
		Job: JobConfig{
			TTL:         env.getEnvSeconds("JOB_TTL_SEC", 600),
			MaxAccounts: env.getEnvInt("MAX_ACCOUNTS", 3),
		},
		Bus: BusConfig{
			Transport:               strings.ToLower(env.getEnv("STREAM_TRANSPORT", BackendRedis)),
			RoutingPrefix:           env.getEnv("BUS_ROUTING_PREFIX", "integration.request."),
			OutcomeStream:           env.getEnv("BUS_OUTCOME_STREAM", "integration.outcome"),
			Codec:                   strings.ToLower(env.getEnv("BUS_CODEC", "json")),
			StreamMaxLen:            int64(env.getEnvInt("BUS_STREAM_MAXLEN", 100000)),
			PublishConcurrency:      env.getEnvInt("PUBLISH_CONCURRENCY", 16),
			PublishMaxAttempts:      env.getEnvInt("PUBLISH_MAX_ATTEMPTS", 3),
			BreakerFailureThreshold: env.getEnvInt("BUS_BREAKER_FAILURE_THRESHOLD", 5),
			BreakerOpenTimeout:      env.getEnvSeconds("BUS_BREAKER_OPEN_TIMEOUT_SEC", 30),
			ProviderRPS:             env.getEnvFloat("BUS_PROVIDER_RPS", 0),
			ProviderBurst:           env.getEnvInt("BUS_PROVIDER_BURST", 10),
		},
		Provider: ProviderConfig{
			SupportFile:            env.getEnv("PROVIDER_SUPPORT_FILE", ""),
			RuntimeDenyListEnabled: env.getEnvBool("PROVIDER_RUNTIME_DENYLIST_ENABLED", false),
			SupportCacheTTL:        env.getEnvSeconds("PROVIDER_SUPPORT_CACHE_TTL_SEC", 30),
			SupportCacheSize:       env.getEnvInt("PROVIDER_SUPPORT_CACHE_SIZE", 1024),
		},
		Reaper: ReaperConfig{
			Enabled:       env.getEnvBool("REAPER_ENABLED", true),
			Schedule:      env.getEnv("REAPER_SCHEDULE", reaper.DefaultSchedule),
			ComboDeadline: env.getEnvSeconds("REAPER_COMBO_DEADLINE_SEC", 120),
			JobDeadline:   env.getEnvSeconds("REAPER_JOB_DEADLINE_SEC", 0),
			BatchSize:     env.getEnvInt("REAPER_BATCH_SIZE", 100),
		},
		Consumer: ConsumerConfig{
			Enabled:       env.getEnvBool("CONSUMER_ENABLED", true),
			CheckpointKey: env.getEnv("CONSUMER_CHECKPOINT_KEY", "outcome-consumer"),
		},
		Server: ServerConfig{
			HealthPort: env.getEnvInt("HEALTH_PORT", 8080),
			AdminPort:  env.getEnvInt("ADMIN_PORT", 0),
		},
		Log: LogConfig{
			Level: strings.ToLower(env.getEnv("LOG_LEVEL", "info")),
		},
		Tracing: TracingConfig{
			Enabled:     env.getEnvBool("TRACING_ENABLED", false),
			Endpoint:    env.getEnv("TRACING_ENDPOINT", ""),
			Insecure:    env.getEnvBool("TRACING_INSECURE", true),
			SampleRatio: env.getEnvFloat("TRACING_SAMPLE_RATIO", 0.1),
		},
		Alert: AlertConfig{
			SlackWebhookURL: env.getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      env.getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        env.getEnvSeconds("ALERT_COOLDOWN_SEC", 300),
		},
	}
	if err := env.err(); err != nil {
		return nil, err
	}

	cfg.Job.TTL = clampTTL(cfg.Job.TTL)
	if cfg.Reaper.JobDeadline <= 0 {
		cfg.Reaper.JobDeadline = cfg.Job.TTL * 9 / 10
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl < minJobTTL:
		return minJobTTL
	case ttl > maxJobTTL:
		return maxJobTTL
	default:
		return ttl
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendRedis, BackendMemory, c.Store.Backend)
	}
	switch c.Bus.Transport {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("STREAM_TRANSPORT must be %q or %q, got %q", BackendRedis, BackendMemory, c.Bus.Transport)
	}
	if c.UsesRedis() && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis backend")
	}
	switch c.Bus.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("BUS_CODEC must be json or msgpack, got %q", c.Bus.Codec)
	}
	if c.Server.AdminPort != 0 && c.Server.AdminPort == c.Server.HealthPort {
		return fmt.Errorf("ADMIN_PORT must differ from HEALTH_PORT")
	}
	if c.Job.MaxAccounts <= 0 {
		return fmt.Errorf("MAX_ACCOUNTS must be positive")
	}
	if c.Bus.PublishConcurrency <= 0 {
		return fmt.Errorf("PUBLISH_CONCURRENCY must be positive")
	}
	if c.Bus.PublishMaxAttempts <= 0 {
		return fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be positive")
	}
	if c.Provider.RuntimeDenyListEnabled && !c.UsesRedis() {
		return fmt.Errorf("PROVIDER_RUNTIME_DENYLIST_ENABLED requires a redis backend")
	}
	if c.Reaper.Enabled {
		if _, err := reaper.ParseSchedule(c.Reaper.Schedule); err != nil {
			return fmt.Errorf("REAPER_SCHEDULE %q: %w", c.Reaper.Schedule, err)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("TRACING_ENDPOINT is required when tracing is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within [0,1]")
	}
	return nil
}

// AlertsEnabled reports whether any alert channel is configured.
func (c *Config) AlertsEnabled() bool {
	return c.Alert.SlackWebhookURL != "" || c.Alert.WebhookURL != ""
}

// UsesRedis reports whether any component needs a redis connection.
func (c *Config) UsesRedis() bool {
	return c.Store.Backend == BackendRedis || c.Bus.Transport == BackendRedis
}

// envReader reads typed variables and remembers every parse failure.
type envReader struct {
	errs []error
}

func (r *envReader) getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (r *envReader) getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return i
}

func (r *envReader) getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(r.getEnvInt(key, fallback)) * time.Second
}

func (r *envReader) getEnvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func (r *envReader) getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}
