// Package config loads and validates matchday configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
	"github.com/JakeFAU/matchday-crawler/internal/pool"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BackoffConfig mirrors crawler.BackoffPolicy.
type BackoffConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// CrawlerConfig governs sessions.
type CrawlerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	LeaguesFile       string        `mapstructure:"leagues_file"`
	WindowFrom        string        `mapstructure:"window_from"`
	WindowTo          string        `mapstructure:"window_to"`
	Windows           []string      `mapstructure:"windows"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	Backoff           BackoffConfig `mapstructure:"backoff"`
}

// PoolConfig picks a profile; non-zero fields override it.
type PoolConfig struct {
	Profile              string        `mapstructure:"profile"`
	Capacity             int           `mapstructure:"capacity"`
	Browsers             int           `mapstructure:"browsers"`
	RotateEvery          int           `mapstructure:"rotate_every"`
	BlockedResourceTypes []string      `mapstructure:"blocked_resource_types"`
	UserAgents           []string      `mapstructure:"user_agents"`
	AcquireTimeout       time.Duration `mapstructure:"acquire_timeout"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace"`
	ExecPath             string        `mapstructure:"exec_path"`
	Headless             bool          `mapstructure:"headless"`
}

// RemoteConfig locates the results endpoint.
type RemoteConfig struct {
	BaseURL      string            `mapstructure:"base_url"`
	LandingPath  string            `mapstructure:"landing_path"`
	EndpointPath string            `mapstructure:"endpoint_path"`
	Headers      map[string]string `mapstructure:"headers"`
}

// StorageConfig selects the report store.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// ArtifactsConfig selects where per-league JSON artifacts are written.
type ArtifactsConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds the completion notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CacheConfig points at Redis for dashboard reads. An empty Addr disables it.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxBatchWait time.Duration `mapstructure:"max_batch_wait"`
}

// Load builds a Config from an optional file and MATCHDAY_* environment
// variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MATCHDAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.leagues_file", "leagues.csv")
	v.SetDefault("crawler.window_from", "")
	v.SetDefault("crawler.window_to", "")
	v.SetDefault("crawler.windows", []string{})
	v.SetDefault("crawler.task_timeout", 12*time.Second)
	v.SetDefault("crawler.session_timeout", 30*time.Minute)
	v.SetDefault("crawler.requests_per_second", 4.0)
	v.SetDefault("crawler.burst", 2)
	v.SetDefault("crawler.queue_depth", 4)
	v.SetDefault("crawler.backoff.base_delay", 500*time.Millisecond)
	v.SetDefault("crawler.backoff.max_delay", 5*time.Second)
	v.SetDefault("crawler.backoff.jitter", 0.5)
	v.SetDefault("crawler.backoff.max_attempts", 3)
	v.SetDefault("pool.profile", pool.ProfilePlain)
	v.SetDefault("pool.capacity", 0)
	v.SetDefault("pool.browsers", 0)
	v.SetDefault("pool.rotate_every", 0)
	v.SetDefault("pool.blocked_resource_types", []string{})
	v.SetDefault("pool.user_agents", []string{})
	v.SetDefault("pool.acquire_timeout", 60*time.Second)
	v.SetDefault("pool.shutdown_grace", 5*time.Second)
	v.SetDefault("pool.exec_path", "")
	v.SetDefault("pool.headless", true)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.landing_path", "/")
	v.SetDefault("remote.endpoint_path", "")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.table", "matches")
	v.SetDefault("artifacts.backend", "none")
	v.SetDefault("artifacts.base_dir", "")
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.prefix", "reports")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.prefix", "matchday")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
}

// Validate enforces required values and reasonable limits. Settings only
// needed by a particular command (remote URLs, league files) are checked by
// that command.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TaskTimeout <= 0 {
		return fmt.Errorf("crawler.task_timeout must be > 0")
	}
	if c.Crawler.SessionTimeout < 0 {
		return fmt.Errorf("crawler.session_timeout must be >= 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.Backoff.Jitter < 0 || c.Crawler.Backoff.Jitter > 1 {
		return fmt.Errorf("crawler.backoff.jitter must be within [0,1]")
	}
	if (c.Crawler.WindowFrom == "") != (c.Crawler.WindowTo == "") {
		return fmt.Errorf("crawler.window_from and crawler.window_to must be set together")
	}
	policy, err := c.PoolPolicy()
	if err != nil {
		return err
	}
	if c.Crawler.Concurrency > policy.Capacity {
		return fmt.Errorf("crawler.concurrency must be <= pool capacity (%d)", policy.Capacity)
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or postgres")
	}
	switch c.Artifacts.Backend {
	case "none", "memory":
	case "local":
		if c.Artifacts.BaseDir == "" {
			return fmt.Errorf("artifacts.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("artifacts.backend must be none, memory, local or gcs")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Cache.Addr != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0 when the cache is enabled")
	}
	return nil
}

// PoolPolicy resolves the profile and applies explicit overrides.
func (c Config) PoolPolicy() (pool.Policy, error) {
	policy, err := pool.Profile(c.Pool.Profile)
	if err != nil {
		return pool.Policy{}, fmt.Errorf("pool.profile: %w", err)
	}
	p := c.Pool
	if p.Capacity > 0 {
		policy.Capacity = p.Capacity
	}
	if p.Browsers > 0 {
		policy.Browsers = p.Browsers
	}
	if p.RotateEvery > 0 {
		policy.RotateEvery = p.RotateEvery
	}
	if len(p.BlockedResourceTypes) > 0 {
		policy.BlockedResourceTypes = append([]string(nil), p.BlockedResourceTypes...)
	}
	if len(p.UserAgents) > 0 {
		policy.UserAgents = append([]string(nil), p.UserAgents...)
	}
	policy.AcquireTimeout = p.AcquireTimeout
	policy.ShutdownGrace = p.ShutdownGrace
	policy.ExecPath = p.ExecPath
	policy.Headless = p.Headless
	if err := policy.Validate(); err != nil {
		return pool.Policy{}, err
	}
	return policy, nil
}

// Backoff converts the backoff section.
func (c Config) Backoff() crawler.BackoffPolicy {
	b := c.Crawler.Backoff
	return crawler.BackoffPolicy{
		BaseDelay:   b.BaseDelay,
		MaxDelay:    b.MaxDelay,
		Jitter:      b.Jitter,
		MaxAttempts: b.MaxAttempts,
	}
}

// Windows returns the explicit window list, or the from..to range when set.
func (c Config) Windows() ([]string, error) {
	if len(c.Crawler.Windows) > 0 {
		out := make([]string, 0, len(c.Crawler.Windows))
		for _, w := range c.Crawler.Windows {
			if _, err := crawler.ParseWindowKey(w); err != nil {
				return nil, fmt.Errorf("crawler.windows: %w", err)
			}
			out = append(out, strings.TrimSpace(w))
		}
		return out, nil
	}
	if c.Crawler.WindowFrom == "" {
		return nil, fmt.Errorf("crawler.windows or crawler.window_from/window_to must be set")
	}
	return crawler.MonthRange(c.Crawler.WindowFrom, c.Crawler.WindowTo)
}

// RemoteHeaders converts the configured header map.
func (c Config) RemoteHeaders() http.Header {
	h := http.Header{}
	for k, v := range c.Remote.Headers {
		h.Set(k, v)
	}
	return h
}
