// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	// Embedded zone data for join.timezone on minimal images.
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/JakeFAU/snowball-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/snowball-crawler/internal/redisclient"
	"github.com/JakeFAU/snowball-crawler/internal/source/snowball"
	"github.com/JakeFAU/snowball-crawler/internal/store/postgres"
)

// Backend names accepted by records.backend and storage.backend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Instance InstanceConfig     `mapstructure:"instance"`
	Server   ServerConfig       `mapstructure:"server"`
	Logging  LoggingConfig      `mapstructure:"logging"`
	Redis    redisclient.Config `mapstructure:"redis"`
	Queue    QueueConfig        `mapstructure:"queue"`
	Records  RecordsConfig      `mapstructure:"records"`
	Storage  StorageConfig      `mapstructure:"storage"`
	PubSub   PubSubConfig       `mapstructure:"pubsub"`
	Source   SourceConfig       `mapstructure:"source"`
	Stages   StagesConfig       `mapstructure:"stages"`
	Join     JoinConfig         `mapstructure:"join"`
}

// InstanceConfig names this process. Runner consumer ids derive from ID, so
// a restarted process with the same ID recovers its stranded leases.
type InstanceConfig struct {
	ID  string `mapstructure:"id"`
	Tag string `mapstructure:"tag"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
}

// RecordsConfig selects the versioned record store.
type RecordsConfig struct {
	Backend  string          `mapstructure:"backend"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// StorageConfig selects the blob backend for snapshots, logs and join output.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds the schema-ready event topic. An empty topic disables
// publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SourceConfig configures the site client and its politeness limits.
type SourceConfig struct {
	Client snowball.Config  `mapstructure:",squash"`
	Rate   ratelimit.Config `mapstructure:",squash"`
}

// StageConfig tunes one crawl stage.
type StageConfig struct {
	Runners int `mapstructure:"runners"`
	// Count is the page size requested from the source.
	Count             int           `mapstructure:"count"`
	FrequencyFloor    time.Duration `mapstructure:"frequency_floor"`
	InactivityCeiling time.Duration `mapstructure:"inactivity_ceiling"`
}

// StagesConfig tunes every stage.
type StagesConfig struct {
	PollDelay      time.Duration `mapstructure:"poll_delay"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	Categories     []int64       `mapstructure:"categories"`
	Discovery      StageConfig   `mapstructure:"discovery"`
	Articles       StageConfig   `mapstructure:"articles"`
	Comments       StageConfig   `mapstructure:"comments"`
	// RevisitInterval is the minimum time between two visits of one article.
	RevisitInterval time.Duration `mapstructure:"revisit_interval"`
	JoinRunners     int           `mapstructure:"join_runners"`
}

// JoinConfig configures schema assembly.
type JoinConfig struct {
	SiteURL      string        `mapstructure:"site_url"`
	Timezone     string        `mapstructure:"timezone"`
	ActiveWindow time.Duration `mapstructure:"active_window"`
	Dictionary   string        `mapstructure:"dictionary"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SNOWBALL")
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
	v.SetDefault("instance.id", "snowball-0")
	v.SetDefault("instance.tag", "snowball-crawler")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enabled", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("queue.backend", BackendRedis)
	v.SetDefault("records.backend", BackendRedis)
	v.SetDefault("records.postgres.dsn", "")
	v.SetDefault("records.postgres.table", "records")
	v.SetDefault("records.postgres.max_conns", 4)
	v.SetDefault("records.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "snowball")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("source.base_url", "https://xueqiu.com")
	v.SetDefault("source.list_path", "")
	v.SetDefault("source.comments_path", "")
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.max_requests", 0)
	v.SetDefault("source.timeout", 15*time.Second)
	v.SetDefault("source.reject_cooldown", 30*time.Second)
	v.SetDefault("source.rps", 2.0)
	v.SetDefault("source.burst", 1)
	v.SetDefault("stages.poll_delay", 10*time.Second)
	v.SetDefault("stages.backoff_initial", 250*time.Millisecond)
	v.SetDefault("stages.backoff_max", 30*time.Second)
	v.SetDefault("stages.categories", []int64{-1})
	v.SetDefault("stages.discovery.runners", 1)
	v.SetDefault("stages.discovery.count", 15)
	v.SetDefault("stages.discovery.frequency_floor", time.Minute)
	v.SetDefault("stages.articles.runners", 2)
	v.SetDefault("stages.articles.frequency_floor", 10*time.Minute)
	v.SetDefault("stages.articles.inactivity_ceiling", 7*24*time.Hour)
	v.SetDefault("stages.comments.runners", 2)
	v.SetDefault("stages.comments.count", 20)
	v.SetDefault("stages.comments.frequency_floor", 10*time.Minute)
	v.SetDefault("stages.comments.inactivity_ceiling", 10*24*time.Hour)
	v.SetDefault("stages.revisit_interval", time.Hour)
	v.SetDefault("stages.join_runners", 1)
	v.SetDefault("join.site_url", "https://xueqiu.com")
	v.SetDefault("join.timezone", "Asia/Shanghai")
	v.SetDefault("join.active_window", 7*24*time.Hour)
	v.SetDefault("join.dictionary", "")
	v.SetDefault("join.max_attempts", 5)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Instance.ID == "" {
		return fmt.Errorf("instance.id must be set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Queue.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("queue.backend must be redis or memory, got %q", c.Queue.Backend)
	}
	switch c.Records.Backend {
	case BackendRedis, BackendMemory:
	case BackendPostgres:
		if c.Records.Postgres.DSN == "" {
			return fmt.Errorf("records.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("records.backend must be redis, postgres or memory, got %q", c.Records.Backend)
	}
	if (c.Queue.Backend == BackendRedis || c.Records.Backend == BackendRedis) && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must be set")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be gcs, local or memory, got %q", c.Storage.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Source.Client.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.Source.Client.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be > 0")
	}
	if c.Stages.PollDelay <= 0 {
		return fmt.Errorf("stages.poll_delay must be > 0")
	}
	if c.Stages.BackoffInitial <= 0 || c.Stages.BackoffMax < c.Stages.BackoffInitial {
		return fmt.Errorf("stages.backoff_initial must be > 0 and <= stages.backoff_max")
	}
	if c.Stages.Discovery.Count <= 0 || c.Stages.Comments.Count <= 0 {
		return fmt.Errorf("stages.discovery.count and stages.comments.count must be > 0")
	}
	if _, err := c.Join.Location(); err != nil {
		return err
	}
	if c.Join.MaxAttempts <= 0 {
		return fmt.Errorf("join.max_attempts must be > 0")
	}
	return nil
}

// Location resolves the timezone used for relative comment dates.
func (j JoinConfig) Location() (*time.Location, error) {
	if j.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return nil, fmt.Errorf("join.timezone: %w", err)
	}
	return loc, nil
}
