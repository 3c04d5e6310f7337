// Package config loads and validates frontier service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory        = "memory"
	StoreElasticsearch = "elasticsearch"
	StorePostgres      = "postgres"
)

// In-flight backends.
const (
	InFlightMemory = "memory"
	InFlightRedis  = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Frontier      FrontierConfig      `mapstructure:"frontier"`
	InFlight      InFlightConfig      `mapstructure:"inflight"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	Dispatch      DispatchConfig      `mapstructure:"dispatch"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls span sampling for dispatched messages.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// FrontierConfig governs the populators.
type FrontierConfig struct {
	Store            string        `mapstructure:"store"`
	MinDelay         time.Duration `mapstructure:"min_delay"`
	PartitionField   string        `mapstructure:"partition_field"`
	MaxURLsPerBucket int           `mapstructure:"max_urls_per_bucket"`
	MaxBucketNum     int           `mapstructure:"max_bucket_num"`
	// Shards lists the shards to run one populator each for. Empty means a
	// single populator querying every shard.
	Shards         []int         `mapstructure:"shards"`
	LogIDPrefix    string        `mapstructure:"log_id_prefix"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	BufferCapacity int           `mapstructure:"buffer_capacity"`
}

// InFlightConfig selects the in-flight set backend.
type InFlightConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig addresses the shared in-flight set.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ElasticsearchConfig addresses the frontier index.
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// PostgresConfig controls access to the frontier table.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds the dispatch topic. An empty project keeps messages in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DispatchConfig controls buffer draining and refill cadence.
type DispatchConfig struct {
	LowWatermark int           `mapstructure:"low_watermark"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Workers      int           `mapstructure:"workers"`
	// MaxRate caps publishes per second; 0 disables the cap.
	MaxRate float64 `mapstructure:"max_rate"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRONTIER")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.service_name", "crawler-frontier")
	v.SetDefault("tracing.sample_ratio", 0.0)
	v.SetDefault("frontier.store", StoreMemory)
	v.SetDefault("frontier.min_delay", 2*time.Second)
	v.SetDefault("frontier.partition_field", "hostname")
	v.SetDefault("frontier.max_urls_per_bucket", 10)
	v.SetDefault("frontier.max_bucket_num", 10)
	v.SetDefault("frontier.shards", []int{})
	v.SetDefault("frontier.log_id_prefix", "")
	v.SetDefault("frontier.query_timeout", 10*time.Second)
	v.SetDefault("frontier.buffer_capacity", 1000)
	v.SetDefault("inflight.backend", InFlightMemory)
	v.SetDefault("inflight.ttl", 10*time.Minute)
	v.SetDefault("inflight.redis.addr", "localhost:6379")
	v.SetDefault("inflight.redis.key_prefix", "frontier:inflight:")
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "status")
	v.SetDefault("postgres.table", "frontier")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("pubsub.topic_name", "frontier-dispatch")
	v.SetDefault("dispatch.low_watermark", 100)
	v.SetDefault("dispatch.poll_interval", time.Second)
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.max_rate", 0.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Frontier.Store {
	case StoreMemory:
	case StoreElasticsearch:
		if len(c.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("elasticsearch.addresses must be set when frontier.store is %s", StoreElasticsearch)
		}
		if c.Elasticsearch.Index == "" {
			return fmt.Errorf("elasticsearch.index must be set when frontier.store is %s", StoreElasticsearch)
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn must be set when frontier.store is %s", StorePostgres)
		}
	default:
		return fmt.Errorf("frontier.store must be one of %s, %s, %s", StoreMemory, StoreElasticsearch, StorePostgres)
	}
	if c.Frontier.MinDelay < 0 {
		return fmt.Errorf("frontier.min_delay must be >= 0")
	}
	if c.Frontier.PartitionField == "" {
		return fmt.Errorf("frontier.partition_field is required")
	}
	if c.Frontier.MaxURLsPerBucket <= 0 {
		return fmt.Errorf("frontier.max_urls_per_bucket must be > 0")
	}
	if c.Frontier.MaxBucketNum <= 0 {
		return fmt.Errorf("frontier.max_bucket_num must be > 0")
	}
	seen := make(map[int]bool, len(c.Frontier.Shards))
	for _, shard := range c.Frontier.Shards {
		if shard < 0 {
			return fmt.Errorf("frontier.shards must be >= 0")
		}
		if seen[shard] {
			return fmt.Errorf("frontier.shards contains duplicate shard %d", shard)
		}
		seen[shard] = true
	}
	if c.Frontier.QueryTimeout <= 0 {
		return fmt.Errorf("frontier.query_timeout must be > 0")
	}
	if c.Frontier.BufferCapacity <= 0 {
		return fmt.Errorf("frontier.buffer_capacity must be > 0")
	}
	switch c.InFlight.Backend {
	case InFlightMemory:
	case InFlightRedis:
		if c.InFlight.Redis.Addr == "" {
			return fmt.Errorf("inflight.redis.addr must be set when inflight.backend is %s", InFlightRedis)
		}
	default:
		return fmt.Errorf("inflight.backend must be one of %s, %s", InFlightMemory, InFlightRedis)
	}
	if c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name is required")
	}
	if c.Dispatch.LowWatermark < 0 {
		return fmt.Errorf("dispatch.low_watermark must be >= 0")
	}
	if c.Dispatch.PollInterval <= 0 {
		return fmt.Errorf("dispatch.poll_interval must be > 0")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be > 0")
	}
	if c.Dispatch.MaxRate < 0 {
		return fmt.Errorf("dispatch.max_rate must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// ShardList returns the shards to run populators for, using -1 for "all shards"
// when none are configured.
func (c FrontierConfig) ShardList() []int {
	if len(c.Shards) == 0 {
		return []int{-1}
	}
	return append([]int(nil), c.Shards...)
}
