// Package config loads the service configuration from the environment. Every
// knob has a production default; deployments override via env vars using the
// APP_ prefix (APP_REDIS_ADDR, APP_RIOT_API_KEY, ...).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration shared by the api and worker
// binaries.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	LogLevel    string `mapstructure:"log_level"`

	HTTPAddr   string `mapstructure:"http_addr"`
	HealthAddr string `mapstructure:"health_addr"`

	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
	Riot  RiotConfig  `mapstructure:"riot"`
	Job   JobConfig   `mapstructure:"job"`
	Otel  OtelConfig  `mapstructure:"otel"`
}

// RedisConfig locates the coordination store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig locates the work queue.
type KafkaConfig struct {
	Brokers          string `mapstructure:"brokers"`
	JobTopic         string `mapstructure:"job_topic"`
	UnitTopic        string `mapstructure:"unit_topic"`
	AggregationTopic string `mapstructure:"aggregation_topic"`
	GroupID          string `mapstructure:"group_id"`
	ClientID         string `mapstructure:"client_id"`
}

// BrokerList splits the comma-separated broker string.
func (k KafkaConfig) BrokerList() []string {
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RiotConfig configures the upstream API client.
type RiotConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	LocalRPS   float64       `mapstructure:"local_rps"`
}

// Execution modes for the worker binary.
const (
	// ModeQueue fans jobs out over the broker and back in via the shared
	// counter.
	ModeQueue = "queue"
	// ModeWorkflow runs each job start-to-finish inside the consuming
	// worker.
	ModeWorkflow = "workflow"
)

// JobConfig tunes the coordination layer.
type JobConfig struct {
	// ExecutionMode selects how consumed jobs are executed: ModeQueue or
	// ModeWorkflow.
	ExecutionMode string `mapstructure:"execution_mode"`

	GamesToFetch int `mapstructure:"games_to_fetch"`
	Workers      int `mapstructure:"workers"`

	RequestInterval  time.Duration `mapstructure:"request_interval"`
	AdmissionPoll    time.Duration `mapstructure:"admission_poll"`
	AdmissionMaxWait time.Duration `mapstructure:"admission_max_wait"`

	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
	RenewInterval time.Duration `mapstructure:"renew_interval"`

	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	AggregationTTL time.Duration `mapstructure:"aggregation_ttl"`
	PartialTTL     time.Duration `mapstructure:"partial_ttl"`
	ErrorTTL       time.Duration `mapstructure:"error_ttl"`
}

// OtelConfig configures trace export.
type OtelConfig struct {
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	Probability      float64 `mapstructure:"probability"`
	Insecure         bool    `mapstructure:"insecure"`
}

// Load reads configuration from the environment on top of the defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// AutomaticEnv resolves keys lazily; touching each default makes every
	// key visible to Unmarshal.
	for _, key := range v.AllKeys() {
		if val := v.Get(key); val != nil {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "loltimeanalysis")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("health_addr", ":8081")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.job_topic", "match-fetch-jobs")
	v.SetDefault("kafka.unit_topic", "match-fetch-units")
	v.SetDefault("kafka.aggregation_topic", "match-fetch-aggregations")
	v.SetDefault("kafka.group_id", "match-fetch-workers")
	v.SetDefault("kafka.client_id", "loltimeanalysis")

	v.SetDefault("riot.api_key", "")
	v.SetDefault("riot.timeout", 15*time.Second)
	v.SetDefault("riot.retry_count", 3)
	v.SetDefault("riot.local_rps", 0.8)

	v.SetDefault("job.execution_mode", ModeQueue)
	v.SetDefault("job.games_to_fetch", 500)
	v.SetDefault("job.workers", 4)
	v.SetDefault("job.request_interval", 1250*time.Millisecond)
	v.SetDefault("job.admission_poll", 100*time.Millisecond)
	v.SetDefault("job.admission_max_wait", 30*time.Second)
	v.SetDefault("job.lease_ttl", 5*time.Minute)
	v.SetDefault("job.renew_interval", time.Minute)
	v.SetDefault("job.cache_ttl", 180*24*time.Hour)
	v.SetDefault("job.cooldown", time.Minute)
	v.SetDefault("job.aggregation_ttl", time.Hour)
	v.SetDefault("job.partial_ttl", time.Hour)
	v.SetDefault("job.error_ttl", time.Hour)

	v.SetDefault("otel.exporter_endpoint", "")
	v.SetDefault("otel.probability", 0.05)
	v.SetDefault("otel.insecure", true)
}

func (c Config) validate() error {
	if c.Job.GamesToFetch <= 0 {
		return fmt.Errorf("job.games_to_fetch must be positive, got %d", c.Job.GamesToFetch)
	}
	if c.Job.RenewInterval >= c.Job.LeaseTTL/2 {
		return fmt.Errorf("job.renew_interval (%s) must be under half the lease ttl (%s)",
			c.Job.RenewInterval, c.Job.LeaseTTL)
	}
	if len(c.Kafka.BrokerList()) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if c.Job.ExecutionMode != ModeQueue && c.Job.ExecutionMode != ModeWorkflow {
		return fmt.Errorf("job.execution_mode must be %q or %q, got %q", ModeQueue, ModeWorkflow, c.Job.ExecutionMode)
	}
	return nil
}
