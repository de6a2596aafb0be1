// Package config loads and validates the replicator configuration from a YAML
// file with environment-variable overrides. It provides typed structs for the
// source database, checkpoint store, search index, notification bus and the
// polling loop itself.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Redis         RedisConfig         `yaml:"redis"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Backoff       BackoffConfig       `yaml:"backoff"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds the ops HTTP server (health probes) settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds the checkpoint store connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// ElasticsearchConfig holds the destination index settings.
type ElasticsearchConfig struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Index     string   `yaml:"index"`
}

// KafkaConfig holds the change-notification bus settings. The bus is
// optional; when disabled the replicator runs on its idle timer alone.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexUpdated       string `yaml:"indexUpdated"`
	ReplicationTrigger string `yaml:"replicationTrigger"`
}

// PipelineConfig controls the polling loop and the extraction queries.
type PipelineConfig struct {
	Tables            []string      `yaml:"tables"`
	PrimaryTable      string        `yaml:"primaryTable"`
	Schema            string        `yaml:"schema"`
	BatchSize         int           `yaml:"batchSize"`
	IdleSleep         time.Duration `yaml:"idleSleep"`
	// EmptyRoundSleep pauses the loop after a full round in which no table
	// had changes. Zero polls continuously.
	EmptyRoundSleep   time.Duration `yaml:"emptyRoundSleep"`
	QueryTimeout      time.Duration `yaml:"queryTimeout"`
	StateKey          string        `yaml:"stateKey"`
	LivenessThreshold time.Duration `yaml:"livenessThreshold"`
}

// BackoffConfig controls the publish retry policy. MaxAttempts of zero
// retries forever.
type BackoffConfig struct {
	Start       time.Duration `yaml:"start"`
	Factor      float64       `yaml:"factor"`
	Cap         time.Duration `yaml:"cap"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to use as a table or schema
// name in generated SQL.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	p := c.Pipeline
	if len(p.Tables) == 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "pipeline.tables must not be empty")
	}
	for _, t := range p.Tables {
		if !ValidIdentifier(t) {
			return apperrors.Newf(apperrors.ErrInvalidInput, "pipeline.tables: bad table name %q", t)
		}
	}
	if !ValidIdentifier(p.PrimaryTable) {
		return apperrors.Newf(apperrors.ErrInvalidInput, "pipeline.primaryTable: bad table name %q", p.PrimaryTable)
	}
	if !ValidIdentifier(p.Schema) {
		return apperrors.Newf(apperrors.ErrInvalidInput, "pipeline.schema: bad schema name %q", p.Schema)
	}
	if p.BatchSize <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "pipeline.batchSize must be positive, got %d", p.BatchSize)
	}
	if p.IdleSleep < 0 || p.EmptyRoundSleep < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "pipeline sleeps must not be negative")
	}
	if p.StateKey == "" {
		return apperrors.Newf(apperrors.ErrInvalidInput, "pipeline.stateKey must not be empty")
	}
	if c.Elasticsearch.Index == "" {
		return apperrors.Newf(apperrors.ErrInvalidInput, "elasticsearch.index must not be empty")
	}
	b := c.Backoff
	if b.Start <= 0 || b.Cap < b.Start || b.Factor < 1 {
		return apperrors.Newf(apperrors.ErrInvalidInput,
			"backoff: need start > 0, cap >= start and factor >= 1 (got %v, %v, %v)", b.Start, b.Cap, b.Factor)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "movies_database",
			User:            "app",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 4,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses: []string{"http://localhost:9200"},
			Index:     "movies",
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "pg-search-replicator",
			Topics: KafkaTopics{
				IndexUpdated:       "search.index-updated",
				ReplicationTrigger: "search.replication-trigger",
			},
		},
		Pipeline: PipelineConfig{
			Tables:            []string{"film_work", "person", "genre"},
			PrimaryTable:      "film_work",
			Schema:            "content",
			BatchSize:         100,
			IdleSleep:         10 * time.Second,
			EmptyRoundSleep:   time.Second,
			QueryTimeout:      30 * time.Second,
			StateKey:          "etl_data",
			LivenessThreshold: 10 * time.Minute,
		},
		Backoff: BackoffConfig{
			Start:       100 * time.Millisecond,
			Factor:      2,
			Cap:         10 * time.Second,
			MaxAttempts: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_ELASTIC_ADDRESSES"); v != "" {
		cfg.Elasticsearch.Addresses = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_ELASTIC_INDEX"); v != "" {
		cfg.Elasticsearch.Index = v
	}
	if v := os.Getenv("SP_ELASTIC_USERNAME"); v != "" {
		cfg.Elasticsearch.Username = v
	}
	if v := os.Getenv("SP_ELASTIC_PASSWORD"); v != "" {
		cfg.Elasticsearch.Password = v
	}
	if v := os.Getenv("SP_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_PIPELINE_TABLES"); v != "" {
		cfg.Pipeline.Tables = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_PIPELINE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.BatchSize = n
		}
	}
	if v := os.Getenv("SP_PIPELINE_IDLE_SLEEP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.IdleSleep = d
		}
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
