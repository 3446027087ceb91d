// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// phrase pipeline and for every subsystem of the job service (Server,
// Postgres, Kafka, Redis, Worker, Logging, Metrics).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings. RPCPort serves the same job API
// over pkg/rpc; 0 disables it.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RPCPort         int           `yaml:"rpcPort"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
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

// KafkaConfig holds Kafka broker and topic settings. A consumer retries a
// failed message HandlerAttempts times, HandlerRetryDelay apart at first,
// before it gives up without committing.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	ConsumerGroup     string        `yaml:"consumerGroup"`
	Topics            KafkaTopics   `yaml:"topics"`
	HandlerAttempts   int           `yaml:"handlerAttempts"`
	HandlerRetryDelay time.Duration `yaml:"handlerRetryDelay"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Jobs      string `yaml:"jobs"`
	JobEvents string `yaml:"jobEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PipelineConfig controls the top-K phrase pipeline: the phrase delimiter,
// the aggregation window and sort chunk size, the result size, and where
// chunk files are spilled.
type PipelineConfig struct {
	Delimiter        string `yaml:"delimiter"`
	ChunkRecordLimit int    `yaml:"chunkRecordLimit"`
	TopK             int    `yaml:"topK"`
	TempDir          string `yaml:"tempDir"`
	ChunkPrefix      string `yaml:"chunkPrefix"`
	SplitWorkers     int    `yaml:"splitWorkers"`
}

// WorkerConfig controls how the job worker runs pipelines. MaxAttempts
// counts whole-pipeline runs; 1 disables retries.
type WorkerConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	RetryDelay   time.Duration `yaml:"retryDelay"`
	RunTimeout   time.Duration `yaml:"runTimeout"`
	InputRootDir string        `yaml:"inputRootDir"`
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

// DotEnvFile is read into the process environment by Load when it exists.
// Variables already set in the environment win.
var DotEnvFile = ".env"

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides, including those from DotEnvFile. It returns a Config populated
// with sensible defaults for any missing values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", DotEnvFile, err)
	}
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
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPipeline returns the default pipeline settings.
func DefaultPipeline() PipelineConfig {
	return defaultConfig().Pipeline
}

// Validate reports the first invalid pipeline setting.
func (p PipelineConfig) Validate() error {
	if utf8.RuneCountInString(p.Delimiter) != 1 {
		return fmt.Errorf("pipeline.delimiter must be a single character, got %q", p.Delimiter)
	}
	if p.ChunkRecordLimit <= 0 {
		return fmt.Errorf("pipeline.chunkRecordLimit must be positive, got %d", p.ChunkRecordLimit)
	}
	if p.TopK <= 0 {
		return fmt.Errorf("pipeline.topK must be positive, got %d", p.TopK)
	}
	if p.ChunkPrefix == "" || strings.ContainsAny(p.ChunkPrefix, `/\`) {
		return fmt.Errorf("pipeline.chunkPrefix must be a plain file name prefix, got %q", p.ChunkPrefix)
	}
	if p.SplitWorkers < 0 {
		return fmt.Errorf("pipeline.splitWorkers must not be negative, got %d", p.SplitWorkers)
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			RPCPort:         9000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "topphrases",
			User:            "topphrases",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "topphrases-workers",
			Topics: KafkaTopics{
				Jobs:      "phrase-jobs",
				JobEvents: "phrase-job-events",
			},
			HandlerAttempts:   5,
			HandlerRetryDelay: 500 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Delimiter:        "|",
			ChunkRecordLimit: 100000,
			TopK:             100000,
			TempDir:          os.TempDir(),
			ChunkPrefix:      "sort-file-",
			SplitWorkers:     2,
		},
		Worker: WorkerConfig{
			MaxAttempts: 1,
			RetryDelay:  time.Second,
			RunTimeout:  30 * time.Minute,
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

// applyEnvOverrides reads TP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TP_SERVER_RPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.RPCPort = port
		}
	}
	if v := os.Getenv("TP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TP_KAFKA_HANDLER_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Kafka.HandlerAttempts = n
		}
	}
	if v := os.Getenv("TP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TP_PIPELINE_DELIMITER"); v != "" {
		cfg.Pipeline.Delimiter = v
	}
	if v := os.Getenv("TP_PIPELINE_CHUNK_RECORD_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ChunkRecordLimit = n
		}
	}
	if v := os.Getenv("TP_PIPELINE_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.TopK = n
		}
	}
	if v := os.Getenv("TP_PIPELINE_TEMP_DIR"); v != "" {
		cfg.Pipeline.TempDir = v
	}
	if v := os.Getenv("TP_WORKER_INPUT_ROOT"); v != "" {
		cfg.Worker.InputRootDir = v
	}
	if v := os.Getenv("TP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
