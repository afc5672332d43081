// Package config provides unified configuration loading for the enrichment engine.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the enrichment engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Queue         QueueConfig         `yaml:"queue"`
	Bedrock       BedrockConfig       `yaml:"bedrock"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Worker        WorkerConfig        `yaml:"worker"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Source        SourceConfig        `yaml:"source"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// QueueConfig holds the Redis-backed work queue settings.
type QueueConfig struct {
	URL              string        `yaml:"url" validate:"required"`
	Name             string        `yaml:"name"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	VisibilitySec    int           `yaml:"visibility_sec" validate:"min=1"`
	ThrottleDelaySec int           `yaml:"throttle_delay_sec" validate:"min=1"`
	MaxReceiveCount  int           `yaml:"max_receive_count" validate:"min=1"`
	ReceiveWait      time.Duration `yaml:"receive_wait"`
}

// BedrockConfig holds AI provider settings.
type BedrockConfig struct {
	Region           string `yaml:"region"`
	ModelID          string `yaml:"model_id" validate:"required"`
	EmbeddingModelID string `yaml:"embedding_model_id" validate:"required"`
	MaxTokens        int    `yaml:"max_tokens" validate:"min=1"`
	Dimension        int    `yaml:"dimension" validate:"min=1"`
}

// RateLimitConfig holds the chat and embedding QPS gates.
type RateLimitConfig struct {
	ChatQPS  float64 `yaml:"chat_qps" validate:"min=0.1"`
	EmbedQPS float64 `yaml:"embed_qps" validate:"min=0.1"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	PoolSize      int           `yaml:"pool_size" validate:"min=1"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

// ChunkingConfig holds sentence chunking settings.
type ChunkingConfig struct {
	LengthThreshold   int `yaml:"length_threshold" validate:"min=1"`
	SentencesPerChunk int `yaml:"sentences_per_chunk" validate:"min=1"`
	SentenceOverlap   int `yaml:"sentence_overlap" validate:"min=0"`
}

// ConsolidationConfig holds consolidation settings.
type ConsolidationConfig struct {
	Deduplicate bool `yaml:"deduplicate"`
}

// SourceConfig holds payload resolution settings.
type SourceConfig struct {
	DefaultS3Bucket     string `yaml:"default_s3_bucket"`
	DefaultJSONFilePath string `yaml:"default_json_file_path"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file next to the working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.clamp()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             "postgres://localhost:5432/enrichment?sslmode=disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Queue: QueueConfig{
			URL:              "redis://localhost:6379",
			Name:             "enrichment-items",
			VisibilitySec:    300,
			ThrottleDelaySec: 180,
			MaxReceiveCount:  5,
			ReceiveWait:      20 * time.Second,
		},
		Bedrock: BedrockConfig{
			Region:           "us-east-1",
			ModelID:          "anthropic.claude-3-haiku-20240307-v1:0",
			EmbeddingModelID: "amazon.titan-embed-text-v2:0",
			MaxTokens:        1024,
			Dimension:        1024,
		},
		RateLimit: RateLimitConfig{
			ChatQPS:  0.5,
			EmbedQPS: 5.0,
		},
		Worker: WorkerConfig{
			PoolSize:     4,
			DrainTimeout: 60 * time.Second,
		},
		Chunking: ChunkingConfig{
			LengthThreshold:   500,
			SentencesPerChunk: 2,
			SentenceOverlap:   1,
		},
		Consolidation: ConsolidationConfig{
			Deduplicate: true,
		},
		Source: SourceConfig{},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "enrichment-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Chunking.SentenceOverlap >= c.Chunking.SentencesPerChunk {
		return fmt.Errorf("sentence_overlap (%d) must be less than sentences_per_chunk (%d)",
			c.Chunking.SentenceOverlap, c.Chunking.SentencesPerChunk)
	}
	return validator.New().Struct(c)
}

// clamp raises out-of-range rates to their floors rather than rejecting them.
func (c *Config) clamp() {
	if c.RateLimit.ChatQPS < 0.1 {
		c.RateLimit.ChatQPS = 0.1
	}
	if c.RateLimit.EmbedQPS < 0.1 {
		c.RateLimit.EmbedQPS = 0.1
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("QUEUE_URL"); v != "" {
		if !strings.Contains(v, "://") {
			v = "redis://" + v
		}
		cfg.Queue.URL = v
	}
	if v := os.Getenv("QUEUE_NAME"); v != "" {
		cfg.Queue.Name = v
	}
	if v := os.Getenv("QUEUE_VISIBILITY_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.VisibilitySec = n
		}
	}
	if v := os.Getenv("THROTTLE_DELAY_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.ThrottleDelaySec = n
		}
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Bedrock.Region = v
	}
	if v := os.Getenv("MODEL_ID"); v != "" {
		cfg.Bedrock.ModelID = v
	}
	if v := os.Getenv("EMBEDDING_MODEL_ID"); v != "" {
		cfg.Bedrock.EmbeddingModelID = v
	}
	if v := os.Getenv("BEDROCK_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bedrock.MaxTokens = n
		}
	}
	if v := os.Getenv("CHAT_QPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.ChatQPS = f
		}
	}
	if v := os.Getenv("EMBED_QPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.EmbedQPS = f
		}
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.PoolSize = n
		}
	}
	if v := os.Getenv("LENGTH_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.LengthThreshold = n
		}
	}
	if v := os.Getenv("SENTENCES_PER_CHUNK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.SentencesPerChunk = n
		}
	}
	if v := os.Getenv("SENTENCE_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.SentenceOverlap = n
		}
	}
	if v := os.Getenv("DEFAULT_S3_BUCKET"); v != "" {
		cfg.Source.DefaultS3Bucket = v
	}
	if v := os.Getenv("DEFAULT_JSON_FILE_PATH"); v != "" {
		cfg.Source.DefaultJSONFilePath = v
	}
	if v := os.Getenv("DEDUPLICATE_CONSOLIDATED"); v != "" {
		cfg.Consolidation.Deduplicate = v == "true" || v == "1"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
