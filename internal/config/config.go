// Package config provides configuration management for engram.
// It loads settings from environment variables with the ENGRAM_ prefix and
// provides sensible defaults for all configuration options. An optional YAML
// config file can be layered on top; explicit environment variables still
// win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the engram daemon.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Engine    EngineConfig    `yaml:"engine"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// DatabaseConfig contains row store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"` // Path to the SQLite database file (default: ./data/engram.db)
}

// IndexConfig contains vector index configuration.
type IndexConfig struct {
	Path    string `yaml:"path"`    // Directory for index persistence (default: ./data/index)
	Enabled bool   `yaml:"enabled"` // Enable the vector index (default: true)
}

// EmbeddingConfig contains embedding service configuration.
type EmbeddingConfig struct {
	OllamaURL  string        `yaml:"ollama_url"`  // Ollama API URL (default: http://localhost:11434)
	Model      string        `yaml:"model"`       // Embedding model name (default: nomic-embed-text)
	Dimension  int           `yaml:"dimension"`   // Vector dimension (default: 384)
	Version    int           `yaml:"version"`     // Embedding version recorded as provenance (default: 1)
	Timeout    time.Duration `yaml:"timeout"`     // Per-request timeout (default: 5s)
	RatePerSec float64       `yaml:"rate_limit"`  // Requests per second to the embedding service (default: 10)
	Burst      int           `yaml:"rate_burst"`  // Rate limiter burst (default: 5)
}

// EngineConfig contains engine worker pool configuration.
type EngineConfig struct {
	NumWorkers      int           `yaml:"num_workers"`      // Background embedding workers (default: 2)
	QueueSize       int           `yaml:"queue_size"`       // Embedding job queue capacity (default: 100)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Graceful drain bound (default: 10s)
}

// ReconcileConfig contains background reconciliation configuration.
type ReconcileConfig struct {
	Interval  time.Duration `yaml:"interval"`   // Time between reconciliation passes (default: 5m)
	BatchSize int           `yaml:"batch_size"` // Entities per progress batch (default: 50)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the ENGRAM_ prefix. When
// ENGRAM_CONFIG_FILE points at a YAML file, its values are applied between
// the defaults and the environment variables.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()

	if path := os.Getenv("ENGRAM_CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
		// Env vars take precedence over file values.
		applyEnv(cfg)
	}

	return cfg, nil
}

// applyFile overlays YAML file values onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Path: "./data/engram.db",
		},
		Index: IndexConfig{
			Path:    "./data/index",
			Enabled: true,
		},
		Embedding: EmbeddingConfig{
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimension:  384,
			Version:    1,
			Timeout:    5 * time.Second,
			RatePerSec: 10,
			Burst:      5,
		},
		Engine: EngineConfig{
			NumWorkers:      2,
			QueueSize:       100,
			ShutdownTimeout: 10 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Interval:  5 * time.Minute,
			BatchSize: 50,
		},
	}
	applyEnv(cfg)
	return cfg
}

// applyEnv overlays ENGRAM_ environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.Database.Path = getEnv("ENGRAM_DB_PATH", cfg.Database.Path)
	cfg.Index.Path = getEnv("ENGRAM_INDEX_PATH", cfg.Index.Path)
	cfg.Index.Enabled = getEnvBool("ENGRAM_INDEX_ENABLED", cfg.Index.Enabled)
	cfg.Embedding.OllamaURL = getEnv("ENGRAM_OLLAMA_URL", cfg.Embedding.OllamaURL)
	cfg.Embedding.Model = getEnv("ENGRAM_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimension = getEnvInt("ENGRAM_EMBEDDING_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.Version = getEnvInt("ENGRAM_EMBEDDING_VERSION", cfg.Embedding.Version)
	cfg.Embedding.Timeout = getEnvDuration("ENGRAM_EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.RatePerSec = getEnvFloat("ENGRAM_EMBEDDING_RATE", cfg.Embedding.RatePerSec)
	cfg.Embedding.Burst = getEnvInt("ENGRAM_EMBEDDING_BURST", cfg.Embedding.Burst)
	cfg.Engine.NumWorkers = getEnvInt("ENGRAM_NUM_WORKERS", cfg.Engine.NumWorkers)
	cfg.Engine.QueueSize = getEnvInt("ENGRAM_QUEUE_SIZE", cfg.Engine.QueueSize)
	cfg.Engine.ShutdownTimeout = getEnvDuration("ENGRAM_SHUTDOWN_TIMEOUT", cfg.Engine.ShutdownTimeout)
	cfg.Reconcile.Interval = getEnvDuration("ENGRAM_RECONCILE_INTERVAL", cfg.Reconcile.Interval)
	cfg.Reconcile.BatchSize = getEnvInt("ENGRAM_RECONCILE_BATCH_SIZE", cfg.Reconcile.BatchSize)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the variable exists but cannot be parsed, the default wins.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (e.g. "30s", "5m")
// or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
