package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/keyframes/pkg/curve"
	"github.com/vjranagit/keyframes/pkg/curveset"
	"github.com/vjranagit/keyframes/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Optimizer OptimizerConfig `json:"optimizer" yaml:"optimizer"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `json:"listen_addr" yaml:"listen_addr"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	// MaxBodyBytes bounds the size of an uploaded clip.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// StorageConfig holds archive configuration
type StorageConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	Path             string        `json:"path" yaml:"path"`
	CompressionLevel int           `json:"compression_level" yaml:"compression_level"`
	CacheCapacity    int           `json:"cache_capacity" yaml:"cache_capacity"`
	CacheTTL         time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// OptimizerConfig holds curve reduction tolerances
type OptimizerConfig struct {
	Precision       float64 `json:"precision" yaml:"precision"`
	ToleranceFactor float64 `json:"tolerance_factor" yaml:"tolerance_factor"`
	Workers         int     `json:"workers" yaml:"workers"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
			Timeout:      30 * time.Second,
			MaxBodyBytes: int64(getEnvInt("MAX_BODY_BYTES", 64<<20)),
		},
		Storage: StorageConfig{
			Enabled:          getEnvBool("STORAGE_ENABLED", true),
			Path:             getEnv("STORAGE_PATH", "./data"),
			CompressionLevel: getEnvInt("COMPRESSION_LEVEL", 3),
			CacheCapacity:    getEnvInt("CACHE_CAPACITY", 128),
			CacheTTL:         10 * time.Minute,
		},
		Optimizer: OptimizerConfig{
			Precision:       getEnvFloat("OPTIMIZER_PRECISION", curve.DefaultOptions.Precision),
			ToleranceFactor: getEnvFloat("OPTIMIZER_TOLERANCE_FACTOR", curve.DefaultOptions.ToleranceFactor),
			Workers:         getEnvInt("OPTIMIZER_WORKERS", 1),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// LoadFile reads a YAML config file over the defaults. Keys missing from the
// file keep their default value.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig(logger *slog.Logger) *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		CompressionLevel: c.Storage.CompressionLevel,
		Logger:           logger,
	}
}

// ToBuilderConfig converts to curveset.Config
func (c *Config) ToBuilderConfig(logger *slog.Logger) curveset.Config {
	return curveset.Config{
		Channels: curveset.BoneChannels,
		Optimizer: curve.Options{
			Precision:       c.Optimizer.Precision,
			ToleranceFactor: c.Optimizer.ToleranceFactor,
		},
		Workers: c.Optimizer.Workers,
		Logger:  logger,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Storage.Enabled {
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}

		if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
			return fmt.Errorf("compression level must be between 1 and 4")
		}
	}

	if c.Optimizer.Precision < 0 {
		return fmt.Errorf("optimizer precision must not be negative")
	}

	if c.Optimizer.ToleranceFactor < 0 || c.Optimizer.ToleranceFactor > 1 {
		return fmt.Errorf("optimizer tolerance factor must be between 0 and 1")
	}

	if c.Optimizer.Workers < 1 {
		return fmt.Errorf("optimizer workers must be at least 1")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel parses the configured log level
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatVal float64
		if _, err := fmt.Sscanf(value, "%g", &floatVal); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
