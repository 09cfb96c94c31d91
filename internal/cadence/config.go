package cadence

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Graph   GraphConfig   `yaml:"graph"`
	API     APIConfig     `yaml:"api"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type GraphConfig struct {
	Name string `yaml:"name"`
	// Quantum is the cycle duration in samples.
	Quantum uint64 `yaml:"quantum"`
	// Rate is the sample rate of the graph clock.
	Rate uint32 `yaml:"rate"`
	// SyncTimeout is the budget for a synchronized state change.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// GetConfigWithDefaults returns default configuration values
func GetConfigWithDefaults() *Config {
	return &Config{
		Graph: GraphConfig{
			Name:        "cadence",
			Quantum:     1024,
			Rate:        48000,
			SyncTimeout: 5 * time.Second,
		},
		API: APIConfig{
			Port: 9080,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Port:     9090,
			Interval: time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from yaml file
func LoadConfig() (*Config, error) {
	config := GetConfigWithDefaults()

	configPath := filepath.Join("configs", "default.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("Config file not found (%s), using default values:\n", configPath)
		fmt.Printf("  Graph Name: %s\n", config.Graph.Name)
		fmt.Printf("  Quantum: %d samples\n", config.Graph.Quantum)
		fmt.Printf("  Rate: %d Hz\n", config.Graph.Rate)
		fmt.Printf("  Sync Timeout: %v\n", config.Graph.SyncTimeout)
		fmt.Printf("  API Port: %d\n", config.API.Port)
		fmt.Printf("  Metrics Port: %d\n", config.Metrics.Port)
		fmt.Printf("  Log Level: %s\n", config.Logging.Level)
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	fmt.Printf("Config loaded from %s:\n", configPath)
	fmt.Printf("  Graph Name: %s\n", config.Graph.Name)
	fmt.Printf("  Quantum: %d samples\n", config.Graph.Quantum)
	fmt.Printf("  Rate: %d Hz\n", config.Graph.Rate)
	fmt.Printf("  Sync Timeout: %v\n", config.Graph.SyncTimeout)
	fmt.Printf("  API Port: %d\n", config.API.Port)
	fmt.Printf("  Metrics Port: %d\n", config.Metrics.Port)
	fmt.Printf("  Log Level: %s\n", config.Logging.Level)
	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Graph.Name == "" {
		return fmt.Errorf("graph name must not be empty")
	}

	if c.Graph.Quantum < 32 || c.Graph.Quantum > 8192 {
		return fmt.Errorf("invalid quantum: %d (must be between 32-8192 samples)", c.Graph.Quantum)
	}

	if c.Graph.Rate < 8000 || c.Graph.Rate > 384000 {
		return fmt.Errorf("invalid rate: %d (must be between 8000-384000 Hz)", c.Graph.Rate)
	}

	if c.Graph.SyncTimeout < 100*time.Millisecond || c.Graph.SyncTimeout > time.Minute {
		return fmt.Errorf("invalid sync timeout: %v (must be between 100ms-1m)", c.Graph.SyncTimeout)
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d (must be between 1-65535)", c.API.Port)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d (must be between 1-65535)", c.Metrics.Port)
		}
		if c.Metrics.Interval < 100*time.Millisecond {
			return fmt.Errorf("invalid metrics interval: %v (must be at least 100ms)", c.Metrics.Interval)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	return nil
}

// GetSlogLevel returns slog.Level from config
func (c *Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
