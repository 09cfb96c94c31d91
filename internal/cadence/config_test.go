package cadence

import (
	"log/slog"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	c := GetConfigWithDefaults()

	if err := c.validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if c.Graph.Quantum != 1024 {
		t.Errorf("Expected quantum 1024, got %d", c.Graph.Quantum)
	}
	if c.Graph.Rate != 48000 {
		t.Errorf("Expected rate 48000, got %d", c.Graph.Rate)
	}
	if c.Graph.SyncTimeout != 5*time.Second {
		t.Errorf("Expected sync timeout 5s, got %v", c.Graph.SyncTimeout)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"empty graph name", func(c *Config) { c.Graph.Name = "" }, false},
		{"quantum too small", func(c *Config) { c.Graph.Quantum = 16 }, false},
		{"quantum too large", func(c *Config) { c.Graph.Quantum = 16384 }, false},
		{"rate too low", func(c *Config) { c.Graph.Rate = 4000 }, false},
		{"sync timeout too short", func(c *Config) { c.Graph.SyncTimeout = time.Millisecond }, false},
		{"bad api port", func(c *Config) { c.API.Port = 0 }, false},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }, false},
		{"metrics disabled skips port check", func(c *Config) { c.Metrics.Enabled = false; c.Metrics.Port = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, false},
		{"uppercase log level", func(c *Config) { c.Logging.Level = "DEBUG" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := GetConfigWithDefaults()
			tt.mutate(c)
			err := c.validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestGetSlogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		c := &Config{Logging: LoggingConfig{Level: tt.level}}
		if got := c.GetSlogLevel(); got != tt.expected {
			t.Errorf("Level %q: expected %v, got %v", tt.level, tt.expected, got)
		}
	}
}
