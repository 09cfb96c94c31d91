package cadence

import (
	"log/slog"
	"os"
)

// InitLogger installs the default logger with the configured level.
func InitLogger(config *Config) {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetSlogLevel(),
	})
	slog.SetDefault(slog.New(handler))
}
