// Package logger builds the process logger from configuration.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/soundprediction/kgindex/pkg/config"
	"github.com/soundprediction/kgindex/pkg/telemetry"
)

// New creates a slog.Logger from log configuration. When parquetDir is
// non-empty, warning-and-above records are additionally batched to Parquet
// telemetry files.
func New(cfg config.LogConfig, parquetDir string) (*slog.Logger, error) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	if parquetDir != "" {
		ph, err := telemetry.NewParquetHandler(handler, parquetDir)
		if err != nil {
			return nil, fmt.Errorf("failed to set up telemetry handler: %w", err)
		}
		handler = ph
	}

	return slog.New(handler), nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
