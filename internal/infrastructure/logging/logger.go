package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/tuya-bridge/internal/infrastructure/config"
)

// Logger is the bridge's structured logger, a thin wrapper over slog.
//
// Every line carries the service name and build version so log aggregators
// can tell bridge instances apart. Safe for concurrent use; sessions, the
// router, and the MQTT client all share one instance.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the configuration:
// JSON or text format, stdout or stderr, and a minimum level. Unknown
// values fall back to JSON/stdout/info rather than failing startup —
// a bridge with slightly wrong log settings is still a working bridge.
func New(cfg config.LoggingConfig, version string) *Logger {
	// Determine output writer
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	// Parse log level
	level := parseLevel(cfg.Level)

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	// Add default fields
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "tuya-bridge"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a child Logger that stamps args onto every line, e.g.
//
//	deviceLog := logger.With("device", desc.TopicName)
//	deviceLog.Info("connected") // device=kitchen_heat_pump on every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default returns a JSON/stdout/info logger for the window between process
// start and config load, where the real settings are not yet known.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
