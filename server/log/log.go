package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gammadia/standby/server/flags"
	"github.com/spf13/viper"
)

// Kept in its own package so that a package-global named 'log' does not confuse gopls

// Base is the bare logger every component logger derives from
var Base *slog.Logger

// logger is the daemon's own logger, tagged component=server
var logger *slog.Logger

// Init configures the daemon loggers from the log-* flags. Output goes to stdout.
func Init() error {
	return setup(os.Stdout, viper.GetString(flags.LogFormat), viper.GetString(flags.LogLevel), viper.GetBool(flags.LogSource))
}

func setup(w io.Writer, format, level string, source bool) error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	options := &slog.HandlerOptions{
		AddSource: source,
		Level:     logLevel,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, options)
	case "text":
		handler = slog.NewTextHandler(w, options)
	default:
		return fmt.Errorf("unknown log format '%s', expected 'text' or 'json'", format)
	}

	Base = slog.New(handler)
	logger = Component("server")
	return nil
}

// Component returns a logger for one part of the daemon, such as the catalog or the API.
func Component(name string) *slog.Logger {
	return Base.With("component", name)
}

func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}
