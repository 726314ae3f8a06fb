package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/judesonleo/songcast/internal/logring"
)

// Options configures the global logger.
type Options struct {
	Level      string
	Format     string // "json" or "text"
	File       string // empty means stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Ring, when set, receives a copy of every record for the admin
	// log endpoint.
	Ring *logring.Ring
}

// Setup configures the global slog logger. Returns the lumberjack logger
// (if file logging is enabled) so it can be closed on shutdown.
func Setup(opts Options) *lumberjack.Logger {
	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger

	if opts.File != "" {
		lj = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		w = lj
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var handler slog.Handler
	switch opts.Format {
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	if opts.Ring != nil {
		handler = logring.Tee(handler, opts.Ring)
	}

	slog.SetDefault(slog.New(handler))
	return lj
}

// ParseLevel maps a config level string to a slog.Level, defaulting to
// info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
