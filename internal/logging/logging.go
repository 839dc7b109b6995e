// Package logging provides structured logging for perfkit.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports text, JSON and
// colorized terminal output, a process-wide minimum level, and
// component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(logging.Options{Level: "info", Format: "text"})
//
//	// Get a component logger
//	log := logging.Component("reporter")
//	log.Info("reporter started", "interval", interval)
//
//	// Log with context
//	log.Error("write failed", "error", err, "segment", path)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LevelFatal sits above slog.LevelError; it is only used by Assert and Fatal.
const LevelFatal = slog.Level(12)

// Logger is the global logger instance.
var Logger *slog.Logger

var (
	initMu sync.Mutex
	level  = &slog.LevelVar{}
)

// Options configures Init.
type Options struct {
	// Level is the minimum severity name (debug, info, warn, error, fatal).
	Level string

	// Format is "text" or "json". Ignored when Output is a terminal.
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// Init initializes the global logger.
// Terminals get a colorized tint handler; everything else gets text or JSON.
func Init(opts Options) {
	initMu.Lock()
	defer initMu.Unlock()

	SetLevelByName(opts.Level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	switch {
	case isTerminal(out):
		handler = newTerminalHandler(out)
	case strings.EqualFold(opts.Format, "json"):
		handler = slog.NewJSONHandler(out, handlerOptions())
	default:
		handler = slog.NewTextHandler(out, handlerOptions())
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	initMu.Lock()
	defer initMu.Unlock()
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func ensure() *slog.Logger {
	if Logger == nil {
		Init(Options{})
	}
	return Logger
}

func handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:     level,
		AddSource: level.Level() <= slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					return slog.String(a.Key, LevelName(lvl))
				}
			}
			return a
		},
	}
}

func newTerminalHandler(w io.Writer) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		NoColor:   runtime.GOOS == "windows",
		AddSource: level.Level() <= slog.LevelDebug,
		Level:     level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelFatal {
					return slog.String(a.Key, "\u001B[35mFTL\u001B[0m")
				}
			}
			return a
		},
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// Levels
// =============================================================================

// SetLevel sets the minimum level written by every logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Level returns the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// Enabled reports whether records at l are written.
func Enabled(l slog.Level) bool {
	return l >= level.Level()
}

// SetLevelByName sets the minimum level from its name.
// Unknown or empty names leave the level at info.
func SetLevelByName(name string) {
	l, ok := ParseLevel(name)
	if !ok {
		l = slog.LevelInfo
	}
	level.Set(l)
}

// ParseLevel parses a level name.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "information":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "err", "error":
		return slog.LevelError, true
	case "fatal":
		return LevelFatal, true
	}
	return 0, false
}

// LevelName returns the lower-case name of a level.
func LevelName(l slog.Level) string {
	switch {
	case l >= LevelFatal:
		return "fatal"
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// =============================================================================
// Loggers
// =============================================================================

// With returns a new logger with additional attributes.
// These attributes are included in every log entry from the returned logger.
func With(args ...any) *slog.Logger {
	return ensure().With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("journal")
//	log.Info("segment rotated") // Output: time=... level=info component=journal msg="segment rotated"
func Component(name string) *slog.Logger {
	return ensure().With("component", name)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelFatal + 1}))
}

// WithContext returns a logger that includes context values.
func WithContext(ctx context.Context) *slog.Logger {
	logger := ensure()
	if cmd, ok := ctx.Value(contextKeyCommand).(string); ok {
		logger = logger.With("command", cmd)
	}
	if remote, ok := ctx.Value(contextKeyRemote).(string); ok {
		logger = logger.With("remote", remote)
	}
	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyCommand contextKey = iota
	contextKeyRemote
)

// ContextWithCommand adds the CLI command being executed to the context.
func ContextWithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, contextKeyCommand, command)
}

// ContextWithRemote adds the remote address of an HTTP caller to the context.
func ContextWithRemote(ctx context.Context, remote string) context.Context {
	return context.WithValue(ctx, contextKeyRemote, remote)
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	ensure().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	ensure().Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	ensure().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	ensure().Error(msg, args...)
}
