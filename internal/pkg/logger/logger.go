package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
	configMu      sync.Mutex

	// level is shared by every handler built here so SetLevel takes effect immediately
	level = new(slog.LevelVar)
)

// Options controls how the structured logger is built
type Options struct {
	Level  string    // debug, info, warn, error (default: info)
	Format string    // json or text (default: json)
	Output io.Writer // default: os.Stderr
}

// Initialize sets up the structured logger with defaults taken from LOG_LEVEL
func Initialize() {
	once.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		defaultLogger = build(Options{Level: os.Getenv("LOG_LEVEL")})
	})
}

// Configure rebuilds the logger from opts. It may be called at any time, the
// debug surface keeps its state across rebuilds.
func Configure(opts Options) {
	Initialize()
	configMu.Lock()
	defer configMu.Unlock()
	defaultLogger = build(opts)
}

func build(opts Options) *slog.Logger {
	level.Set(ParseLevel(opts.Level))

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		base = slog.NewTextHandler(out, handlerOpts)
	} else {
		base = slog.NewJSONHandler(out, handlerOpts)
	}

	return slog.New(&teeHandler{base: base, surface: Surface()})
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// SetLevel changes the minimum level of the primary output
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Get returns the default structured logger
func Get() *slog.Logger {
	Initialize()
	configMu.Lock()
	defer configMu.Unlock()
	return defaultLogger
}

// Info logs an info level message
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// InfoContext logs an info level message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	Get().InfoContext(ctx, msg, args...)
}

// Warn logs a warning level message
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// WarnContext logs a warning level message with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	Get().WarnContext(ctx, msg, args...)
}

// Error logs an error level message
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// ErrorContext logs an error level message with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Get().ErrorContext(ctx, msg, args...)
}

// Debug logs a debug level message
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// DebugContext logs a debug level message with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	Get().DebugContext(ctx, msg, args...)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}

// WithGroup returns a logger with the given group name
func WithGroup(name string) *slog.Logger {
	return Get().WithGroup(name)
}

// teeHandler writes to the primary handler at the configured level and,
// while the debug surface is on, copies every record to it.
type teeHandler struct {
	base    slog.Handler
	surface *DebugSurface
	attrs   []slog.Attr
	group   string
}

func (h *teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.base.Enabled(ctx, l) || h.surface.Enabled()
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.surface.Enabled() {
		h.surface.capture(r, h.attrs, h.group)
	}
	if h.base.Enabled(ctx, r.Level) {
		return h.base.Handle(ctx, r)
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &teeHandler{base: h.base.WithAttrs(attrs), surface: h.surface, attrs: merged, group: h.group}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{base: h.base.WithGroup(name), surface: h.surface, attrs: h.attrs, group: name}
}
