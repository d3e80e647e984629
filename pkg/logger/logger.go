package logger

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the log output encoding.
type Format string

const (
	// FormatJSON emits structured records for log aggregation.
	FormatJSON Format = "json"
	// FormatText emits human-readable records for development.
	FormatText Format = "text"
)

type config struct {
	level  slog.Level
	format Format
	output io.Writer
	attrs  []slog.Attr
}

// Option configures logger creation.
type Option func(*config)

// WithLevel sets the minimum level.
func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

// WithFormat sets the output format. Unknown formats keep the default.
func WithFormat(f Format) Option {
	return func(c *config) {
		if f == FormatJSON || f == FormatText {
			c.format = f
		}
	}
}

// WithOutput sets the output destination, ignoring nil writers.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) { c.attrs = append(c.attrs, attrs...) }
}

// New creates a configured *slog.Logger. Defaults are production-safe: JSON
// output to stdout at info level with the SDK name attached.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
		attrs:  []slog.Attr{slog.String("component", "flagkit")},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}
	var handler slog.Handler
	if cfg.format == FormatText {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	}
	if len(cfg.attrs) > 0 {
		handler = handler.WithAttrs(cfg.attrs)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record, the default for SDK
// internals when the host application supplies none.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
