package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment names accepted by WithEnvironment.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Option configures New.
type Option func(*config)

type config struct {
	level      slog.Leveler
	format     Format
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
	addSource  bool
}

// profile is the preset an environment name expands to.
type profile struct {
	env    string
	level  slog.Level
	format Format
}

var profiles = map[string]profile{
	EnvDevelopment: {env: EnvDevelopment, level: slog.LevelDebug, format: FormatText},
	EnvStaging:     {env: EnvStaging, level: slog.LevelInfo, format: FormatJSON},
	"stage":        {env: EnvStaging, level: slog.LevelInfo, format: FormatJSON},
	EnvProduction:  {env: EnvProduction, level: slog.LevelInfo, format: FormatJSON},
	"prod":         {env: EnvProduction, level: slog.LevelInfo, format: FormatJSON},
}

func (p profile) apply(c *config, service string) {
	c.level = p.level
	c.format = p.format
	c.attrs = append(c.attrs, slog.String("service", service), slog.String("env", p.env))
}

// WithEnvironment applies the preset for env. Unknown names fall back to
// development. An empty service leaves the config untouched.
func WithEnvironment(env, service string) Option {
	return func(c *config) {
		if service == "" {
			return
		}
		p, ok := profiles[strings.ToLower(env)]
		if !ok {
			p = profiles[EnvDevelopment]
		}
		p.apply(c, service)
	}
}

// WithDevelopment is WithEnvironment(EnvDevelopment, service).
func WithDevelopment(service string) Option { return WithEnvironment(EnvDevelopment, service) }

// WithStaging is WithEnvironment(EnvStaging, service).
func WithStaging(service string) Option { return WithEnvironment(EnvStaging, service) }

// WithProduction is WithEnvironment(EnvProduction, service).
func WithProduction(service string) Option { return WithEnvironment(EnvProduction, service) }

func WithLevel(l slog.Leveler) Option {
	return func(c *config) {
		if l != nil {
			c.level = l
		}
	}
}

// WithLevelName parses debug, info, warn or error. An empty name keeps the
// current level; anything else panics.
func WithLevelName(name string) Option {
	return func(c *config) {
		if name == "" {
			return
		}
		var l slog.Level
		if err := l.UnmarshalText([]byte(name)); err != nil {
			panic(fmt.Errorf("invalid log level %q: %w", name, err))
		}
		c.level = l
	}
}

// WithFormat panics on anything other than FormatJSON or FormatText.
func WithFormat(f Format) Option {
	return func(c *config) {
		if f != FormatJSON && f != FormatText {
			panic(fmt.Errorf("invalid log format %q: must be %q or %q", f, FormatJSON, FormatText))
		}
		c.format = f
	}
}

func WithTextFormatter() Option { return WithFormat(FormatText) }

func WithJSONFormatter() Option { return WithFormat(FormatJSON) }

// WithOutput ignores a nil writer.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithSource records the caller position on every entry.
func WithSource() Option {
	return func(c *config) { c.addSource = true }
}

// WithAttr adds attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) { c.attrs = append(c.attrs, attrs...) }
}

// WithContextExtractors registers extractors run on every record. Nil
// entries are skipped.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(c *config) {
		for _, ex := range extractors {
			if ex != nil {
				c.extractors = append(c.extractors, ex)
			}
		}
	}
}

// WithContextValue logs ctx.Value(key) under name whenever it is set.
func WithContextValue(name string, key any) Option {
	if name == "" || key == nil {
		return func(*config) {}
	}
	return WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
		v := ctx.Value(key)
		return slog.Any(name, v), v != nil
	})
}

// New builds a logger writing JSON at info level to stdout unless options
// say otherwise.
func New(opts ...Option) *slog.Logger {
	cfg := &config{level: slog.LevelInfo, format: FormatJSON, output: os.Stdout}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level, AddSource: cfg.addSource}
	var h slog.Handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	if cfg.format == FormatText {
		h = slog.NewTextHandler(cfg.output, handlerOpts)
	}
	if len(cfg.attrs) > 0 {
		h = h.WithAttrs(cfg.attrs)
	}
	return slog.New(NewContextHandler(h, cfg.extractors...))
}

func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
