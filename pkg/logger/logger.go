package logger

import (
	"context"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Pretty  bool
	Service string
}

var (
	global zerolog.Logger
	mu     sync.RWMutex
)

func init() {
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// New builds a logger writing JSON to stdout, or console output when Pretty is set.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg Config, out io.Writer) zerolog.Logger {
	w := out
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	l := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.Service != "" {
		l = l.With().Str(FieldService, cfg.Service).Logger()
	}
	return l
}

// Init replaces the global logger and routes the standard library log package through it.
func Init(cfg Config) {
	SetGlobal(New(cfg))
}

func SetGlobal(l zerolog.Logger) {
	mu.Lock()
	global = l
	mu.Unlock()

	stdlog.SetFlags(0)
	stdlog.SetOutput(l.With().Str("source", "stdlog").Logger())
}

// L returns the global logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

type ctxKey struct{}

func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Ctx returns the request-scoped logger, falling back to the global one.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// Convenience functions
func Info(format string, v ...interface{}) {
	l := L()
	l.Info().Msgf(format, v...)
}

func Warn(format string, v ...interface{}) {
	l := L()
	l.Warn().Msgf(format, v...)
}

func Error(format string, v ...interface{}) {
	l := L()
	l.Error().Msgf(format, v...)
}

func Debug(format string, v ...interface{}) {
	l := L()
	l.Debug().Msgf(format, v...)
}

func Fatal(format string, v ...interface{}) {
	l := L()
	l.Fatal().Msgf(format, v...)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
