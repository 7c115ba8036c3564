package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging for one component.
type Logger struct {
	zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written, e.g. "debug" or "warn".
	Level string
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty switches to human-readable console output.
	Pretty bool
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init configures the process-wide base logger used by New.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	mu.Lock()
	base = zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	mu.Unlock()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "none", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger tagged with the given component name.
func New(component string) *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &Logger{Logger: base.With().Str("component", component).Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// With creates a child logger carrying an additional field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With().Str(key, value).Logger()}
}
