// Package observability carries the engine's ambient logging, metrics, and
// tracing stack, adapted from the teacher's internal/observability package.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging with per-upload context.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger for the given service name.
func NewLogger(service string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	return &Logger{
		logger: zerolog.New(output).With().
			Timestamp().
			Str("service", service).
			Logger(),
	}
}

// Noop returns a logger that discards everything; used in tests.
func Noop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithSession adds session_id context to the logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{logger: l.logger.With().Str("session_id", sessionID).Logger()}
}

// WithChunk adds chunk index context to the logger.
func (l *Logger) WithChunk(index uint32) *Logger {
	return &Logger{logger: l.logger.With().Uint32("chunk_index", index).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }
