// logger.go - Structured logging for the pool daemon
package main

import (
	"fmt"
	"io"
	"os"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

// Logger is the daemon's zerolog logger plus an optional audit sink that receives every
// committed pool event.
type Logger struct {
	zerolog.Logger
	audit   *zerolog.Logger
	closers []io.Closer
}

// NewLogger writes to the console and, when logFile is set, to that file too. Unknown levels fall
// back to info. gnark's internal logger is pointed at the same output.
func NewLogger(level string, logFile string, auditFile string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	l := &Logger{}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.closers = append(l.closers, file)
		writers = append(writers, file)
	}

	if auditFile != "" {
		file, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.closers = append(l.closers, file)
		audit := zerolog.New(file).With().Timestamp().Str("log", "audit").Logger()
		l.audit = &audit
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	gnarklogger.Set(l.Logger.With().Str("component", "gnark").Logger())
	return l, nil
}

// Close closes the log and audit files.
func (l *Logger) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.closers = nil
	return first
}

// Audit records a committed pool event. It is a no-op without an audit file.
func (l *Logger) Audit(ev pool.Event) {
	if l.audit == nil {
		return
	}
	l.audit.Log().
		Str("id", ev.ID.String()).
		Uint64("seq", ev.Seq).
		Str("type", string(ev.Type)).
		Time("at", ev.Timestamp).
		Interface("event", ev).
		Msg("pool event")
}
