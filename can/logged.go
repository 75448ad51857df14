package can

import (
	"context"
	"log/slog"
)

// LogLevel represents a logging severity.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// StructuredLogger is a minimal structured logger interface expected by
// LoggedBus. Key/value arguments are alternating key (string) and value
// pairs, e.g.: "key1", val1, "key2", val2.
type StructuredLogger interface {
	Log(level LogLevel, msg string, kv ...any)
}

// SlogLogger adapts a standard library *slog.Logger to StructuredLogger.
// It is the StructuredLogger implementation this package ships; callers
// pass it (or their own logger) to NewLoggedBus explicitly. The isotp core
// never imports a logging package itself.
type SlogLogger struct {
	Logger *slog.Logger
}

// NewSlogLogger wraps logger, or slog.Default() if logger is nil.
func NewSlogLogger(logger *slog.Logger) SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return SlogLogger{Logger: logger}
}

func (s SlogLogger) Log(level LogLevel, msg string, kv ...any) {
	s.Logger.Log(context.Background(), toSlogLevel(level), msg, kv...)
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// NewLoggedBus wraps the given Bus and logs reads, writes, or both at the
// given level. When logReads/logWrites are false, the corresponding
// operation is not logged.
func NewLoggedBus(inner Bus, logger StructuredLogger, level LogLevel, logReads, logWrites bool) Bus {
	return &loggedBus{
		inner:     inner,
		logger:    logger,
		level:     level,
		logReads:  logReads,
		logWrites: logWrites,
	}
}

type loggedBus struct {
	inner     Bus
	logger    StructuredLogger
	level     LogLevel
	logReads  bool
	logWrites bool
}

// Send logs the frame and the result when write logging is enabled.
func (l *loggedBus) Send(ctx context.Context, frame Frame) error {
	if l.logWrites {
		l.logger.Log(l.level, "can send",
			"id", frame.ArbitrationID,
			"extended", frame.IsExtendedID,
			"fd", frame.IsFD,
			"rtr", frame.IsRemoteFrame,
			"len", len(frame.Data),
			"data", frame.Data,
			"frame", frame.String(),
		)
	}
	err := l.inner.Send(ctx, frame)
	if l.logWrites && err != nil {
		l.logger.Log(LevelError, "can send error", "id", frame.ArbitrationID, "error", err)
	}
	return err
}

// Receive logs the received frame or error when read logging is enabled.
func (l *loggedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := l.inner.Receive(ctx)
	if l.logReads {
		if err != nil {
			l.logger.Log(LevelError, "can receive error", "error", err)
		} else {
			l.logger.Log(l.level, "can receive",
				"id", f.ArbitrationID,
				"extended", f.IsExtendedID,
				"fd", f.IsFD,
				"rtr", f.IsRemoteFrame,
				"len", len(f.Data),
				"data", f.Data,
				"frame", f.String(),
			)
		}
	}
	return f, err
}

// Close forwards to the inner Bus without logging.
func (l *loggedBus) Close() error {
	return l.inner.Close()
}
