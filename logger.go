package imap

import (
	"log/slog"
	"os"
	"sync"
)

// Logger defines the minimal logging interface used by the IMAP client.
//
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithAttrs(args ...any) Logger
}

var (
	defaultLoggerOnce sync.Once
	defaultLoggerVal  Logger
)

// DefaultLogger returns the slog text logger used when Options.Logger is nil.
func DefaultLogger() Logger {
	defaultLoggerOnce.Do(func() {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
		defaultLoggerVal = SlogLogger(slog.New(handler)).WithAttrs("component", "imap")
	})
	return defaultLoggerVal
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
func SlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return nil
	}
	return slogAdapter{logger: logger}
}

type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }

func (s slogAdapter) Info(msg string, args ...any) { s.logger.Info(msg, args...) }

func (s slogAdapter) Warn(msg string, args ...any) { s.logger.Warn(msg, args...) }

func (s slogAdapter) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func (s slogAdapter) WithAttrs(args ...any) Logger {
	return slogAdapter{logger: s.logger.With(args...)}
}

// connectionLogger adds per-connection context to logger.
func connectionLogger(logger Logger, connNum int, folder string) Logger {
	args := []any{"conn", connNum}
	if folder != "" {
		args = append(args, "mailbox", folder)
	}
	return logger.WithAttrs(args...)
}
