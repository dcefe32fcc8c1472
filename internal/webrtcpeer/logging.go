package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below slog.LevelDebug so pion trace output is hidden unless
// explicitly enabled.
const levelTrace = slog.LevelDebug - 4

// SlogLoggerFactory routes pion's scoped loggers to slog, tagging each record
// with its pion scope.
type SlogLoggerFactory struct {
	Logger *slog.Logger
}

func (f SlogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLeveledLogger{log: logger.With("pion_scope", scope)}
}

type slogLeveledLogger struct {
	log *slog.Logger
}

func (l *slogLeveledLogger) logf(level slog.Level, format string, args ...any) {
	if !l.log.Enabled(context.Background(), level) {
		return
	}
	l.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *slogLeveledLogger) Trace(msg string) { l.logf(levelTrace, "%s", msg) }
func (l *slogLeveledLogger) Tracef(format string, args ...any) { l.logf(levelTrace, format, args...) }
func (l *slogLeveledLogger) Debug(msg string) { l.logf(slog.LevelDebug, "%s", msg) }
func (l *slogLeveledLogger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l *slogLeveledLogger) Info(msg string) { l.logf(slog.LevelInfo, "%s", msg) }
func (l *slogLeveledLogger) Infof(format string, args ...any) { l.logf(slog.LevelInfo, format, args...) }
func (l *slogLeveledLogger) Warn(msg string) { l.logf(slog.LevelWarn, "%s", msg) }
func (l *slogLeveledLogger) Warnf(format string, args ...any) { l.logf(slog.LevelWarn, format, args...) }
func (l *slogLeveledLogger) Error(msg string) { l.logf(slog.LevelError, "%s", msg) }
func (l *slogLeveledLogger) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }
