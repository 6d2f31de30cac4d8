package log

import (
	ipfslog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
)

var _ Logger = &IPFSLogger{}

// IPFSLogger is a logger implementation backed by the go-log subsystem
// machinery, for deployments that manage per-subsystem levels through
// GOLOG_* environment variables.
type IPFSLogger struct {
	lg   *zap.SugaredLogger
	name string
}

// NewIPFSLogger creates a named go-log-backed logger. The level argument
// configures the global go-log level; an unparseable level falls back to info.
func NewIPFSLogger(name string, level Level) Logger {
	parsed, err := ipfslog.Parse(string(level))
	if err != nil {
		parsed = ipfslog.LevelInfo
	}
	ipfslog.SetupLogging(ipfslog.Config{
		Level:  parsed,
		Stderr: true,
	})
	return &IPFSLogger{
		lg:   ipfslog.Logger(name).SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar(),
		name: name,
	}
}

// Debug logs a message at debug level.
func (l *IPFSLogger) Debug(msg string, keysAndValues ...any) {
	l.lg.Debugw(msg, keysAndValues...)
}

// Info logs a message at info level.
func (l *IPFSLogger) Info(msg string, keysAndValues ...any) {
	l.lg.Infow(msg, keysAndValues...)
}

// Warn logs a message at warn level.
func (l *IPFSLogger) Warn(msg string, keysAndValues ...any) {
	l.lg.Warnw(msg, keysAndValues...)
}

// Error logs a message at error level.
func (l *IPFSLogger) Error(msg string, keysAndValues ...any) {
	l.lg.Errorw(msg, keysAndValues...)
}

// Fatal logs a message at fatal level and exits.
func (l *IPFSLogger) Fatal(msg string, keysAndValues ...any) {
	l.lg.Fatalw(msg, keysAndValues...)
}

// WithKV returns a new IPFSLogger with the key-value pair added to all future
// log messages.
func (l *IPFSLogger) WithKV(key string, value any) Logger {
	return &IPFSLogger{lg: l.lg.With(key, value), name: l.name}
}

// WithName returns a new subsystem logger with the given name.
func (l *IPFSLogger) WithName(name string) Logger {
	return &IPFSLogger{
		lg:   ipfslog.Logger(name).SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar(),
		name: name,
	}
}

// Name returns the logger's name.
func (l *IPFSLogger) Name() string { return l.name }
