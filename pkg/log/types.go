package log

// Logger is a structured, leveled logger.
// keysAndValues are treated as key-value pairs (e.g., "key1", value1, "key2", value2).
type Logger interface {
	// Debug logs a message for low-level debugging.
	Debug(msg string, keysAndValues ...any)
	// Info logs general information about application progress.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message for unexpected situations that aren't errors.
	Warn(msg string, keysAndValues ...any)
	// Error logs an error that prevents normal operation.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a critical error and may terminate the program.
	Fatal(msg string, keysAndValues ...any)
	// WithKV returns a logger with an extra key-value pair attached to all
	// future log messages.
	WithKV(key string, value any) Logger
	// WithName returns a logger named after a module or component.
	WithName(name string) Logger
	// Name returns the logger's name.
	Name() string
}

// Level represents the severity level of a log message.
type Level string

const (
	// LevelDebug is the most verbose level, used for debugging purposes.
	LevelDebug Level = "debug"
	// LevelInfo is used for informational messages.
	LevelInfo Level = "info"
	// LevelWarn is used for warning messages that indicate potential issues.
	LevelWarn Level = "warn"
	// LevelError is used for error messages that indicate something went wrong.
	LevelError Level = "error"
	// LevelFatal is used for fatal errors that typically cause the program to exit.
	LevelFatal Level = "fatal"
)
