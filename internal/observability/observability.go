// Package observability defines the logging and metrics seams shared across
// the engine. Defaults are no-ops; the daemon installs real implementations.
package observability

import "log"

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for constructing a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Metrics records engine counters.
type Metrics interface {
	IncCounter(name string, value int64, labels map[string]string)
}

var (
	defaultLogger  Logger  = noopLogger{}
	defaultMetrics Metrics = noopMetrics{}
)

// SetLogger overrides the global logger; nil restores the no-op default.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

// SetMetrics overrides the global metrics sink; nil restores the no-op default.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Stats returns the current global metrics sink.
func Stats() Metrics {
	return defaultMetrics
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, int64, map[string]string) {}

// StdLogger adapts the standard library logger to the Logger interface.
type StdLogger struct {
	Out *log.Logger
}

func (l StdLogger) emit(level, msg string, fields []Field) {
	if l.Out == nil {
		return
	}
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, level, msg)
	for _, f := range fields {
		args = append(args, f.Key+"=", f.Value)
	}
	l.Out.Println(args...)
}

// Debug implements Logger.
func (l StdLogger) Debug(msg string, fields ...Field) { l.emit("DEBUG", msg, fields) }

// Info implements Logger.
func (l StdLogger) Info(msg string, fields ...Field) { l.emit("INFO", msg, fields) }

// Error implements Logger.
func (l StdLogger) Error(msg string, fields ...Field) { l.emit("ERROR", msg, fields) }
