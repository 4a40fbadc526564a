package ability

// Logger is the minimal structured logging interface used across the engine.
// Implementations accept alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything. Used as the default when no logger is
// installed so call sites never need a nil check.
func NopLogger() Logger { return nopLogger{} }
