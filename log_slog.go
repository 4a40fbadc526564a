package ability

import (
	"context"
	"fmt"
	"log/slog"
)

// SLogLogger adapts the standard library slog.Logger to the Logger interface.
type SLogLogger struct {
	l *slog.Logger
}

func NewSLogLogger(l *slog.Logger) *SLogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SLogLogger{l: l}
}

func (s *SLogLogger) Debug(msg string, keyvals ...any) {
	s.l.Log(context.TODO(), slog.LevelDebug, msg, normalizeKeyvals(keyvals)...)
}

func (s *SLogLogger) Info(msg string, keyvals ...any) {
	s.l.Log(context.TODO(), slog.LevelInfo, msg, normalizeKeyvals(keyvals)...)
}

func (s *SLogLogger) Error(msg string, keyvals ...any) {
	s.l.Log(context.TODO(), slog.LevelError, msg, normalizeKeyvals(keyvals)...)
}

// normalizeKeyvals stringifies non-string keys so slog never sees a bad key.
func normalizeKeyvals(keyvals []any) []any {
	out := make([]any, 0, len(keyvals))
	for i := 0; i < len(keyvals)-1; i += 2 {
		k := keyvals[i]
		if _, ok := k.(string); !ok {
			k = fmt.Sprint(k)
		}
		out = append(out, k, keyvals[i+1])
	}
	return out
}
