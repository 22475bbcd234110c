// Package observ carries the ambient logging and metrics stack: a thin
// zerolog wrapper for structured event logs (replacing the teacher's bare
// fmt.Println(json.Marshal(...)) in the original logging.go) and the
// teacher's lightweight in-process counter/gauge/histogram registry from
// metrics.go, kept for cheap internal introspection, alongside a
// prometheus/client_golang registry for external scraping.
package observ

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the event+kv calling convention the
// teacher's Log(event, kv) helper used, so call sites read the same way.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger builds a Logger writing structured JSON lines to w. Pass
// os.Stdout in production; tests can pass an io.Writer buffer.
func NewLogger(w io.Writer, component string) *Logger {
	if w == nil {
		w = os.Stdout
	}
	zl := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return &Logger{zl: zl}
}

func (l *Logger) event(level zerolog.Level, event string, kv map[string]any) {
	ev := l.zl.WithLevel(level).Str("event", event)
	for k, v := range kv {
		ev = ev.Interface(k, v)
	}
	ev.Send()
}

func (l *Logger) Debug(event string, kv map[string]any) { l.event(zerolog.DebugLevel, event, kv) }
func (l *Logger) Info(event string, kv map[string]any)  { l.event(zerolog.InfoLevel, event, kv) }
func (l *Logger) Warn(event string, kv map[string]any)  { l.event(zerolog.WarnLevel, event, kv) }
func (l *Logger) Error(event string, kv map[string]any) { l.event(zerolog.ErrorLevel, event, kv) }

// With returns a child Logger with an additional fixed field, useful for
// tagging every log line emitted by one asset or component instance.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

var startTime = time.Now()

// Uptime reports process uptime, used by the health endpoint.
func Uptime() time.Duration { return time.Since(startTime) }
