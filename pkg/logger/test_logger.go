package logger

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogMessage is one captured log line
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// TestLogger records every message so tests can assert on what was logged.
// Loggers derived through WithField/WithError share the same sink.
type TestLogger struct {
	sink   *testSink
	fields map[string]interface{}
	err    error
}

type testSink struct {
	mu       sync.Mutex
	messages []LogMessage
}

// NewTestLogger creates an empty capturing logger
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &testSink{}}
}

func (l *TestLogger) Debug(msg string) { l.log("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.log("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.log("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.log("ERROR", msg, nil) }
func (l *TestLogger) Fatal(msg string) { l.log("FATAL", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, f map[string]interface{}) { l.log("DEBUG", msg, f) }
func (l *TestLogger) InfoWithFields(msg string, f map[string]interface{})  { l.log("INFO", msg, f) }
func (l *TestLogger) WarnWithFields(msg string, f map[string]interface{})  { l.log("WARN", msg, f) }
func (l *TestLogger) ErrorWithFields(msg string, f map[string]interface{}) { l.log("ERROR", msg, f) }
func (l *TestLogger) FatalWithFields(msg string, f map[string]interface{}) { l.log("FATAL", msg, f) }

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return &TestLogger{sink: l.sink, fields: merge(l.fields, fields), err: l.err}
}

func (l *TestLogger) WithError(err error) Logger {
	return &TestLogger{sink: l.sink, fields: l.fields, err: err}
}

func (l *TestLogger) WithContext(context.Context) Logger { return l }

func (l *TestLogger) GetZerolog() *zerolog.Logger {
	z := zerolog.Nop()
	return &z
}

func (l *TestLogger) log(level, msg string, fields map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.messages = append(l.sink.messages, LogMessage{
		Level:   level,
		Message: msg,
		Fields:  merge(l.fields, fields),
		Error:   l.err,
	})
}

// GetMessages returns a copy of all captured messages
func (l *TestLogger) GetMessages() []LogMessage {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	out := make([]LogMessage, len(l.sink.messages))
	copy(out, l.sink.messages)
	return out
}

// GetMessagesByLevel returns captured messages of one level
func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	var out []LogMessage
	for _, m := range l.GetMessages() {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}

// HasMessage reports whether a message with exactly this text was logged
func (l *TestLogger) HasMessage(text string) bool {
	for _, m := range l.GetMessages() {
		if m.Message == text {
			return true
		}
	}
	return false
}

// HasError reports whether anything was logged at ERROR level
func (l *TestLogger) HasError() bool {
	return len(l.GetMessagesByLevel("ERROR")) > 0
}

func (l *TestLogger) Clear() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.messages = nil
}

func (l *TestLogger) String() string {
	var b strings.Builder
	for _, m := range l.GetMessages() {
		b.WriteString("[" + m.Level + "] " + m.Message + "\n")
	}
	return b.String()
}

func merge(a, b map[string]interface{}) map[string]interface{} {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
