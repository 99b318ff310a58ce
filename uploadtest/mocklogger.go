package uploadtest

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ftpkit/ftpkit/log"
)

var _ log.Logger = (*MockLogger)(nil)

// Log levels recorded by MockLogger, matching slog.
const (
	LevelDebug = -4
	LevelInfo  = 0
	LevelWarn  = 4
	LevelError = 8
)

// MockLogMessage is a mock log message.
type MockLogMessage struct {
	level         int
	message       string
	keysAndValues []any
}

// Level returns the log level of the message.
func (m MockLogMessage) Level() int {
	return m.level
}

// Message returns the log message.
func (m MockLogMessage) Message() string {
	return m.message
}

// KeysAndValues returns the attributes of the message.
func (m MockLogMessage) KeysAndValues() []any {
	return m.keysAndValues
}

// Value returns the value logged for key.
func (m MockLogMessage) Value(key string) (any, bool) {
	for i := 0; i+1 < len(m.keysAndValues); i += 2 {
		if k, ok := m.keysAndValues[i].(string); ok && k == key {
			return m.keysAndValues[i+1], true
		}
	}
	return nil, false
}

// String returns the log message as a string.
func (m MockLogMessage) String() string {
	return m.message + " " + fmt.Sprint(m.keysAndValues...)
}

// MockLogger is a mock logger. It is safe for concurrent use.
type MockLogger struct {
	mu       sync.Mutex
	messages []MockLogMessage
}

func (l *MockLogger) log(level int, t string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, MockLogMessage{level: level, message: t, keysAndValues: args})
}

// Reset clears the log messages.
func (l *MockLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:0]
}

// Len returns the number of log messages.
func (l *MockLogger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Messages returns a copy of the log messages.
func (l *MockLogger) Messages() []MockLogMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := make([]MockLogMessage, len(l.messages))
	copy(msgs, l.messages)
	return msgs
}

// AtLevel returns the messages logged at level.
func (l *MockLogger) AtLevel(level int) []MockLogMessage {
	var msgs []MockLogMessage
	for _, msg := range l.Messages() {
		if msg.level == level {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// Received returns true if a log message matching the regular expression was received.
func (l *MockLogger) Received(regex regexp.Regexp) bool {
	for _, msg := range l.Messages() {
		if regex.MatchString(msg.message) {
			return true
		}
	}
	return false
}

// ReceivedSubstring returns true if a log message containing substring was received.
func (l *MockLogger) ReceivedSubstring(substring string) bool {
	for _, msg := range l.Messages() {
		if strings.Contains(msg.message, substring) {
			return true
		}
	}
	return false
}

// ReceivedString returns true if a log message equal to message was received.
func (l *MockLogger) ReceivedString(message string) bool {
	for _, msg := range l.Messages() {
		if msg.message == message {
			return true
		}
	}
	return false
}

// Debug log message.
func (l *MockLogger) Debug(t string, args ...any) { l.log(LevelDebug, t, args...) }

// Info log message.
func (l *MockLogger) Info(t string, args ...any) { l.log(LevelInfo, t, args...) }

// Warn log message.
func (l *MockLogger) Warn(t string, args ...any) { l.log(LevelWarn, t, args...) }

// Error log message.
func (l *MockLogger) Error(t string, args ...any) { l.log(LevelError, t, args...) }
