// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{DEBUG: 0, INFO: 1, WARN: 2, ERROR: 3}

// Logger writes structured JSON entries for one component of the router
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	mu       sync.Mutex
	out      *log.Logger
	minLevel LogLevel
}

// LogEntry is one structured log line. Principal identifies the caller the
// entry was produced for; RequestID correlates entries of one dispatch.
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	Principal  string                 `json:"principal,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for component writing to stderr. INSTANCE_ID names the
// deployment instance and LOG_LEVEL sets the minimum level (default INFO).
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	minLevel := LogLevel(strings.ToUpper(os.Getenv("LOG_LEVEL")))
	if _, ok := levelRank[minLevel]; !ok {
		minLevel = INFO
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		out:        log.New(os.Stderr, "", 0),
		minLevel:   minLevel,
	}
}

// SetOutput redirects entries to w. The stdio transport uses stdout for
// envelopes, so entries must never share it.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = log.New(w, "", 0)
}

// SetLevel sets the minimum level written
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := levelRank[level]; ok {
		l.minLevel = level
	}
}

// Enabled reports whether entries at level are written
func (l *Logger) Enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return levelRank[level] >= levelRank[l.minLevel]
}

// Log writes one structured entry
func (l *Logger) Log(level LogLevel, principal, requestID, message string, fields map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		Principal:  principal,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	l.mu.Lock()
	out := l.out
	l.mu.Unlock()

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		out.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}
	out.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(principal, requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, principal, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(principal, requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, principal, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(principal, requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, principal, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(principal, requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, principal, requestID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field
func (l *Logger) InfoWithDuration(principal, requestID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(principal, requestID, message, fields)
}

// ErrorWithCode logs a failed dispatch with its envelope error code
func (l *Logger) ErrorWithCode(principal, requestID, message, code string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["code"] = code
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(principal, requestID, message, fields)
}
