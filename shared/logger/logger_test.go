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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(component string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(component)
	l.SetOutput(&buf)
	l.SetLevel(DEBUG)
	return l, &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) LogEntry {
	t.Helper()
	var entry LogEntry
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v\nOutput: %s", err, line)
	}
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		instanceID     string
		expectedInstID string
	}{
		{name: "with instance ID set", instanceID: "instance-123", expectedInstID: "instance-123"},
		{name: "without instance ID", instanceID: "", expectedInstID: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INSTANCE_ID", tt.instanceID)

			l := New("router")
			if l.Component != "router" {
				t.Errorf("Expected component router, got %s", l.Component)
			}
			if l.InstanceID != tt.expectedInstID {
				t.Errorf("Expected instance ID %s, got %s", tt.expectedInstID, l.InstanceID)
			}
			if l.Container == "" {
				t.Error("Expected container to be set from hostname")
			}
		})
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, string, map[string]interface{})
		level   LogLevel
	}{
		{"Info log", (*Logger).Info, INFO},
		{"Error log", (*Logger).Error, ERROR},
		{"Warn log", (*Logger).Warn, WARN},
		{"Debug log", (*Logger).Debug, DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBufferLogger("router")
			tt.logFunc(l, "alice", "req-456", "dispatch", map[string]interface{}{"method": "docs.search"})

			entry := decodeEntry(t, buf)
			if entry.Level != tt.level {
				t.Errorf("Expected level %s, got %s", tt.level, entry.Level)
			}
			if entry.Principal != "alice" || entry.RequestID != "req-456" {
				t.Errorf("Unexpected correlation fields: %+v", entry)
			}
			if entry.Fields["method"] != "docs.search" {
				t.Errorf("Expected method field, got %v", entry.Fields)
			}
			if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
				t.Errorf("Invalid timestamp format: %s", entry.Timestamp)
			}
		})
	}
}

func TestLevelThreshold(t *testing.T) {
	l, buf := newBufferLogger("router")
	l.SetLevel(WARN)

	l.Info("", "", "dropped", nil)
	l.Debug("", "", "dropped", nil)
	if buf.Len() != 0 {
		t.Fatalf("Expected no output below WARN, got %q", buf.String())
	}

	l.Warn("", "", "kept", nil)
	if entry := decodeEntry(t, buf); entry.Message != "kept" {
		t.Errorf("Expected kept entry, got %q", entry.Message)
	}
}

func TestLevelFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	if l := New("router"); l.Enabled(WARN) || !l.Enabled(ERROR) {
		t.Error("Expected LOG_LEVEL=error to suppress WARN")
	}

	t.Setenv("LOG_LEVEL", "verbose")
	if l := New("router"); !l.Enabled(INFO) || l.Enabled(DEBUG) {
		t.Error("Expected unknown LOG_LEVEL to fall back to INFO")
	}
}

func TestInfoWithDuration(t *testing.T) {
	l, buf := newBufferLogger("router")
	l.InfoWithDuration("alice", "req-456", "dispatch", 123.45, map[string]interface{}{"method": "docs.search"})

	entry := decodeEntry(t, buf)
	if entry.Fields["duration_ms"] != 123.45 {
		t.Errorf("Expected duration_ms 123.45, got %v", entry.Fields["duration_ms"])
	}
	if entry.Fields["method"] != "docs.search" {
		t.Error("Expected method field to be preserved")
	}
	if entry.Level != INFO {
		t.Errorf("Expected INFO level, got %s", entry.Level)
	}
}

func TestErrorWithCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "with error", err: errors.New("upstream reset")},
		{name: "without error", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBufferLogger("router")
			l.ErrorWithCode("alice", "req-1", "dispatch failed", "NOT_FOUND", tt.err, nil)

			entry := decodeEntry(t, buf)
			if entry.Fields["code"] != "NOT_FOUND" {
				t.Errorf("Expected code NOT_FOUND, got %v", entry.Fields["code"])
			}
			_, hasErr := entry.Fields["error"]
			if hasErr != (tt.err != nil) {
				t.Errorf("Expected error field present=%v, got %v", tt.err != nil, entry.Fields)
			}
			if entry.Level != ERROR {
				t.Errorf("Expected ERROR level, got %s", entry.Level)
			}
		})
	}
}

func TestJSONMarshalError(t *testing.T) {
	l, buf := newBufferLogger("router")
	l.Info("alice", "req-1", "bad", map[string]interface{}{"channel": make(chan int)})

	if !strings.Contains(buf.String(), "Failed to marshal log entry") {
		t.Error("Expected error message about JSON marshaling failure")
	}
}

func BenchmarkLog(b *testing.B) {
	var buf bytes.Buffer
	l := New("router")
	l.SetOutput(&buf)
	fields := map[string]interface{}{"method": "docs.search", "code": "OK"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		l.Info("alice", "req-1", "dispatch", fields)
	}
}
