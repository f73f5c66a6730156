package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"off", LevelSilent},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDefaultLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger("sandbox", LevelWarn)
	l.SetOutput(&buf)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below level leaked: %q", out)
	}
	if !strings.Contains(out, "[sandbox] [WARN] shown 3") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[sandbox] [ERROR] shown 4") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestSlogLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(&buf, LevelInfo, "json").With("component", "sandbox")

	l.Debug("dropped")
	l.Info("polling %s", "job-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "polling job-1" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["component"] != "sandbox" {
		t.Errorf("component = %v", rec["component"])
	}
}

func TestNew_PicksImplementation(t *testing.T) {
	var buf bytes.Buffer
	if _, ok := New(&buf, LevelInfo, "json").(*SlogLogger); !ok {
		t.Error("json format should build a SlogLogger")
	}
	if _, ok := New(&buf, LevelInfo, "plain").(*DefaultLogger); !ok {
		t.Error("plain format should build a DefaultLogger")
	}
	if _, ok := OrNop(nil).(NopLogger); !ok {
		t.Error("OrNop(nil) should be a NopLogger")
	}
}
