package sandbox

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/exploopio/filescan/pkg/errors"
)

func TestFormatText(t *testing.T) {
	v := maliciousReport().verdict("abc123", "/tmp/x.exe", 12)
	v.JobID = "job-1"
	text := FormatText(v)

	for _, want := range []string{
		"SHA-256:         abc123",
		"File:            /tmp/x.exe (12 bytes)",
		"Result:          MALICIOUS (new analysis)",
		"Threat:          Gen:Variant.Razy",
		"Detections:      2/9 engines",
		"Undetected:      3/9 engines",
		"2026-01-01T00:00:00Z",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "BitDefender") > strings.Index(text, "Kaspersky") {
		t.Error("engines should be listed in name order")
	}
	if FormatText(v) != text {
		t.Error("FormatText is not deterministic")
	}
}

func TestFormatText_Error(t *testing.T) {
	v := errorVerdict("abc", "/tmp/x", 1, &errors.TimeoutError{JobID: "job-1", Elapsed: 301 * time.Second})
	text := FormatText(v)

	for _, want := range []string{"ERROR (timeout)", "job-1", "Elapsed:         5m1s"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Detections") {
		t.Error("an error verdict must not show detection counts")
	}
}

func TestVerdictJSON_ElapsedInSeconds(t *testing.T) {
	v := errorVerdict("abc", "/tmp/x", 1, &errors.TimeoutError{JobID: "job-1", Elapsed: 301500 * time.Millisecond})
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["elapsed_seconds"] != 301.5 {
		t.Errorf("elapsed_seconds = %v, want 301.5", got["elapsed_seconds"])
	}
	if _, ok := got["elapsed"]; ok {
		t.Error("raw nanosecond elapsed must not be encoded")
	}

	data, _ = json.Marshal(cleanReport().verdict("h", "", 0))
	if strings.Contains(string(data), "elapsed") {
		t.Errorf("completed verdict should omit elapsed: %s", data)
	}
}

func TestExitCode(t *testing.T) {
	malicious := maliciousReport().verdict("h", "", 0)
	clean := cleanReport().verdict("h", "", 0)
	failed := errorVerdict("h", "", 0, errors.E(errors.KindNetwork, "op", "down"))

	tests := []struct {
		name string
		v    *Verdict
		want int
	}{
		{"malicious", malicious, 2},
		{"clean", clean, 0},
		{"failed", failed, 1},
		{"nil", nil, 1},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.v); got != tt.want {
			t.Errorf("ExitCode(%s) = %d, want %d", tt.name, got, tt.want)
		}
	}
}
