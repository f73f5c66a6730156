package health

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"
)

func staticCheck(status Status) Checker {
	return CheckFunc(func(ctx context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestHandler_Check(t *testing.T) {
	h := NewHandler(WithVersion("1.0.0"), WithTimeout(time.Second))
	h.Register("db", staticCheck(StatusHealthy))

	report := h.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", report.Status)
	}
	if report.Version != "1.0.0" {
		t.Errorf("Version = %q", report.Version)
	}
	if _, ok := report.Checks["db"]; !ok || len(report.Checks) != 1 {
		t.Errorf("Checks = %v", report.Checks)
	}
}

func TestHandler_StatusAggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"none", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"unknown ignored", []Status{StatusHealthy, StatusUnknown}, StatusHealthy},
		{"degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for i, s := range tt.statuses {
				h.Register(string(rune('a'+i)), staticCheck(s))
			}
			if got := h.Check(context.Background()).Status; got != tt.want {
				t.Errorf("Status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandler_CheckTimeout(t *testing.T) {
	h := NewHandler(WithTimeout(20 * time.Millisecond))
	h.Register("slow", CheckFunc(func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	}))

	start := time.Now()
	report := h.Check(context.Background())
	if time.Since(start) > time.Second {
		t.Error("Check() did not honour its timeout")
	}
	if report.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", report.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	h := NewHandler()
	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadinessHandler(t *testing.T) {
	h := NewHandler()
	serve := func() (int, Report) {
		rec := httptest.NewRecorder()
		h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		var r Report
		_ = json.Unmarshal(rec.Body.Bytes(), &r)
		return rec.Code, r
	}

	if code, _ := serve(); code != http.StatusServiceUnavailable {
		t.Errorf("before SetReady: status = %d, want 503", code)
	}

	h.SetReady(true)
	h.Register("db", staticCheck(StatusHealthy))
	if code, r := serve(); code != http.StatusOK || r.Status != StatusHealthy {
		t.Errorf("ready: status = %d, report = %+v", code, r)
	}

	h.Register("db", staticCheck(StatusUnhealthy))
	if code, _ := serve(); code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy check: status = %d, want 503", code)
	}
}

func TestRegisterRoutes(t *testing.T) {
	h := NewHandler()
	h.SetReady(true)
	mux := http.NewServeMux()
	RegisterRoutes(mux, h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestDatabaseCheck(t *testing.T) {
	tests := []struct {
		name string
		ping func(context.Context) error
		want Status
	}{
		{"no ping", nil, StatusUnknown},
		{"ok", func(context.Context) error { return nil }, StatusHealthy},
		{"down", func(context.Context) error { return errors.New("database is locked") }, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := (&DatabaseCheck{Ping: tt.ping}).Check(context.Background())
			if got.Status != tt.want {
				t.Errorf("Status = %v, want %v", got.Status, tt.want)
			}
			if tt.want == StatusUnhealthy && got.Error != "database is locked" {
				t.Errorf("Error = %q", got.Error)
			}
		})
	}
}

func TestDiskCheck(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" && runtime.GOOS != "freebsd" {
		t.Skip("disk stats not available on " + runtime.GOOS)
	}

	got := (&DiskCheck{Path: t.TempDir()}).Check(context.Background())
	if got.Status != StatusHealthy {
		t.Errorf("Status = %v (%s), want healthy", got.Status, got.Error)
	}
	if _, ok := got.Metadata["free_bytes"]; !ok {
		t.Error("Metadata missing free_bytes")
	}

	got = (&DiskCheck{Path: t.TempDir(), MinFreeBytes: math.MaxUint64}).Check(context.Background())
	if got.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy above any real free space", got.Status)
	}

	got = (&DiskCheck{Path: "/definitely/not/here"}).Check(context.Background())
	if got.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy for a missing path", got.Status)
	}
}
