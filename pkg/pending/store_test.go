package pending

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/exploopio/filescan/pkg/errors"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := Open(&Config{
		DatabasePath: filepath.Join(t.TempDir(), "nested", "pending.db"),
		MaxAttempts:  3,
		Backoff:      &BackoffConfig{Strategy: BackoffExponential, BaseInterval: time.Minute, MaxInterval: time.Hour},
		Now:          clk.Now,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

func TestStore_SaveAndGet(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	job := &Job{JobID: "job-1", ContentHash: "abc", FilePath: "/tmp/a.exe", FileSize: 42, LastError: "timed out"}
	if err := s.Save(ctx, job); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if job.ID == "" {
		t.Fatal("Save() should assign an id")
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.JobID != "job-1" || got.ContentHash != "abc" || got.FilePath != "/tmp/a.exe" || got.FileSize != 42 {
		t.Errorf("Get() = %+v", got)
	}
	if got.LastError != "timed out" || got.Attempts != 0 {
		t.Errorf("LastError = %q, Attempts = %d", got.LastError, got.Attempts)
	}
	if !got.CreatedAt.Equal(clk.now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, clk.now)
	}
	if !got.NextAttemptAt.Equal(clk.now.Add(time.Minute)) {
		t.Errorf("NextAttemptAt = %v, want one base interval later", got.NextAttemptAt)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.IsNotFoundError(err) {
		t.Errorf("Get() error = %v, want not found", err)
	}
}

func TestStore_SaveRequiresJobID(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Save(context.Background(), &Job{ContentHash: "abc"}); errors.GetKind(err) != errors.KindInvalidInput {
		t.Errorf("Save() error = %v, want invalid input", err)
	}
}

func TestStore_SaveSameRemoteJobUpdates(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	first := &Job{JobID: "job-1", ContentHash: "abc", LastError: "first"}
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	clk.advance(time.Minute)
	again := &Job{JobID: "job-1", ContentHash: "abc", LastError: "second"}
	if err := s.Save(ctx, again); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count() = %d, %v; want 1", n, err)
	}
	got, err := s.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastError != "second" {
		t.Errorf("LastError = %q, want second", got.LastError)
	}
}

func TestStore_DueAndRecordAttempt(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		job := &Job{JobID: fmt.Sprintf("job-%d", i), ContentHash: "h"}
		if err := s.Save(ctx, job); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		clk.advance(10 * time.Second)
	}

	due, err := s.Due(ctx, clk.now)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("Due() = %d jobs before the first interval, want 0", len(due))
	}

	clk.advance(time.Minute)
	due, err = s.Due(ctx, clk.now)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 3 || due[0].JobID != "job-0" || due[2].JobID != "job-2" {
		t.Fatalf("Due() = %v, want all three oldest first", jobIDs(due))
	}

	target := due[0]
	if err := s.RecordAttempt(ctx, target.ID, fmt.Errorf("still queued")); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	got, _ := s.Get(ctx, target.ID)
	if got.Attempts != 1 || got.LastError != "still queued" {
		t.Errorf("after attempt: %+v", got)
	}
	if want := clk.now.Add(2 * time.Minute); !got.NextAttemptAt.Equal(want) {
		t.Errorf("NextAttemptAt = %v, want %v", got.NextAttemptAt, want)
	}

	due, _ = s.Due(ctx, clk.now)
	if len(due) != 2 {
		t.Errorf("Due() = %v, want the two untouched jobs", jobIDs(due))
	}
}

func TestStore_ExhaustedJobsAreNotDue(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	job := &Job{JobID: "job-1", ContentHash: "h"}
	if err := s.Save(ctx, job); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	for range 3 {
		if err := s.RecordAttempt(ctx, job.ID, nil); err != nil {
			t.Fatalf("RecordAttempt() error = %v", err)
		}
	}

	clk.advance(24 * time.Hour)
	due, err := s.Due(ctx, clk.now)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("Due() = %v, want none after max attempts", jobIDs(due))
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, exhausted jobs are kept", n)
	}
}

func TestStore_RecordAttemptMissing(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.RecordAttempt(context.Background(), "nope", nil); !errors.IsNotFoundError(err) {
		t.Errorf("RecordAttempt() error = %v, want not found", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job := &Job{JobID: "job-1", ContentHash: "h"}
	if err := s.Save(ctx, job); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, job.ID); !errors.IsNotFoundError(err) {
		t.Errorf("Get() after Delete error = %v", err)
	}
	if err := s.Delete(ctx, job.ID); err != nil {
		t.Errorf("deleting twice should be harmless: %v", err)
	}
}

func TestStore_Ping(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping() after Close should fail")
	}
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.db")
	ctx := context.Background()

	s, err := Open(&Config{DatabasePath: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	job := &Job{JobID: "job-1", ContentHash: "h"}
	if err := s.Save(ctx, job); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Close()

	s, err = Open(&Config{DatabasePath: path})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if _, err := s.Get(ctx, job.ID); err != nil {
		t.Errorf("job lost across reopen: %v", err)
	}
}

func jobIDs(jobs []*Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	return ids
}
