package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/exploopio/filescan/pkg/errors"
	"github.com/exploopio/filescan/pkg/pending"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func (c *fakeClock) totalSlept() time.Duration {
	var total time.Duration
	for _, d := range c.sleeps() {
		total += d
	}
	return total
}

// poll is one scripted GetAnalysis answer.
type poll struct {
	report *Report
	err    error
}

func status(s string) poll {
	return poll{report: &Report{Status: s, Stats: map[string]int{}, Results: map[string]EngineResult{}}}
}

func completed(r *Report) poll {
	r.Status = StatusCompleted
	return poll{report: r}
}

func failure(err error) poll {
	return poll{err: err}
}

// fakeTransport answers from scripted results and counts calls.
type fakeTransport struct {
	mu sync.Mutex

	lookupReport *Report
	lookupErr    error

	jobID     string
	submitErr error
	// submitStarted and submitGate, when set, pause Submit until released.
	submitStarted chan struct{}
	submitGate    chan struct{}
	startOnce     sync.Once

	polls []poll

	lookups    int
	submits    int
	pollCount  int
	lookedUp   []string
	pollJobIDs []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		lookupErr: &errors.APIError{StatusCode: 404, Code: "NotFoundError", Message: "not found"},
		jobID:     "job-1",
	}
}

func (f *fakeTransport) LookupHash(ctx context.Context, hash string) (*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	f.lookedUp = append(f.lookedUp, hash)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.lookupReport, nil
}

func (f *fakeTransport) Submit(ctx context.Context, path string) (string, error) {
	if f.submitStarted != nil {
		f.startOnce.Do(func() { close(f.submitStarted) })
	}
	if f.submitGate != nil {
		<-f.submitGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.jobID, nil
}

func (f *fakeTransport) GetAnalysis(ctx context.Context, jobID string) (*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollJobIDs = append(f.pollJobIDs, jobID)
	if len(f.polls) == 0 {
		f.pollCount++
		return &Report{Status: StatusQueued}, nil
	}
	p := f.polls[min(f.pollCount, len(f.polls)-1)]
	f.pollCount++
	if p.err != nil {
		return nil, p.err
	}
	return p.report, nil
}

func (f *fakeTransport) counts() (lookups, submits, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups, f.submits, f.pollCount
}

// fakePending records saved jobs.
type fakePending struct {
	mu   sync.Mutex
	jobs []*pending.Job
}

func (p *fakePending) Save(ctx context.Context, job *pending.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

// engineReport builds a completed-style report with the given buckets and
// per-engine categories.
func engineReport(stats map[string]int, results map[string]EngineResult) *Report {
	if results == nil {
		results = map[string]EngineResult{}
	}
	return &Report{Stats: stats, Results: results, Date: 1767225600}
}

func maliciousReport() *Report {
	return engineReport(
		map[string]int{"malicious": 2, "undetected": 3, "suspicious": 1, "timeout": 1, "type-unsupported": 2},
		map[string]EngineResult{
			"Kaspersky":   {Category: "malicious", EngineName: "Kaspersky", Result: "Trojan.Win32.Agent"},
			"BitDefender": {Category: "malicious", EngineName: "BitDefender", Result: "Gen:Variant.Razy"},
			"ClamAV":      {Category: "undetected", EngineName: "ClamAV"},
			"Avast":       {Category: "suspicious", EngineName: "Avast", Result: "Heur"},
		},
	)
}

func cleanReport() *Report {
	return engineReport(map[string]int{"undetected": 60, "harmless": 0, "type-unsupported": 10}, nil)
}

func newTestClient(t *testing.T, tr Transport, clk Clock, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithTransport(tr), WithClock(clk)}, opts...)
	c, err := New(&Config{APIKey: "test-key"}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func writeSample(t *testing.T, name string, content []byte) (path, hash string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	sum := sha256.Sum256(content)
	return path, hex.EncodeToString(sum[:])
}
