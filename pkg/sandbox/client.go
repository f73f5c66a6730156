package sandbox

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/exploopio/filescan/pkg/errors"
	"github.com/exploopio/filescan/pkg/logging"
	"github.com/exploopio/filescan/pkg/metrics"
	"github.com/exploopio/filescan/pkg/pending"
)

// PendingStore records jobs that ran past their polling deadline.
// *pending.Store implements it.
type PendingStore interface {
	Save(ctx context.Context, job *pending.Job) error
}

// Client scans files against the analysis service. It is safe for
// concurrent use; concurrent scans of identical content share one upload.
type Client struct {
	cfg       Config
	transport Transport
	clock     Clock
	logger    logging.Logger
	metrics   metrics.Collector
	pending   PendingStore
	flights   singleflight.Group

	mu      sync.Mutex
	waiting map[string]*flight
}

// flight is the context a shared scan runs under. It is cancelled once
// every caller waiting on it has gone away.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithClock replaces the system clock.
func WithClock(clk Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(l)
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = metrics.OrNop(m)
	}
}

// WithPendingStore records timed-out jobs in s.
func WithPendingStore(s PendingStore) Option {
	return func(c *Client) {
		c.pending = s
	}
}

// New creates a client. It fails with errors.ErrMissingAPIKey when the key
// is empty or still the sample placeholder.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := ValidateAPIKey(cfg.APIKey); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     *cfg,
		clock:   systemClock{},
		logger:  logging.NopLogger{},
		metrics: metrics.NopCollector{},
		waiting: make(map[string]*flight),
	}
	c.cfg.applyDefaults()
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(&c.cfg, c.metrics)
	}
	return c, nil
}

// CheckHash looks a content hash up in the service's cache. It never
// uploads. An unknown hash returns an error for which
// errors.IsNotFoundError is true.
func (c *Client) CheckHash(ctx context.Context, hash string) (*Verdict, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if !ValidHash(hash) {
		return nil, errors.E(errors.KindInvalidInput, "sandbox.CheckHash", "not an MD5, SHA-1 or SHA-256 hex digest")
	}
	report, err := c.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	v := report.verdict(hash, "", 0)
	v.Cached = true
	return v, nil
}

func (c *Client) lookup(ctx context.Context, hash string) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()
	return c.transport.LookupHash(ctx, hash)
}

// Scan hashes the file, answers from the cache when possible and otherwise
// uploads it and waits for the analysis. The error return is reserved for
// input problems (missing, unreadable or oversized file); transport,
// protocol and timeout failures are reported in Verdict.Error.
func (c *Client) Scan(ctx context.Context, path string) (string, *Verdict, error) {
	ctx = c.withRequestID(ctx)
	s := &scan{state: stateInit, path: path}

	for s.state == stateInit || s.state == stateHashing {
		c.step(ctx, s)
	}
	if s.state == stateError {
		c.metrics.CounterInc(metrics.SandboxScansTotal.Name, "outcome", "input_error")
		return s.hash, nil, s.err
	}

	if err := ctx.Err(); err != nil {
		return s.hash, errorVerdict(s.hash, path, s.size,
			errors.E(errors.KindTimeout, "sandbox.Scan", "cancelled before upload", err)), nil
	}

	f := c.join(ctx, s.hash)
	ch := c.flights.DoChan(s.hash, func() (any, error) {
		return c.run(f.ctx, s), nil
	})
	select {
	case res := <-ch:
		c.leave(s.hash, f)
		v := res.Val.(*Verdict)
		if res.Shared {
			c.logger.Debug("scan %s: shared in-flight result for %s", path, s.hash)
			out := *v
			out.FilePath = path
			out.Detections = maps.Clone(v.Detections)
			v = &out
		}
		return s.hash, v, nil
	case <-ctx.Done():
		c.leave(s.hash, f)
		return s.hash, errorVerdict(s.hash, path, s.size,
			errors.E(errors.KindTimeout, "sandbox.Scan", "cancelled while polling", ctx.Err())), nil
	}
}

// join registers the caller as a waiter on the shared scan of hash. The
// shared context keeps the caller's values but not its cancellation.
func (c *Client) join(ctx context.Context, hash string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.waiting[hash]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.waiting[hash] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one out cancels the shared scan and
// forgets it, so a later caller starts afresh.
func (c *Client) leave(hash string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if c.waiting[hash] == f {
		delete(c.waiting, hash)
	}
	f.cancel()
	c.flights.Forget(hash)
}

// Resume polls an analysis job submitted earlier, without uploading again.
// A resumed job that times out again is not re-recorded in the pending
// store; the caller owns its bookkeeping.
func (c *Client) Resume(ctx context.Context, jobID, hash string, size int64) *Verdict {
	ctx = c.withRequestID(ctx)
	s := &scan{
		state:   stateSubmitted,
		jobID:   jobID,
		hash:    hash,
		size:    size,
		resumed: true,
	}
	return c.run(ctx, s)
}

// run drives the state machine to a terminal state and returns its verdict.
func (c *Client) run(ctx context.Context, s *scan) *Verdict {
	c.metrics.GaugeInc(metrics.SandboxInflight.Name)
	defer c.metrics.GaugeDec(metrics.SandboxInflight.Name)
	started := c.clock.Now()

	for !s.state.terminal() {
		c.step(ctx, s)
	}
	v := c.verdict(s)

	c.metrics.CounterInc(metrics.SandboxScansTotal.Name, "outcome", s.state.outcome())
	c.metrics.HistogramObserve(metrics.SandboxScanDuration.Name, c.clock.Now().Sub(started).Seconds())
	if v.Failed() {
		c.logger.Warn("scan %s: %s", s.hash, v.Error)
	} else {
		c.logger.Info("scan %s: %d/%d engines detected (cached=%t)", s.hash, v.DetectionCount, v.TotalEngineCount, v.Cached)
	}
	return v
}

func (c *Client) withRequestID(ctx context.Context) context.Context {
	if RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, uuid.NewString())
}

func (c *Client) recordPending(ctx context.Context, s *scan, elapsed time.Duration) {
	if c.pending == nil || s.resumed {
		return
	}
	job := &pending.Job{
		JobID:       s.jobID,
		ContentHash: s.hash,
		FilePath:    s.path,
		FileSize:    s.size,
		LastError:   s.err.Error(),
	}
	// The scan context may already be done; the record must still land.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.pending.Save(saveCtx, job); err != nil {
		c.logger.Error("scan %s: could not record pending job %s: %v", s.hash, s.jobID, err)
		return
	}
	c.logger.Info("scan %s: job %s pending after %s", s.hash, s.jobID, elapsed.Round(time.Second))
}
