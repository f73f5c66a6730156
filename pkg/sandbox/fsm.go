package sandbox

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/exploopio/filescan/pkg/errors"
	"github.com/exploopio/filescan/pkg/metrics"
)

// state is a position in the scan state machine.
//
//	INIT -> HASHING -> CACHE_LOOKUP -> CACHED
//	                                -> UPLOADING -> SUBMITTED -> POLLING -> COMPLETED
//	                                                                     -> TIMED_OUT
//	                                                                     -> UNKNOWN_STATE
//
// Any state may move to ERROR.
type state int

const (
	stateInit state = iota
	stateHashing
	stateCacheLookup
	stateCached
	stateUploading
	stateSubmitted
	statePolling
	stateCompleted
	stateTimedOut
	stateUnknownState
	stateError
)

var stateNames = [...]string{
	stateInit:         "INIT",
	stateHashing:      "HASHING",
	stateCacheLookup:  "CACHE_LOOKUP",
	stateCached:       "CACHED",
	stateUploading:    "UPLOADING",
	stateSubmitted:    "SUBMITTED",
	statePolling:      "POLLING",
	stateCompleted:    "COMPLETED",
	stateTimedOut:     "TIMED_OUT",
	stateUnknownState: "UNKNOWN_STATE",
	stateError:        "ERROR",
}

func (s state) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s state) terminal() bool {
	switch s {
	case stateCached, stateCompleted, stateTimedOut, stateUnknownState, stateError:
		return true
	}
	return false
}

// outcome is the metric label for a terminal state.
func (s state) outcome() string {
	switch s {
	case stateCached:
		return "cached"
	case stateCompleted:
		return "completed"
	case stateTimedOut:
		return "timeout"
	case stateUnknownState:
		return "unknown_state"
	default:
		return "error"
	}
}

// scan is the state carried between steps.
type scan struct {
	state state

	path    string
	hash    string
	size    int64
	jobID   string
	resumed bool

	pollStart time.Time
	report    *Report
	err       error
}

// step performs the work of the current state and moves to the next one.
func (c *Client) step(ctx context.Context, s *scan) {
	from := s.state
	switch s.state {
	case stateInit:
		c.stepInit(s)
	case stateHashing:
		c.stepHashing(s)
	case stateCacheLookup:
		c.stepCacheLookup(ctx, s)
	case stateUploading:
		c.stepUploading(ctx, s)
	case stateSubmitted:
		s.pollStart = c.clock.Now()
		s.state = statePolling
	case statePolling:
		c.stepPolling(ctx, s)
	default:
		s.fail(errors.E(errors.KindInternal, "sandbox.step", fmt.Sprintf("no transition from %s", s.state)))
	}
	if s.state != from {
		c.logger.Debug("scan %s: %s -> %s", s.label(), from, s.state)
	}
}

func (c *Client) stepInit(s *scan) {
	info, err := os.Stat(s.path)
	switch {
	case os.IsNotExist(err):
		s.fail(errors.E(errors.KindNotFound, "sandbox.Scan", "file not found", err))
	case err != nil:
		s.fail(errors.E(errors.KindInvalidInput, "sandbox.Scan", "cannot stat file", err))
	case !info.Mode().IsRegular():
		s.fail(errors.E(errors.KindInvalidInput, "sandbox.Scan", "not a regular file"))
	case info.Size() > c.cfg.MaxFileSize:
		s.fail(errors.E(errors.KindTooLarge, "sandbox.Scan",
			fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), c.cfg.MaxFileSize)))
	default:
		s.size = info.Size()
		s.state = stateHashing
	}
}

func (c *Client) stepHashing(s *scan) {
	hash, err := HashFile(s.path)
	if err != nil {
		s.fail(err)
		return
	}
	s.hash = hash
	s.state = stateCacheLookup
}

func (c *Client) stepCacheLookup(ctx context.Context, s *scan) {
	report, err := c.lookup(ctx, s.hash)
	switch {
	case err == nil:
		s.report = report
		s.state = stateCached
	case errors.IsNotFoundError(err):
		c.logger.Debug("scan %s: not in cache", s.hash)
		s.state = stateUploading
	default:
		c.logger.Warn("scan %s: cache lookup failed, uploading: %v", s.hash, err)
		s.state = stateUploading
	}
}

func (c *Client) stepUploading(ctx context.Context, s *scan) {
	jobID, err := c.transport.Submit(ctx, s.path)
	if err != nil {
		s.fail(err)
		return
	}
	s.jobID = jobID
	s.state = stateSubmitted
}

func (c *Client) stepPolling(ctx context.Context, s *scan) {
	elapsed := c.clock.Now().Sub(s.pollStart)
	if elapsed >= c.cfg.PollTimeout {
		s.err = &errors.TimeoutError{JobID: s.jobID, Elapsed: elapsed}
		s.state = stateTimedOut
		c.recordPending(ctx, s, elapsed)
		return
	}
	if err := ctx.Err(); err != nil {
		s.fail(errors.E(errors.KindTimeout, "sandbox.Scan", "cancelled while polling", err))
		return
	}

	report, err := c.transport.GetAnalysis(ctx, s.jobID)
	if err != nil {
		c.metrics.CounterInc(metrics.SandboxPollsTotal.Name, "state", "error")
		if errors.IsProtocolError(err) && ctx.Err() == nil {
			s.fail(err)
			return
		}
		c.logger.Warn("scan %s: polling job %s failed, retrying: %v", s.label(), s.jobID, err)
		c.sleep(ctx, s, RetryDelay)
		return
	}

	c.metrics.CounterInc(metrics.SandboxPollsTotal.Name, "state", report.Status)
	switch report.Status {
	case StatusCompleted:
		s.report = report
		s.state = stateCompleted
	case StatusQueued:
		c.sleep(ctx, s, QueuedDelay)
	case StatusRunning:
		c.sleep(ctx, s, RunningDelay)
	default:
		s.err = errors.E(errors.KindProtocol, "sandbox.Scan", fmt.Sprintf("unknown analysis state: %q", report.Status))
		s.state = stateUnknownState
	}
}

// sleep waits between polls, moving to ERROR if the context ends first.
func (c *Client) sleep(ctx context.Context, s *scan, d time.Duration) {
	if err := c.clock.Sleep(ctx, d); err != nil {
		s.fail(errors.E(errors.KindTimeout, "sandbox.Scan", "cancelled while polling", err))
	}
}

func (s *scan) fail(err error) {
	s.err = err
	s.state = stateError
}

func (s *scan) label() string {
	if s.hash != "" {
		return s.hash
	}
	return s.path
}

// verdict builds the single verdict for a terminal state.
func (c *Client) verdict(s *scan) *Verdict {
	switch s.state {
	case stateCached:
		v := s.report.verdict(s.hash, s.path, s.size)
		v.Cached = true
		return v
	case stateCompleted:
		v := s.report.verdict(s.hash, s.path, s.size)
		v.JobID = s.jobID
		return v
	default:
		err := s.err
		if err == nil {
			err = errors.E(errors.KindInternal, "sandbox.Scan", fmt.Sprintf("stopped in %s", s.state))
		}
		v := errorVerdict(s.hash, s.path, s.size, err)
		if v.JobID == "" {
			v.JobID = s.jobID
		}
		return v
	}
}
