package signals

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/exploopio/filescan/pkg/logging"
	"github.com/exploopio/filescan/pkg/metrics"
)

// Scorer aggregates the registered signals into a RiskAssessment.
// A Scorer holds no per-call state and is safe for concurrent use.
type Scorer struct {
	registry *Registry
	totalMax float64
	logger   logging.Logger
	metrics  metrics.Collector
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithRegistry replaces the built-in signals.
func WithRegistry(r *Registry) Option {
	return func(s *Scorer) {
		s.registry = r
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scorer) {
		s.logger = logging.OrNop(l)
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Scorer) {
		s.metrics = metrics.OrNop(c)
	}
}

// NewScorer creates a scorer over DefaultRegistry unless told otherwise.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		logger:  logging.NopLogger{},
		metrics: metrics.NopCollector{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = DefaultRegistry()
	}
	s.totalMax = s.registry.TotalMax()
	return s
}

// Assess scores the file at path. It never fails: a file that cannot be
// found or stat'ed yields a zero-score ERROR assessment.
func (sc *Scorer) Assess(path string) RiskAssessment {
	info, err := os.Stat(path)
	if err != nil {
		msg := fmt.Sprintf("cannot stat file: %v", err)
		if os.IsNotExist(err) {
			msg = "file not found"
		}
		sc.logger.Warn("assess %s: %s", path, msg)
		sc.metrics.CounterInc(metrics.AssessmentsTotal.Name, "classification", string(ClassError))
		return RiskAssessment{
			Path:           path,
			Filename:       filepath.Base(path),
			Classification: ClassError,
			Signals:        []SignalDetail{},
			Explanation:    msg,
		}
	}
	return sc.AssessSample(NewSample(path, info.Size()))
}

// AssessSample scores an already-built sample.
func (sc *Scorer) AssessSample(s *Sample) RiskAssessment {
	a := RiskAssessment{
		Path:     s.Path,
		Filename: s.Name,
		Signals:  make([]SignalDetail, 0, 8),
	}

	var active []string
	for _, rule := range sc.registry.Rules() {
		d := sc.runRule(rule, s)
		a.RawScore += d.Weighted
		a.Signals = append(a.Signals, d)
		if d.Points > 0 {
			active = append(active, d.Rationale)
		}
	}

	a.Score = Normalize(a.RawScore, sc.totalMax)
	a.Classification = Classify(a.Score)
	if len(active) > 0 {
		a.Explanation = "Active signals:\n  " + strings.Join(active, "\n  ")
	} else {
		a.Explanation = "No suspicious signals"
	}
	if t, err := s.Type(); err == nil {
		a.DetectedType = t.MIME
	}
	if prefix, err := s.Prefix(); err == nil {
		a.SimilarityDigest = SimilarityDigest(prefix)
	}

	sc.metrics.CounterInc(metrics.AssessmentsTotal.Name, "classification", string(a.Classification))
	sc.metrics.HistogramObserve(metrics.AssessmentScore.Name, float64(a.Score))
	sc.logger.Debug("assess %s: score=%d raw=%.1f class=%s", s.Path, a.Score, a.RawScore, a.Classification)
	return a
}

// runRule computes one signal, turning an error or panic into zero points
// for that signal alone.
func (sc *Scorer) runRule(rule Rule, s *Sample) (d SignalDetail) {
	sig := rule.Signal
	d = SignalDetail{
		ID:        sig.ID,
		Name:      sig.Name,
		MaxPoints: sig.MaxPoints,
		Weight:    sig.Weight,
	}

	defer func() {
		if r := recover(); r != nil {
			d.Points, d.Weighted = 0, 0
			d.Error = fmt.Sprintf("panic: %v", r)
			d.Rationale = rationale(sig, 0, "")
			sc.signalFailed(sig, s, d.Error)
		}
	}()

	points, reason, err := rule.Score(s)
	if err != nil {
		d.Error = err.Error()
		d.Rationale = rationale(sig, 0, "")
		sc.signalFailed(sig, s, d.Error)
		return d
	}

	d.Points = max(0, min(points, sig.MaxPoints))
	d.Weighted = sig.Weight * float64(d.Points)
	d.Rationale = rationale(sig, d.Points, reason)
	return d
}

func (sc *Scorer) signalFailed(sig Signal, s *Sample, msg string) {
	sc.logger.Warn("signal %s on %s scored zero: %s", sig.ID, s.Path, msg)
	sc.metrics.CounterInc(metrics.SignalFailuresTotal.Name, "signal", sig.ID)
}

func rationale(sig Signal, points int, reason string) string {
	line := fmt.Sprintf("%s %s: %d/%d -> +%.1f pts", sig.ID, sig.Name, points, sig.MaxPoints, sig.Weight*float64(points))
	if reason != "" && points > 0 {
		line += " (" + reason + ")"
	}
	return line
}

// Normalize maps a raw weighted score onto 0-100:
// min(100, floor(raw × 100 / totalMax)).
func Normalize(raw, totalMax float64) int {
	if totalMax <= 0 || raw <= 0 {
		return 0
	}
	return int(math.Min(100, math.Floor(raw*100/totalMax)))
}
