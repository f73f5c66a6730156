// Package metrics provides metrics collection for the scorer and the sandbox
// client, with a Prometheus implementation and an in-memory one for tests.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Metrics Interface
// =============================================================================

// Collector is the interface components report metrics through.
type Collector interface {
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	GaugeSet(name string, value float64, labels ...string)
	GaugeInc(name string, labels ...string)
	GaugeDec(name string, labels ...string)

	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler
}

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Help    string     `json:"help"`
	Labels  []string   `json:"labels,omitempty"`
	Buckets []float64  `json:"buckets,omitempty"`
}

// =============================================================================
// Metric definitions
// =============================================================================

var (
	// Scorer metrics
	AssessmentsTotal = MetricDefinition{
		Name:   "filescan_assessments_total",
		Type:   MetricTypeCounter,
		Help:   "Static risk assessments by classification",
		Labels: []string{"classification"},
	}
	AssessmentScore = MetricDefinition{
		Name:    "filescan_assessment_score",
		Type:    MetricTypeHistogram,
		Help:    "Normalized static risk score",
		Buckets: []float64{10, 25, 50, 70, 100},
	}
	SignalFailuresTotal = MetricDefinition{
		Name:   "filescan_signal_failures_total",
		Type:   MetricTypeCounter,
		Help:   "Signals that failed and were scored zero",
		Labels: []string{"signal"},
	}

	// Sandbox metrics
	SandboxScansTotal = MetricDefinition{
		Name:   "filescan_sandbox_scans_total",
		Type:   MetricTypeCounter,
		Help:   "Sandbox scans by terminal state",
		Labels: []string{"outcome"},
	}
	SandboxScanDuration = MetricDefinition{
		Name:    "filescan_sandbox_scan_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "End-to-end sandbox scan duration in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}
	SandboxPollsTotal = MetricDefinition{
		Name:   "filescan_sandbox_polls_total",
		Type:   MetricTypeCounter,
		Help:   "Analysis status polls by reported state",
		Labels: []string{"state"},
	}
	SandboxInflight = MetricDefinition{
		Name: "filescan_sandbox_inflight_scans",
		Type: MetricTypeGauge,
		Help: "Sandbox scans currently running",
	}

	// HTTP client metrics
	HTTPRequestsTotal = MetricDefinition{
		Name:   "filescan_http_requests_total",
		Type:   MetricTypeCounter,
		Help:   "HTTP requests made to the sandbox service",
		Labels: []string{"endpoint", "status"},
	}
	HTTPRequestDuration = MetricDefinition{
		Name:    "filescan_http_request_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of sandbox HTTP requests in seconds",
		Labels:  []string{"endpoint"},
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
	}
)

// Definitions lists every metric filescan reports.
func Definitions() []MetricDefinition {
	return []MetricDefinition{
		AssessmentsTotal,
		AssessmentScore,
		SignalFailuresTotal,
		SandboxScansTotal,
		SandboxScanDuration,
		SandboxPollsTotal,
		SandboxInflight,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	}
}

// =============================================================================
// NopCollector
// =============================================================================

// NopCollector discards all metrics.
type NopCollector struct{}

func (NopCollector) CounterInc(name string, labels ...string)                      {}
func (NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (NopCollector) GaugeInc(name string, labels ...string)                        {}
func (NopCollector) GaugeDec(name string, labels ...string)                        {}
func (NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }

// OrNop returns c, or a NopCollector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return NopCollector{}
	}
	return c
}

// =============================================================================
// InMemoryCollector
// =============================================================================

// InMemoryCollector keeps metrics in maps keyed by name and labels.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryCollector creates an empty in-memory collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// key renders name plus label pairs as "name,k=v,k=v".
func key(name string, labels []string) string {
	var b strings.Builder
	b.WriteString(name)
	for i := 0; i+1 < len(labels); i += 2 {
		b.WriteString(",")
		b.WriteString(labels[i])
		b.WriteString("=")
		b.WriteString(labels[i+1])
	}
	return b.String()
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key(name, labels)] = value
}

func (c *InMemoryCollector) GaugeInc(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key(name, labels)]++
}

func (c *InMemoryCollector) GaugeDec(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key(name, labels)]--
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(name, labels)
	c.histograms[k] = append(c.histograms[k], value)
}

func (c *InMemoryCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

// Counter returns the value of a counter.
func (c *InMemoryCollector) Counter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[key(name, labels)]
}

// Gauge returns the value of a gauge.
func (c *InMemoryCollector) Gauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[key(name, labels)]
}

// Observations returns all observations of a histogram.
func (c *InMemoryCollector) Observations(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]float64(nil), c.histograms[key(name, labels)]...)
}

// CounterKeys returns every recorded counter key, sorted.
func (c *InMemoryCollector) CounterKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.counters))
	for k := range c.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Timer
// =============================================================================

// Timer records the time since its creation to a histogram.
type Timer struct {
	start     time.Time
	collector Collector
	name      string
	labels    []string
}

// NewTimer starts a timer for the given histogram.
func NewTimer(collector Collector, name string, labels ...string) *Timer {
	return &Timer{
		start:     time.Now(),
		collector: OrNop(collector),
		name:      name,
		labels:    labels,
	}
}

// ObserveDuration records the elapsed time and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.collector.HistogramObserve(t.name, d.Seconds(), t.labels...)
	return d
}

var (
	_ Collector = NopCollector{}
	_ Collector = (*InMemoryCollector)(nil)
)
