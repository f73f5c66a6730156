package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements Collector on a Prometheus registry.
// Observations for names that were never registered are dropped.
type PrometheusCollector struct {
	mu         sync.RWMutex
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// PrometheusConfig configures the Prometheus collector.
type PrometheusConfig struct {
	// Registry to use; nil creates one with Go and process collectors.
	Registry *prometheus.Registry

	// RegisterDefaults registers every metric from Definitions().
	RegisterDefaults bool
}

// NewPrometheusCollector creates a Prometheus-backed collector.
func NewPrometheusCollector(cfg *PrometheusConfig) (*PrometheusCollector, error) {
	if cfg == nil {
		cfg = &PrometheusConfig{RegisterDefaults: true}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	c := &PrometheusCollector{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	if cfg.RegisterDefaults {
		for _, def := range Definitions() {
			if err := c.Register(def); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Register adds a metric. Registering the same name twice is a no-op.
func (c *PrometheusCollector) Register(def MetricDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch def.Type {
	case MetricTypeCounter:
		if _, ok := c.counters[def.Name]; ok {
			return nil
		}
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: def.Name, Help: def.Help}, def.Labels)
		if err := c.registry.Register(vec); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
		c.counters[def.Name] = vec

	case MetricTypeGauge:
		if _, ok := c.gauges[def.Name]; ok {
			return nil
		}
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: def.Name, Help: def.Help}, def.Labels)
		if err := c.registry.Register(vec); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
		c.gauges[def.Name] = vec

	case MetricTypeHistogram:
		if _, ok := c.histograms[def.Name]; ok {
			return nil
		}
		buckets := def.Buckets
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: def.Name, Help: def.Help, Buckets: buckets}, def.Labels)
		if err := c.registry.Register(vec); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
		c.histograms[def.Name] = vec

	default:
		return fmt.Errorf("register %s: unsupported metric type %q", def.Name, def.Type)
	}
	return nil
}

func (c *PrometheusCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *PrometheusCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.RLock()
	vec, ok := c.counters[name]
	c.mu.RUnlock()
	if ok {
		vec.WithLabelValues(labelValues(labels)...).Add(value)
	}
}

func (c *PrometheusCollector) GaugeSet(name string, value float64, labels ...string) {
	if g := c.gauge(name, labels); g != nil {
		g.Set(value)
	}
}

func (c *PrometheusCollector) GaugeInc(name string, labels ...string) {
	if g := c.gauge(name, labels); g != nil {
		g.Inc()
	}
}

func (c *PrometheusCollector) GaugeDec(name string, labels ...string) {
	if g := c.gauge(name, labels); g != nil {
		g.Dec()
	}
}

func (c *PrometheusCollector) gauge(name string, labels []string) prometheus.Gauge {
	c.mu.RLock()
	vec, ok := c.gauges[name]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return vec.WithLabelValues(labelValues(labels)...)
}

func (c *PrometheusCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.RLock()
	vec, ok := c.histograms[name]
	c.mu.RUnlock()
	if ok {
		vec.WithLabelValues(labelValues(labels)...).Observe(value)
	}
}

// Handler serves the registry in the OpenMetrics format.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying Prometheus registry.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// labelValues keeps the values of ["k1", "v1", "k2", "v2"].
func labelValues(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	values := make([]string, 0, len(labels)/2)
	for i := 1; i < len(labels); i += 2 {
		values = append(values, labels[i])
	}
	return values
}

var _ Collector = (*PrometheusCollector)(nil)
