// Package prom implements erpdk.Statter on top of the Prometheus client.
// Every metric carries a single "tags" label holding the comma joined tags
// of the call.
package prom

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pilosa/erpdk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ erpdk.Statter = &Statter{}

// Statter creates Prometheus collectors on first use of each metric name.
// Collectors are keyed by the name they are exposed under. A call whose
// metric name is already taken by a different kind of metric, or by the same
// kind with other labels, is dropped and counted in metric_conflicts_total.
type Statter struct {
	namespace string
	reg       prometheus.Registerer
	gatherer  prometheus.Gatherer

	mu         sync.Mutex
	kinds      map[string]string
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
}

// NewStatter returns a Statter whose metrics are prefixed with namespace and
// registered with a fresh registry.
func NewStatter(namespace string) *Statter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metric_conflicts_total",
		Help:      "Observations dropped because their metric name was taken by another kind of metric.",
	}, []string{"name"})
	reg.MustRegister(conflicts)
	return &Statter{
		namespace:  namespace,
		reg:        reg,
		gatherer:   reg,
		kinds:      map[string]string{"metric_conflicts_total": "conflicts"},
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		conflicts:  conflicts,
	}
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (s *Statter) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the registry the metrics are collected in.
func (s *Statter) Gatherer() prometheus.Gatherer { return s.gatherer }

func metricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}

func tagValue(tags []string) string {
	return strings.Join(tags, ",")
}

// claim reserves name for kind, reporting whether it is free or already
// held by the same kind. s.mu must be held.
func (s *Statter) claim(name, kind string) bool {
	if k, ok := s.kinds[name]; ok && k != kind {
		s.conflicts.WithLabelValues(name).Inc()
		return false
	}
	s.kinds[name] = kind
	return true
}

// register adds c to the registry, releasing name if that fails. s.mu must
// be held.
func (s *Statter) register(name string, c prometheus.Collector) bool {
	if err := s.reg.Register(c); err != nil {
		delete(s.kinds, name)
		s.conflicts.WithLabelValues(name).Inc()
		return false
	}
	return true
}

func (s *Statter) counter(name string) *prometheus.CounterVec {
	full := metricName(name) + "_total"
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(full, "counter") {
		return nil
	}
	c, ok := s.counters[full]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      full,
			Help:      "Count of " + name + ".",
		}, []string{"tags"})
		if !s.register(full, c) {
			return nil
		}
		s.counters[full] = c
	}
	return c
}

func (s *Statter) gauge(name string, labels ...string) *prometheus.GaugeVec {
	full := metricName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(full, "gauge:"+strings.Join(labels, ",")) {
		return nil
	}
	g, ok := s.gauges[full]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: s.namespace,
			Name:      full,
			Help:      "Current value of " + name + ".",
		}, append([]string{"tags"}, labels...))
		if !s.register(full, g) {
			return nil
		}
		s.gauges[full] = g
	}
	return g
}

func (s *Statter) histogram(name string, buckets []float64) *prometheus.HistogramVec {
	full := metricName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(full, "histogram") {
		return nil
	}
	h, ok := s.histograms[full]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      full,
			Help:      "Distribution of " + name + ".",
			Buckets:   buckets,
		}, []string{"tags"})
		if !s.register(full, h) {
			return nil
		}
		s.histograms[full] = h
	}
	return h
}

// Count implements erpdk.Statter.
func (s *Statter) Count(name string, value int64, rate float64, tags ...string) {
	if value < 0 {
		return
	}
	if c := s.counter(name); c != nil {
		c.WithLabelValues(tagValue(tags)).Add(float64(value))
	}
}

// Gauge implements erpdk.Statter.
func (s *Statter) Gauge(name string, value float64, rate float64, tags ...string) {
	if g := s.gauge(name); g != nil {
		g.WithLabelValues(tagValue(tags)).Set(value)
	}
}

// Histogram implements erpdk.Statter.
func (s *Statter) Histogram(name string, value float64, rate float64, tags ...string) {
	if h := s.histogram(name, prometheus.DefBuckets); h != nil {
		h.WithLabelValues(tagValue(tags)).Observe(value)
	}
}

// Set implements erpdk.Statter by recording each distinct value as a
// labelled gauge set to 1.
func (s *Statter) Set(name string, value string, rate float64, tags ...string) {
	if g := s.gauge(name+"_set", "value"); g != nil {
		g.WithLabelValues(tagValue(tags), value).Set(1)
	}
}

// Timing implements erpdk.Statter. Durations are recorded in seconds with
// the metric name suffixed by _seconds.
func (s *Statter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	if h := s.histogram(name+"_seconds", prometheus.ExponentialBuckets(0.0005, 2, 16)); h != nil {
		h.WithLabelValues(tagValue(tags)).Observe(value.Seconds())
	}
}
