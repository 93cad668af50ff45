// Package promadapters exposes the metrics of realtimedb through Prometheus.
package promadapters

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

const helpText = "realtimedb client metric "

// MetricsCollector implements realtimedb.MetricsCollector with Prometheus vectors:
//   - RecordDuration observes a HistogramVec, in seconds
//   - IncrementCounter increments a CounterVec
//   - RecordValue sets a GaugeVec
//
// The label names of a metric are fixed by its first observation. Later observations with other
// label names are dropped.
type MetricsCollector struct {
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
}

// Option configures a MetricsCollector.
type Option func(*MetricsCollector)

// WithBuckets sets the histogram buckets used for durations. The default is prometheus.DefBuckets.
func WithBuckets(buckets []float64) Option {
	return func(m *MetricsCollector) {
		m.buckets = buckets
	}
}

// NewMetricsCollector creates a MetricsCollector registering its vectors with registerer.
// A nil registerer means prometheus.DefaultRegisterer.
func NewMetricsCollector(registerer prometheus.Registerer, options ...Option) *MetricsCollector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &MetricsCollector{
		registerer: registerer,
		buckets:    prometheus.DefBuckets,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

func (m *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	vec := vector(m, m.histograms, metric, labels, func(names []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metric,
			Help:    helpText + metric,
			Buckets: m.buckets,
		}, names)
	})
	if vec == nil {
		return
	}

	if observer, err := vec.GetMetricWith(labels); err == nil {
		observer.Observe(duration.Seconds())
	}
}

func (m *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	vec := vector(m, m.counters, metric, labels, func(names []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: metric, Help: helpText + metric}, names)
	})
	if vec == nil {
		return
	}

	if counter, err := vec.GetMetricWith(labels); err == nil {
		counter.Inc()
	}
}

func (m *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	vec := vector(m, m.gauges, metric, labels, func(names []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: metric, Help: helpText + metric}, names)
	})
	if vec == nil {
		return
	}

	if gauge, err := vec.GetMetricWith(labels); err == nil {
		gauge.Set(value)
	}
}

// vector returns the registered vector for metric, creating and registering it on first use.
// A vector registered earlier by another MetricsCollector on the same registerer is reused.
func vector[V prometheus.Collector](
	m *MetricsCollector,
	cache map[string]V,
	metric string,
	labels map[string]string,
	create func(names []string) V,
) V {

	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, found := cache[metric]; found {
		return vec
	}

	vec := create(slices.Sorted(maps.Keys(labels)))

	if err := m.registerer.Register(vec); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if !errors.As(err, &alreadyRegistered) {
			var none V
			return none
		}

		existing, ok := alreadyRegistered.ExistingCollector.(V)
		if !ok {
			var none V
			return none
		}
		vec = existing
	}

	cache[metric] = vec

	return vec
}

var _ realtimedb.MetricsCollector = (*MetricsCollector)(nil)
