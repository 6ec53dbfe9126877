package stdalloc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports allocator activity to prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Ops           *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	AllocBytes    prometheus.Counter
	Grows         prometheus.Counter
	Releases      prometheus.Counter
	InuseBytes    prometheus.Gauge
	BackingBytes  prometheus.Gauge
	BackingBlocks *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		Ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stdalloc",
				Name:      "ops_total",
				Help:      "Total number of allocator calls by operation.",
			}, []string{"op"}),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stdalloc",
				Name:      "failures_total",
				Help:      "Total number of failed allocator calls by operation.",
			}, []string{"op"}),
		AllocBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stdalloc",
				Name:      "alloc_bytes_total",
				Help:      "Total bytes requested by successful allocations.",
			}),
		Grows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stdalloc",
				Name:      "grows_total",
				Help:      "Total number of backing blocks added after the first.",
			}),
		Releases: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stdalloc",
				Name:      "releases_total",
				Help:      "Total number of empty backing blocks returned to the OS.",
			}),
		InuseBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stdalloc",
				Name:      "inuse_bytes",
				Help:      "Bytes held by live allocations.",
			}),
		BackingBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stdalloc",
				Name:      "backing_bytes",
				Help:      "Bytes in backing blocks.",
			}),
		BackingBlocks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stdalloc",
				Name:      "backing_blocks",
				Help:      "Number of backing blocks by chain.",
			}, []string{"chain"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.Ops, m.Failures, m.AllocBytes, m.Grows, m.Releases,
			m.InuseBytes, m.BackingBytes, m.BackingBlocks,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) op(name string, ok bool) {
	if m == nil {
		return
	}
	m.Ops.WithLabelValues(name).Inc()
	if !ok {
		m.Failures.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) allocated(size int) {
	if m == nil {
		return
	}
	m.AllocBytes.Add(float64(size))
}

func (m *Metrics) grew() {
	if m == nil {
		return
	}
	m.Grows.Inc()
}

func (m *Metrics) released(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Releases.Add(float64(n))
}

func (m *Metrics) observe(inuse, backing, smallBlocks, generalBlocks int) {
	if m == nil {
		return
	}
	m.InuseBytes.Set(float64(inuse))
	m.BackingBytes.Set(float64(backing))
	m.BackingBlocks.WithLabelValues("small").Set(float64(smallBlocks))
	m.BackingBlocks.WithLabelValues("general").Set(float64(generalBlocks))
}
