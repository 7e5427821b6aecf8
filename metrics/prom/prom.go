// Package prom exports cache metrics through prometheus/client_golang.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache/metrics"
)

// Sink implements metrics.Sink on a prometheus registry.
type Sink struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var _ metrics.Sink = (*Sink)(nil)

type Config struct {
	// Registerer to attach the collectors to. nil => prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Namespace is the prometheus metric namespace. "" => "tiercache".
	Namespace string

	// Buckets for the latency histogram. nil => prometheus.DefBuckets.
	Buckets []float64
}

func New(cfg Config) (*Sink, error) {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "tiercache"
	}
	buckets := cfg.Buckets
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}

	s := &Sink{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Cache operations by namespace, operation and outcome.",
		}, []string{"namespace", "operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Cache operation latency by namespace and operation.",
			Buckets:   buckets,
		}, []string{"namespace", "operation"}),
	}

	for _, c := range []prometheus.Collector{s.ops, s.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sink) RecordOp(namespace, op, outcome string, elapsed time.Duration) {
	s.ops.WithLabelValues(namespace, op, outcome).Inc()
	s.latency.WithLabelValues(namespace, op).Observe(elapsed.Seconds())
}
