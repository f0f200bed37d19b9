// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metercacher exports image cache events as Prometheus metrics.
package metercacher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/imagecache"
	"github.com/luxfi/metric"
)

var _ imagecache.Observer = (*Metrics)(nil)

var (
	hitLabels  = metric.Labels{"result": "hit"}
	missLabels = metric.Labels{"result": "miss"}

	okLabels     = metric.Labels{"result": "ok"}
	failedLabels = metric.Labels{"result": "failed"}
)

// Metrics implements imagecache.Observer on top of metric collectors.
type Metrics struct {
	loadCount   metric.CounterVec
	decodeCount metric.CounterVec
	decodeTime  metric.HistogramVec
	evictions   metric.Counter

	bytes         metric.Gauge
	maxBytes      metric.Gauge
	entries       metric.Gauge
	portionFilled metric.Gauge
}

// New creates the collectors under namespace and registers them.
func New(namespace string, registerer metric.Registerer) (*Metrics, error) {
	m := &Metrics{
		loadCount: metric.NewCounterVec(metric.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Number of image loads by cache result",
		}, []string{"result"}),
		decodeCount: metric.NewCounterVec(metric.CounterOpts{
			Namespace: namespace,
			Name:      "decodes_total",
			Help:      "Number of decoder invocations by outcome",
		}, []string{"result"}),
		decodeTime: metric.NewHistogramVec(metric.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Time spent in the decoder",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"result"}),
		evictions: metric.NewCounter(metric.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Number of entries relinquished by the LRU index",
		}),
		bytes: metric.NewGauge(metric.GaugeOpts{
			Namespace: namespace,
			Name:      "bytes",
			Help:      "Decoded bytes held by resident entries",
		}),
		maxBytes: metric.NewGauge(metric.GaugeOpts{
			Namespace: namespace,
			Name:      "max_bytes",
			Help:      "Configured byte budget",
		}),
		entries: metric.NewGauge(metric.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Number of resident entries",
		}),
		portionFilled: metric.NewGauge(metric.GaugeOpts{
			Namespace: namespace,
			Name:      "portion_filled",
			Help:      "Fraction of the byte budget in use",
		}),
	}

	for _, c := range []any{
		m.loadCount,
		m.decodeCount,
		m.decodeTime,
		m.evictions,
		m.bytes,
		m.maxBytes,
		m.entries,
		m.portionFilled,
	} {
		if err := registerer.Register(metric.AsCollector(c)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Hit() {
	m.loadCount.With(hitLabels).Inc()
}

func (m *Metrics) Miss() {
	m.loadCount.With(missLabels).Inc()
}

func (m *Metrics) Decoded(d time.Duration, ok bool) {
	labels := okLabels
	if !ok {
		labels = failedLabels
	}
	m.decodeCount.With(labels).Inc()
	m.decodeTime.With(labels).Observe(d.Seconds())
}

func (m *Metrics) Evicted() {
	m.evictions.Inc()
}

func (m *Metrics) Usage(bytes, maxBytes int64, entries int) {
	m.bytes.Set(float64(bytes))
	m.maxBytes.Set(float64(maxBytes))
	m.entries.Set(float64(entries))
	if maxBytes == 0 {
		m.portionFilled.Set(0)
		return
	}
	m.portionFilled.Set(float64(bytes) / float64(maxBytes))
}
