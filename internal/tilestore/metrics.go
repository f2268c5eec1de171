package tilestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("tilestore")

var (
	appendedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tessera_tilestore_appended_events_total",
		Help: "Total number of events accepted into tile buffers",
	})

	rejectedAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tessera_tilestore_rejected_appends_total",
		Help: "Total number of append calls rejected by validation",
	})

	bufferedBytesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tessera_tilestore_buffered_bytes",
		Help: "Canonical bytes currently buffered across all tiles",
	})

	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_tilestore_flushes_total",
		Help: "Flush attempts by trigger and result",
	}, []string{"trigger", "result"})

	segmentBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tessera_tilestore_segment_bytes",
		Help:    "Size of flushed segments",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	})

	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_tilestore_snapshots_total",
		Help: "Snapshot attempts by result",
	}, []string{"result"})

	flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tessera_tilestore_flush_duration_seconds",
		Help:    "Duration of segment flushes including snapshots",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})
)
