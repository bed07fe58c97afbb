package monitoring

import (
	"net/http"
	"sync"
	"time"

	"chainq/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type queuePromMetrics struct {
	queueSize         prometheus.Gauge
	enqueuedTotal     prometheus.Counter
	dequeuedTotal     prometheus.Counter
	duplicatesSkipped prometheus.Counter
	commitDuration    prometheus.Histogram
	panicCount        prometheus.Counter
}

func newQueuePromMetrics() *queuePromMetrics {
	return &queuePromMetrics{
		queueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainq_queue_size",
				Help: "Number of blocks currently pending in the queue",
			},
		),
		enqueuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chainq_blocks_enqueued_total",
				Help: "The total number of blocks accepted by the queue",
			},
		),
		dequeuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chainq_blocks_dequeued_total",
				Help: "The total number of blocks handed to consumers",
			},
		),
		duplicatesSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chainq_duplicates_skipped_total",
				Help: "The total number of inserts skipped because the ordinal was already queued",
			},
		),
		commitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chainq_commit_duration_seconds",
				Help:    "Latency of durable commits issued by queue mutations",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chainq_panic_count",
				Help: "The total number of recovered panics in background goroutines",
			},
		),
	}
}

var (
	queueMetrics *queuePromMetrics
	initOnce     sync.Once
)

// InitMetrics initializes metrics but does not expose them to an endpoint
// yet. Safe to call more than once, the collectors register a single time.
func InitMetrics() {
	initOnce.Do(func() {
		queueMetrics = newQueuePromMetrics()
	})
}

// RegisterMetrics mounts the prometheus handler on the given mux.
func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

// RunMonitoring serves the metrics endpoint on addr. It does not block.
func RunMonitoring(addr string) {
	mux := http.NewServeMux()
	RegisterMetrics(mux)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logx.Error("MONITORING", "Metrics server stopped: ", err)
		}
	}()
}

func SetQueueSize(size int) {
	if queueMetrics == nil {
		return
	}
	queueMetrics.queueSize.Set(float64(size))
}

func IncreaseEnqueuedCount(n int) {
	if queueMetrics == nil {
		return
	}
	queueMetrics.enqueuedTotal.Add(float64(n))
}

func IncreaseDequeuedCount() {
	if queueMetrics == nil {
		return
	}
	queueMetrics.dequeuedTotal.Inc()
}

func IncreaseDuplicateCount(n int) {
	if queueMetrics == nil {
		return
	}
	queueMetrics.duplicatesSkipped.Add(float64(n))
}

func RecordCommitDuration(duration time.Duration) {
	if queueMetrics == nil {
		return
	}
	queueMetrics.commitDuration.Observe(duration.Seconds())
}

func IncreasePanicCount() {
	if queueMetrics == nil {
		return
	}
	queueMetrics.panicCount.Inc()
}
