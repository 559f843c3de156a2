package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct {
	enqueueCounter prometheus.Counter
	attemptCounter *prometheus.CounterVec
	timeoutCounter prometheus.Counter
	drainDuration  prometheus.Histogram
	queueDepth     prometheus.Gauge
}

var (
	enqueueCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirsal_enqueue_total",
		Help: "Total number of requests captured into the offline queue",
	})
	attemptCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirsal_attempt_total",
		Help: "Replay attempts by outcome",
	}, []string{"outcome"})
	timeoutCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirsal_timeout_total",
		Help: "Replay attempts that exceeded their execution budget",
	})
	drainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mirsal_drain_duration_seconds",
		Help:    "Duration of full-queue drains",
		Buckets: prometheus.DefBuckets,
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mirsal_queue_depth",
		Help: "Pending plus processing requests in the durable queue",
	})
)

func NewPrometheusObserver() QueueObserver {
	return &prometheusObserver{
		enqueueCounter: enqueueCounter,
		attemptCounter: attemptCounter,
		timeoutCounter: timeoutCounter,
		drainDuration:  drainDuration,
		queueDepth:     queueDepth,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) RecordEnqueue() {
	p.enqueueCounter.Inc()
}

func (p *prometheusObserver) RecordAttempt(outcome string) {
	p.attemptCounter.WithLabelValues(outcome).Inc()
}

func (p *prometheusObserver) RecordTimeout() {
	p.timeoutCounter.Inc()
}

func (p *prometheusObserver) ObserveDrainDuration(seconds float64) {
	p.drainDuration.Observe(seconds)
}

func (p *prometheusObserver) SetQueueDepth(depth float64) {
	p.queueDepth.Set(depth)
}
