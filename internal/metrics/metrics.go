// Package metrics exposes generation queue and notification activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "opsassist"

// Recorder implements service.QueueObserver on its own registry.
type Recorder struct {
	registry     *prometheus.Registry
	queueDepth   prometheus.Gauge
	enqueued     prometheus.Counter
	deduplicated prometheus.Counter
	jobs         *prometheus.CounterVec
	jobDuration  prometheus.Histogram
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Keys waiting in the generation queue",
		}),
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Keys accepted by the generation queue",
		}),
		deduplicated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_deduplicated_total",
			Help:      "Enqueue calls ignored because the key was already pending",
		}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_jobs_total",
			Help:      "Generation jobs by outcome",
		}, []string{"outcome"}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_job_duration_seconds",
			Help:      "Wall time of generation jobs, retrieval included",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
}

func (r *Recorder) Depth(n int)   { r.queueDepth.Set(float64(n)) }
func (r *Recorder) Enqueued()     { r.enqueued.Inc() }
func (r *Recorder) Deduplicated() { r.deduplicated.Inc() }

func (r *Recorder) JobDone(outcome string, elapsed time.Duration) {
	r.jobs.WithLabelValues(outcome).Inc()
	r.jobDuration.Observe(elapsed.Seconds())
}

// EventSource is the notification hub as seen by the exporter.
type EventSource interface {
	Sent() uint64
	Dropped() uint64
	Subscribers() int
}

// WatchNotifier exports the hub's delivery counters.
func (r *Recorder) WatchNotifier(src EventSource) {
	factory := promauto.With(r.registry)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_sent_total",
		Help:      "Events delivered to dashboard subscribers",
	}, func() float64 { return float64(src.Sent()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because a subscriber's buffer was full",
	}, func() float64 { return float64(src.Dropped()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_subscribers",
		Help:      "Connected dashboard subscribers",
	}, func() float64 { return float64(src.Subscribers()) })
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
