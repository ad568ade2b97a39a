// Package metrics exposes pipeline counters in Prometheus form.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mentionfeed"

// Recorder owns a private registry so tests and the textfile writer see
// only pipeline metrics.
type Recorder struct {
	registry *prometheus.Registry

	fetched        *prometheus.CounterVec
	accepted       *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	runs           *prometheus.CounterVec

	feedSize    prometheus.Gauge
	seenSize    *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
	duration    prometheus.Histogram
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Items returned by each source.",
		}, []string{"source"}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_new_total",
			Help:      "Items accepted into the feed, by source.",
		}, []string{"source"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Fetches that ended in an error, by source.",
		}, []string{"source"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Notification deliveries that failed, by notifier.",
		}, []string{"notifier"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by outcome.",
		}, []string{"outcome"}),
		feedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_items",
			Help:      "Items in the committed feed.",
		}),
		seenSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seen_keys",
			Help:      "Keys held in the seen-set.",
		}, []string{"kind"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last committed run.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run from load to notify.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
	}

	r.registry.MustRegister(
		r.fetched, r.accepted, r.sourceFailures, r.notifyFailures, r.runs,
		r.feedSize, r.seenSize, r.lastSuccess, r.duration,
	)
	return r
}

// ObserveSource records one adapter outcome.
func (r *Recorder) ObserveSource(source string, fetched, accepted int, err error) {
	if err != nil {
		r.sourceFailures.WithLabelValues(source).Inc()
		return
	}
	r.fetched.WithLabelValues(source).Add(float64(fetched))
	r.accepted.WithLabelValues(source).Add(float64(accepted))
}

// ObserveCommit records the committed sizes after a successful run.
func (r *Recorder) ObserveCommit(at time.Time, feed, ids, conversations int) {
	r.feedSize.Set(float64(feed))
	r.seenSize.WithLabelValues("ids").Set(float64(ids))
	r.seenSize.WithLabelValues("conversations").Set(float64(conversations))
	r.lastSuccess.Set(float64(at.Unix()))
}

// ObserveRun records a finished run. ok is false when the commit failed.
func (r *Recorder) ObserveRun(d time.Duration, ok bool) {
	r.duration.Observe(d.Seconds())
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	r.runs.WithLabelValues(outcome).Inc()
}

func (r *Recorder) NotifyFailed(notifier string) {
	r.notifyFailures.WithLabelValues(notifier).Inc()
}

// Handler serves the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
