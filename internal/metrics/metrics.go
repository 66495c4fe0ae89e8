// Package metrics exposes Prometheus instrumentation for the sync engine.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threadline"

// Recorder holds the engine's collectors.
type Recorder struct {
	reconciles      *prometheus.CounterVec
	aggregation     *prometheus.HistogramVec
	staleResponses  prometheus.Counter
	bulkActions     *prometheus.CounterVec
	feedEvents      *prometheus.CounterVec
	feedErrors      prometheus.Counter
	detailAppends   prometheus.Counter
	listSize        prometheus.Gauge
	fallbackRunning prometheus.Gauge
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "List reconciliations by result.",
		}, []string{"result"}),
		aggregation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_seconds",
			Help:      "Page aggregation latency by result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Fetch responses discarded because a newer request was issued.",
		}),
		bulkActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_actions_total",
			Help:      "Bulk actions by action and result.",
		}, []string{"action", "result"}),
		feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Change-feed events delivered by table.",
		}, []string{"table"}),
		feedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_errors_total",
			Help:      "Change-feed subscription errors.",
		}),
		detailAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detail_appended_messages_total",
			Help:      "Messages appended to open detail streams.",
		}),
		listSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "list_conversations",
			Help:      "Conversations currently loaded in the list.",
		}),
		fallbackRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fallback_reconcile_active",
			Help:      "1 while periodic fallback reconciliation is running.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			r.reconciles,
			r.aggregation,
			r.staleResponses,
			r.bulkActions,
			r.feedEvents,
			r.feedErrors,
			r.detailAppends,
			r.listSize,
			r.fallbackRunning,
		)
	}
	return r
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveReconcile counts one reconciliation.
func (r *Recorder) ObserveReconcile(err error) {
	if r == nil {
		return
	}
	r.reconciles.WithLabelValues(result(err)).Inc()
}

// ObserveAggregation records how long a page aggregation took.
func (r *Recorder) ObserveAggregation(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.aggregation.WithLabelValues(result(err)).Observe(d.Seconds())
}

// StaleResponse counts a discarded out-of-order response.
func (r *Recorder) StaleResponse() {
	if r == nil {
		return
	}
	r.staleResponses.Inc()
}

// ObserveBulk counts one bulk action.
func (r *Recorder) ObserveBulk(action string, err error) {
	if r == nil {
		return
	}
	r.bulkActions.WithLabelValues(action, result(err)).Inc()
}

// FeedEvent counts one delivered change event.
func (r *Recorder) FeedEvent(table string) {
	if r == nil {
		return
	}
	r.feedEvents.WithLabelValues(table).Inc()
}

// FeedError counts one subscription error.
func (r *Recorder) FeedError() {
	if r == nil {
		return
	}
	r.feedErrors.Inc()
}

// DetailAppended counts messages appended to a detail stream.
func (r *Recorder) DetailAppended(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.detailAppends.Add(float64(n))
}

// SetListSize records the loaded list length.
func (r *Recorder) SetListSize(n int) {
	if r == nil {
		return
	}
	r.listSize.Set(float64(n))
}

// SetFallbackActive records whether fallback reconciliation is running.
func (r *Recorder) SetFallbackActive(active bool) {
	if r == nil {
		return
	}
	if active {
		r.fallbackRunning.Set(1)
	} else {
		r.fallbackRunning.Set(0)
	}
}
