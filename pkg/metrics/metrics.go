package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordinator state metrics
	ChangeSetsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "council_change_sets_active",
			Help: "Number of change sets the coordinator currently holds a graph for",
		},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "council_nodes_total",
			Help: "Total number of attribute-value nodes tracked, by change set and state",
		},
		[]string{"change_set_id", "state"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "council_value_creation_queue_depth",
			Help: "Number of nodes currently enqueued for value creation, by change set",
		},
		[]string{"change_set_id"},
	)

	// Request handling metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_requests_total",
			Help: "Total number of requests handled by the coordinator loop, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "council_request_duration_seconds",
			Help:    "Time taken to handle a single coordinator request, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Notification/fan-out metrics
	NotificationsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_notifications_published_total",
			Help: "Total number of notifications published to reply channels, by kind",
		},
		[]string{"kind"},
	)

	// Bus metrics
	BusPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_bus_publish_errors_total",
			Help: "Total number of failed publishes to the message bus, by subject kind",
		},
		[]string{"subject_kind"},
	)

	BusMalformedFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "council_bus_malformed_frames_total",
			Help: "Total number of frames dropped because they failed to decode",
		},
	)

	// Reaper metrics
	ReaperSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "council_reaper_sweep_duration_seconds",
			Help:    "Time taken for one stale-interest reaper sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReaperSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "council_reaper_sweeps_total",
			Help: "Total number of stale-interest reaper sweeps completed",
		},
	)

	ReapedChannelsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "council_reaped_channels_total",
			Help: "Total number of reply channels reaped as stale, generating a synthetic cancel",
		},
	)

	// Graph merge metrics
	GraphMergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "council_graph_merge_duration_seconds",
			Help:    "Time taken to merge a submitted dependency graph into a change set",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ChangeSetsActive)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(NotificationsPublishedTotal)
	prometheus.MustRegister(BusPublishErrorsTotal)
	prometheus.MustRegister(BusMalformedFramesTotal)
	prometheus.MustRegister(ReaperSweepDuration)
	prometheus.MustRegister(ReaperSweepsTotal)
	prometheus.MustRegister(ReapedChannelsTotal)
	prometheus.MustRegister(GraphMergeDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
