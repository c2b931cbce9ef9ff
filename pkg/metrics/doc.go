/*
Package metrics provides Prometheus metrics collection and exposition for Council.

The metrics package defines and registers Council's metrics using the Prometheus
client library: coordinator state (active change sets, node counts by state,
queue depth), request handling (count and latency by kind), notification
fan-out, bus errors, and reaper sweeps. Metrics are exposed via an HTTP
endpoint for scraping by Prometheus servers.

# Metrics Catalog

Coordinator state:

	council_change_sets_active              gauge
	council_nodes_total{change_set_id,state} gauge
	council_value_creation_queue_depth{change_set_id} gauge

Request handling:

	council_requests_total{kind,outcome}     counter
	council_request_duration_seconds{kind}   histogram

Fan-out and bus:

	council_notifications_published_total{kind} counter
	council_bus_publish_errors_total{subject_kind} counter
	council_bus_malformed_frames_total       counter

Reaper:

	council_reaper_sweep_duration_seconds    histogram
	council_reaper_sweeps_total              counter
	council_reaped_channels_total            counter

Graph merge:

	council_graph_merge_duration_seconds     histogram

# Usage

	import "github.com/cuemby/council/pkg/metrics"

	metrics.RequestsTotal.WithLabelValues("graph_submit", "ok").Inc()

	timer := metrics.NewTimer()
	// ... handle request ...
	timer.ObserveDurationVec(metrics.RequestDuration, "graph_submit")

	http.Handle("/metrics", metrics.Handler())

The Collector type polls a StatsSource (implemented by
pkg/council.Coordinator) on a ticker and updates the coordinator-state
gauges without requiring the coordinator loop itself to touch Prometheus
on every request.

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so metrics are available before main() runs.

Label Discipline:
  - change_set_id label values are set for every change set in a
    snapshot. Nothing deletes the series of a change set that has since
    gone; they keep their last value for the life of the process.

Timer Pattern:
  - NewTimer() at the start of request handling, ObserveDuration/
    ObserveDurationVec at the end, mirroring how the teacher's reconciler
    and scheduler time their own cycles.

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
