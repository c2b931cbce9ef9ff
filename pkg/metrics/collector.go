package metrics

import "time"

// ChangeSetStats is a point-in-time snapshot of one change set's graph,
// enough to drive the coordinator-state gauges without the metrics
// package needing to import pkg/council (which already imports metrics
// for its own counters).
type ChangeSetStats struct {
	ID           string
	NodesByState map[string]int
	QueueDepth   int
}

// CoordinatorStats is a full snapshot across every change set the
// coordinator currently holds.
type CoordinatorStats struct {
	ChangeSets []ChangeSetStats
}

// StatsSource is implemented by pkg/council.Coordinator. It must be
// safe to call from any goroutine; the coordinator satisfies this by
// answering the snapshot request from inside its own event loop.
type StatsSource interface {
	Snapshot() CoordinatorStats
}

// Collector periodically polls a StatsSource and updates the
// coordinator-state gauges.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.source.Snapshot()

	ChangeSetsActive.Set(float64(len(snap.ChangeSets)))

	for _, cs := range snap.ChangeSets {
		for state, count := range cs.NodesByState {
			NodesTotal.WithLabelValues(cs.ID, state).Set(float64(count))
		}
		QueueDepth.WithLabelValues(cs.ID).Set(float64(cs.QueueDepth))
	}
}
