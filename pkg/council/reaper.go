package council

import (
	"time"

	"github.com/cuemby/council/pkg/log"
	"github.com/cuemby/council/pkg/metrics"
	"github.com/rs/zerolog"
)

const reaperInterval = 10 * time.Second

// Reaper periodically cross-checks the coordinator's tracked graph
// interest against the transport's live subscriptions, synthesizing a
// Cancel for any reply channel the graph still references but the
// transport holds no subscription for (for example one whose reply
// subject subscribe failed). A reply channel whose subscription is
// still open is never reaped. Grounded on the teacher's
// pkg/reconciler.Reconciler run loop: a ticker-driven sweep with the
// same Start/Stop/run shape, timed with the same metrics.Timer idiom.
type Reaper struct {
	coordinator *Coordinator
	transport   *Transport
	logger      zerolog.Logger
	stopCh      chan struct{}
}

// NewReaper creates a reaper sweeping coordinator against transport.
func NewReaper(coordinator *Coordinator, transport *Transport) *Reaper {
	return &Reaper{
		coordinator: coordinator,
		transport:   transport,
		logger:      log.WithComponent("reaper"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (r *Reaper) Start() {
	go r.run()
}

// Stop stops the sweep loop.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) run() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	r.logger.Info().Msg("reaper started")

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			r.logger.Info().Msg("reaper stopped")
			return
		}
	}
}

func (r *Reaper) sweep() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReaperSweepDuration)
		metrics.ReaperSweepsTotal.Inc()
	}()

	active := r.coordinator.ActiveReplyChannels()
	known := r.transport.KnownReplyChannels()

	for _, rc := range active {
		if _, ok := known[rc]; ok {
			continue
		}

		r.logger.Warn().Str("reply_channel", string(rc)).Msg("reaping stale reply channel interest")
		metrics.ReapedChannelsTotal.Inc()
		r.coordinator.Submit(Request{Kind: RequestCancel, ReplyChannel: rc})
	}
}
