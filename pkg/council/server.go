package council

import (
	"sync"

	"github.com/cuemby/council/pkg/log"
	"github.com/cuemby/council/pkg/metrics"
	"github.com/cuemby/council/pkg/types"
	"github.com/rs/zerolog"
)

// RequestKind identifies what a Request asks the coordinator to do.
// The set mirrors the worker->coordinator messages in
// pkg/council/protocol, plus the synthetic cancel the transport
// adapter and the reaper raise on disconnect.
type RequestKind string

const (
	RequestRegister              RequestKind = "register"
	RequestGraphSubmit           RequestKind = "graph_submit"
	RequestValueProcessed        RequestKind = "value_processed"
	RequestValueProcessingFailed RequestKind = "value_processing_failed"
	RequestCancel                RequestKind = "cancel"
)

// Request is one unit of work handed to the coordinator's event loop.
// Only the fields relevant to Kind are populated.
type Request struct {
	Kind         RequestKind
	ReplyChannel types.ReplyChannel
	ChangeSetID  types.Id
	NodeID       types.Id
	Graph        types.Graph
	FailureError string
}

// Notifier is how the coordinator talks back to workers. Transport
// implements it on top of pkg/bus.MessageBus; tests can supply a fake.
type Notifier interface {
	NotifyContinue(replyChannel types.ReplyChannel, changeSetID types.Id)
	NotifyProcessValue(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id)
	NotifyValueAvailable(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id)
	NotifyValueProcessingFailed(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id, reason string)
}

const requestBuffer = 256

// Coordinator is the single-owner event loop that holds every change
// set's dependency graph and processes worker requests against it. No
// mutex guards the graph: it is only ever touched from inside run.
// Grounded on the teacher's pkg/scheduler.Scheduler / pkg/reconciler.Reconciler
// Start/Stop/run shape, with the ticker replaced by an inbound request
// channel, and on original_source/lib/council-server/src/server/graph.rs
// for the request-handling semantics themselves.
type Coordinator struct {
	graph    *ChangeSetGraph
	notifier Notifier
	logger   zerolog.Logger

	// mutationQueues holds one ValueCreationQueue per change set,
	// serializing Register/GraphSubmit pairs (C3): at most one reply
	// channel may hold a change set's graph-mutation slot at a time.
	// Distinct from the per-node claim queues embedded in NodeMetadata.
	mutationQueues map[types.Id]*ValueCreationQueue

	requests         chan Request
	statsCh          chan chan metrics.CoordinatorStats
	activeChannelsCh chan chan []types.ReplyChannel

	mu      sync.RWMutex
	stopCh  chan struct{}
	started bool
}

// NewCoordinator creates a coordinator that publishes notifications
// through notifier.
func NewCoordinator(notifier Notifier) *Coordinator {
	return &Coordinator{
		graph:            NewChangeSetGraph(),
		notifier:         notifier,
		logger:           log.WithComponent("coordinator"),
		mutationQueues:   make(map[types.Id]*ValueCreationQueue),
		requests:         make(chan Request, requestBuffer),
		statsCh:          make(chan chan metrics.CoordinatorStats),
		activeChannelsCh: make(chan chan []types.ReplyChannel),
	}
}

// SetNotifier replaces the coordinator's notifier. Transport and
// Coordinator hold pointers to each other, so callers construct the
// coordinator first with a nil notifier, build the transport against
// it, then call SetNotifier before Start. Not safe to call once the
// event loop is running.
func (c *Coordinator) SetNotifier(notifier Notifier) {
	c.notifier = notifier
}

// Start begins the coordinator's event loop.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.stopCh = make(chan struct{})
	c.started = true
	go c.run()
}

// Stop signals the event loop to exit. A request the loop is already
// handling finishes; requests still waiting in the buffer are not
// processed.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	close(c.stopCh)
	c.started = false
}

// Submit enqueues a request for the coordinator loop to process. It
// blocks if the request buffer is full, applying backpressure to the
// transport adapter rather than dropping work.
func (c *Coordinator) Submit(req Request) {
	c.requests <- req
}

// Snapshot answers a point-in-time stats query from inside the event
// loop, so the metrics.Collector never races the graph. Safe to call
// concurrently; blocks until the loop processes the query.
func (c *Coordinator) Snapshot() metrics.CoordinatorStats {
	c.mu.RLock()
	stopCh := c.stopCh
	c.mu.RUnlock()
	if stopCh == nil {
		return metrics.CoordinatorStats{}
	}

	reply := make(chan metrics.CoordinatorStats, 1)
	select {
	case c.statsCh <- reply:
		return <-reply
	case <-stopCh:
		return metrics.CoordinatorStats{}
	}
}

// ActiveReplyChannels lists every reply channel the coordinator
// currently tracks interest for, so the reaper can cross-check it
// against the transport's live subscriptions. Blocks until the event
// loop processes the query.
func (c *Coordinator) ActiveReplyChannels() []types.ReplyChannel {
	c.mu.RLock()
	stopCh := c.stopCh
	c.mu.RUnlock()
	if stopCh == nil {
		return nil
	}

	reply := make(chan []types.ReplyChannel, 1)
	select {
	case c.activeChannelsCh <- reply:
		return <-reply
	case <-stopCh:
		return nil
	}
}

func (c *Coordinator) run() {
	c.logger.Info().Msg("coordinator started")

	for {
		select {
		case req := <-c.requests:
			c.handle(req)
		case reply := <-c.statsCh:
			reply <- c.snapshotLocked()
		case reply := <-c.activeChannelsCh:
			reply <- c.activeReplyChannels()
		case <-c.stopCh:
			c.logger.Info().Msg("coordinator stopped")
			return
		}
	}
}

func (c *Coordinator) handle(req Request) {
	timer := metrics.NewTimer()
	outcome := "ok"
	defer func() {
		timer.ObserveDurationVec(metrics.RequestDuration, string(req.Kind))
		metrics.RequestsTotal.WithLabelValues(string(req.Kind), outcome).Inc()
	}()

	logger := c.logger.With().
		Str("kind", string(req.Kind)).
		Str("change_set_id", req.ChangeSetID.String()).
		Str("reply_channel", string(req.ReplyChannel)).
		Logger()
	logger.Debug().Msg("handling request")

	var err error
	switch req.Kind {
	case RequestRegister:
		// Enqueue ch on the change set's value-creation queue; if the
		// queue was idle, this promotes it immediately and it is the
		// one that gets Continue. Otherwise it waits behind whoever
		// already holds the slot.
		queue := c.mutationQueue(req.ChangeSetID)
		queue.push(req.ReplyChannel)
		if head, ok := queue.fetchNext(); ok {
			c.notifier.NotifyContinue(head, req.ChangeSetID)
		}

	case RequestGraphSubmit:
		queue := c.mutationQueue(req.ChangeSetID)
		if !queue.claimedBy(req.ReplyChannel) {
			err = ErrUnexpectedJobID
			break
		}
		err = c.graph.MergeDependencyGraph(req.ReplyChannel, req.Graph, req.ChangeSetID)
		if err == nil {
			_ = queue.finishedProcessing(req.ReplyChannel)
			if next, ok := queue.fetchNext(); ok {
				c.notifier.NotifyContinue(next, req.ChangeSetID)
			}
			c.forgetMutationQueueIfEmpty(req.ChangeSetID, queue)
			c.dispatchAvailable()
		}

	case RequestValueProcessed:
		var waiters []types.ReplyChannel
		waiters, err = c.graph.MarkNodeAsProcessed(req.ReplyChannel, req.ChangeSetID, req.NodeID)
		if err == nil {
			for _, waiter := range waiters {
				c.notifier.NotifyValueAvailable(waiter, req.ChangeSetID, req.NodeID)
				metrics.NotificationsPublishedTotal.WithLabelValues("value_available").Inc()
			}
			c.dispatchAvailable()
		}

	case RequestValueProcessingFailed:
		var waiters []types.ReplyChannel
		waiters, err = c.graph.MarkNodeAsFailed(req.ReplyChannel, req.ChangeSetID, req.NodeID)
		if err == nil {
			c.notifier.NotifyValueProcessingFailed(req.ReplyChannel, req.ChangeSetID, req.NodeID, req.FailureError)
			metrics.NotificationsPublishedTotal.WithLabelValues("value_processing_failed").Inc()
			for _, waiter := range waiters {
				c.notifier.NotifyValueProcessingFailed(waiter, req.ChangeSetID, req.NodeID, req.FailureError)
				metrics.NotificationsPublishedTotal.WithLabelValues("value_processing_failed").Inc()
			}
			c.dispatchAvailable()
		}

	case RequestCancel:
		if req.ChangeSetID.IsZero() {
			c.graph.RemoveChannelEverywhere(req.ReplyChannel)
			for changeSetID := range c.mutationQueues {
				c.cancelMutationQueueSlot(changeSetID, req.ReplyChannel)
			}
		} else {
			c.graph.RemoveChannel(req.ChangeSetID, req.ReplyChannel)
			c.cancelMutationQueueSlot(req.ChangeSetID, req.ReplyChannel)
		}
		c.dispatchAvailable()

	default:
		logger.Warn().Msg("unknown request kind")
		outcome = "unknown_kind"
		return
	}

	if err != nil {
		outcome = "error"
		logger.Error().Err(err).Msg("request failed")
	}
}

// activeReplyChannels reports every reply channel the coordinator has
// live interest in: waiting on or claiming a node (C4), or holding or
// waiting on a change set's graph-mutation slot (C3). Used by the
// stale-interest reaper.
func (c *Coordinator) activeReplyChannels() []types.ReplyChannel {
	seen := make(map[types.ReplyChannel]struct{})
	for _, rc := range c.graph.ActiveReplyChannels() {
		seen[rc] = struct{}{}
	}
	for _, queue := range c.mutationQueues {
		if queue.processing != nil {
			seen[*queue.processing] = struct{}{}
		}
		for _, rc := range queue.queue {
			seen[rc] = struct{}{}
		}
	}

	out := make([]types.ReplyChannel, 0, len(seen))
	for rc := range seen {
		out = append(out, rc)
	}
	return out
}

// mutationQueue returns changeSetID's value-creation queue, creating it
// on first mention.
func (c *Coordinator) mutationQueue(changeSetID types.Id) *ValueCreationQueue {
	queue, ok := c.mutationQueues[changeSetID]
	if !ok {
		queue = &ValueCreationQueue{}
		c.mutationQueues[changeSetID] = queue
	}
	return queue
}

// forgetMutationQueueIfEmpty drops changeSetID's queue once nothing is
// queued or processing on it, so mutationQueues doesn't grow unbounded
// across change sets that have finished registering.
func (c *Coordinator) forgetMutationQueueIfEmpty(changeSetID types.Id, queue *ValueCreationQueue) {
	if queue.isEmpty() {
		delete(c.mutationQueues, changeSetID)
	}
}

// cancelMutationQueueSlot drops replyChannel from changeSetID's
// value-creation queue, promoting the next head if replyChannel held
// the slot.
func (c *Coordinator) cancelMutationQueueSlot(changeSetID types.Id, replyChannel types.ReplyChannel) {
	queue, ok := c.mutationQueues[changeSetID]
	if !ok {
		return
	}
	queue.remove(replyChannel)
	if next, ok := queue.fetchNext(); ok {
		c.notifier.NotifyContinue(next, changeSetID)
	}
	c.forgetMutationQueueIfEmpty(changeSetID, queue)
}

// dispatchAvailable claims every node whose dependencies are now
// satisfied and tells the claiming reply channel to process it.
func (c *Coordinator) dispatchAvailable() {
	for _, available := range c.graph.FetchAllAvailable() {
		c.notifier.NotifyProcessValue(available.ReplyChannel, available.ChangeSetID, available.NodeID)
		metrics.NotificationsPublishedTotal.WithLabelValues("process_value").Inc()
	}
}

func (c *Coordinator) snapshotLocked() metrics.CoordinatorStats {
	raw := c.graph.Stats()
	out := metrics.CoordinatorStats{ChangeSets: make([]metrics.ChangeSetStats, 0, len(raw))}
	for changeSetID, counts := range raw {
		out.ChangeSets = append(out.ChangeSets, metrics.ChangeSetStats{
			ID: changeSetID.String(),
			NodesByState: map[string]int{
				"pending":    counts.Pending,
				"processing": counts.Processing,
			},
			QueueDepth: counts.Pending,
		})
	}
	return out
}
