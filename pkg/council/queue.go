package council

import "github.com/cuemby/council/pkg/types"

// ValueCreationQueue serializes access to one processing slot: only one
// reply channel may hold the claim at a time, and others queue up in
// arrival order. NodeMetadata embeds one per attribute value (who
// computes it); Coordinator keeps one per change set (who holds the
// graph-mutation slot).
//
// Grounded on original_source/lib/council-server/src/server/graph.rs's
// ValueCreationQueue (processing Option<String>, queue VecDeque<String>).
type ValueCreationQueue struct {
	processing *types.ReplyChannel
	queue      []types.ReplyChannel
}

// push enqueues a reply channel's request for this value.
func (q *ValueCreationQueue) push(replyChannel types.ReplyChannel) {
	q.queue = append(q.queue, replyChannel)
}

// isBusy reports whether some reply channel already holds the claim.
func (q *ValueCreationQueue) isBusy() bool {
	return q.processing != nil
}

// fetchNext claims the next queued reply channel, if the queue isn't
// already busy. Returns false if busy or empty.
func (q *ValueCreationQueue) fetchNext() (types.ReplyChannel, bool) {
	if q.isBusy() {
		return "", false
	}
	if len(q.queue) == 0 {
		return "", false
	}
	next := q.queue[0]
	q.queue = q.queue[1:]
	q.processing = &next
	return next, true
}

// finishedProcessing releases the claim held by replyChannel.
// ErrUnexpectedJobID if replyChannel does not hold the current claim.
func (q *ValueCreationQueue) finishedProcessing(replyChannel types.ReplyChannel) error {
	if q.processing == nil || *q.processing != replyChannel {
		return ErrUnexpectedJobID
	}
	q.processing = nil
	return nil
}

// remove drops replyChannel from the queue and clears its claim if held
// (used when a worker disconnects mid-processing).
func (q *ValueCreationQueue) remove(replyChannel types.ReplyChannel) {
	if q.processing != nil && *q.processing == replyChannel {
		q.processing = nil
	}
	filtered := q.queue[:0]
	for _, rc := range q.queue {
		if rc != replyChannel {
			filtered = append(filtered, rc)
		}
	}
	q.queue = filtered
}

// isEmpty reports whether nothing is queued or being processed.
func (q *ValueCreationQueue) isEmpty() bool {
	return len(q.queue) == 0 && q.processing == nil
}

// contains reports whether replyChannel is already queued (not counting
// whoever currently holds the processing claim).
func (q *ValueCreationQueue) contains(replyChannel types.ReplyChannel) bool {
	for _, rc := range q.queue {
		if rc == replyChannel {
			return true
		}
	}
	return false
}

// claimedBy reports whether replyChannel currently holds the processing claim.
func (q *ValueCreationQueue) claimedBy(replyChannel types.ReplyChannel) bool {
	return q.processing != nil && *q.processing == replyChannel
}

// clearClaim releases whatever processing claim is held, unconditionally.
func (q *ValueCreationQueue) clearClaim() {
	q.processing = nil
}
