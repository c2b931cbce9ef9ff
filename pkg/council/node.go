package council

import "github.com/cuemby/council/pkg/types"

// NodeMetadata tracks, for a single attribute-value node within one
// change set's graph, who wants to be notified when it becomes
// available, who currently holds the processing claim on it (via its
// embedded ValueCreationQueue), and which other node ids it still
// depends on.
//
// Grounded on original_source/lib/council-server/src/server/graph.rs's
// NodeMetadata: wanted_by_reply_channels (a dedup-on-insert queue),
// processing_reply_channel (at most one claim at a time), and
// depends_on_node_ids (a set, not a count — duplicate dependency edges
// collapse).
type NodeMetadata struct {
	queue     ValueCreationQueue
	dependsOn map[types.Id]struct{}
}

func newNodeMetadata() *NodeMetadata {
	return &NodeMetadata{dependsOn: make(map[types.Id]struct{})}
}

// mergeMetadata records that replyChannel wants this node, and that it
// depends on the given node ids. Calling this more than once for the
// same reply channel does not duplicate its entry in the wait queue.
func (n *NodeMetadata) mergeMetadata(replyChannel types.ReplyChannel, dependencies []types.Id) {
	if !n.queue.contains(replyChannel) {
		n.queue.push(replyChannel)
	}
	for _, dep := range dependencies {
		n.dependsOn[dep] = struct{}{}
	}
}

// removeDependency drops nodeID from the set this node still depends on.
func (n *NodeMetadata) removeDependency(nodeID types.Id) {
	delete(n.dependsOn, nodeID)
}

// nextToProcess claims the node for the next waiting reply channel, if
// its dependencies are satisfied and nobody else already holds the
// claim.
func (n *NodeMetadata) nextToProcess() (types.ReplyChannel, bool) {
	if len(n.dependsOn) != 0 {
		return "", false
	}
	return n.queue.fetchNext()
}

// isEmpty reports whether nothing is waiting on, or processing, this node.
func (n *NodeMetadata) isEmpty() bool {
	return n.queue.isEmpty()
}

// removeChannel drops replyChannel from the waiters and clears the
// processing claim if it belonged to replyChannel (worker disconnect).
func (n *NodeMetadata) removeChannel(replyChannel types.ReplyChannel) {
	n.queue.remove(replyChannel)
}

// waiters returns every reply channel currently queued behind this
// node's processing claim (not including whoever holds the claim).
func (n *NodeMetadata) waiters() []types.ReplyChannel {
	return n.queue.queue
}

// isProcessingBy reports whether replyChannel holds this node's
// processing claim.
func (n *NodeMetadata) isProcessingBy(replyChannel types.ReplyChannel) bool {
	return n.queue.claimedBy(replyChannel)
}

// isProcessing reports whether anyone holds this node's processing claim.
func (n *NodeMetadata) isProcessing() bool {
	return n.queue.isBusy()
}

// processingChannel returns whoever holds this node's processing claim, if anyone.
func (n *NodeMetadata) processingChannel() (types.ReplyChannel, bool) {
	if n.queue.processing == nil {
		return "", false
	}
	return *n.queue.processing, true
}

// clearProcessing releases this node's processing claim unconditionally.
func (n *NodeMetadata) clearProcessing() {
	n.queue.clearClaim()
}
