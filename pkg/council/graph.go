package council

import "github.com/cuemby/council/pkg/types"

// AvailableNode is one (reply channel, node id) pair returned by
// ChangeSetGraph.FetchAllAvailable: replyChannel's dependencies on
// nodeID are all satisfied and nobody else holds its processing claim.
type AvailableNode struct {
	ReplyChannel types.ReplyChannel
	ChangeSetID  types.Id
	NodeID       types.Id
}

// ChangeSetGraph holds the merged dependency graphs for every change
// set the coordinator currently knows about, each as a map from node id
// to that node's NodeMetadata.
//
// Grounded on original_source/lib/council-server/src/server/graph.rs's
// ChangeSetGraph (HashMap<Id, HashMap<Id, NodeMetadata>>).
type ChangeSetGraph struct {
	data map[types.Id]map[types.Id]*NodeMetadata
}

// NewChangeSetGraph returns an empty graph.
func NewChangeSetGraph() *ChangeSetGraph {
	return &ChangeSetGraph{data: make(map[types.Id]map[types.Id]*NodeMetadata)}
}

// IsEmpty reports whether the coordinator is tracking any change set.
func (g *ChangeSetGraph) IsEmpty() bool {
	return len(g.data) == 0
}

// FetchAllAvailable scans every change set's graph for nodes whose
// dependencies are satisfied and claims them for their next waiting
// reply channel. Mirrors the original's cross-change-set scan; each
// result carries the id of the change set its node belongs to.
func (g *ChangeSetGraph) FetchAllAvailable() []AvailableNode {
	var result []AvailableNode
	for changeSetID, graph := range g.data {
		for nodeID, metadata := range graph {
			if rc, ok := metadata.nextToProcess(); ok {
				result = append(result, AvailableNode{ReplyChannel: rc, ChangeSetID: changeSetID, NodeID: nodeID})
			}
		}
	}
	return result
}

// MergeDependencyGraph merges a worker-submitted graph into the change
// set's tracked graph. Every attribute value id in newDependencyData
// gets (or updates) a NodeMetadata entry recording replyChannel as a
// waiter and its dependencies; every dependency id also gets an entry
// (with no dependencies of its own added here) so it can itself be
// scheduled once nothing blocks it.
func (g *ChangeSetGraph) MergeDependencyGraph(replyChannel types.ReplyChannel, newDependencyData types.Graph, changeSetID types.Id) error {
	changeSetData, ok := g.data[changeSetID]
	if !ok {
		changeSetData = make(map[types.Id]*NodeMetadata)
		g.data[changeSetID] = changeSetData
	}

	for attributeValueID, dependencies := range newDependencyData {
		node, ok := changeSetData[attributeValueID]
		if !ok {
			node = newNodeMetadata()
			changeSetData[attributeValueID] = node
		}
		node.mergeMetadata(replyChannel, dependencies)

		for _, dependency := range dependencies {
			depNode, ok := changeSetData[dependency]
			if !ok {
				depNode = newNodeMetadata()
				changeSetData[dependency] = depNode
			}
			depNode.mergeMetadata(replyChannel, nil)
		}
	}

	return nil
}

// MarkNodeAsProcessed records that replyChannel finished processing
// nodeID. If nodeID has no unresolved dependencies of its own, it is
// complete: the node is removed from the graph, every remaining node's
// dependency on it is cleared, and the list of reply channels that were
// still waiting on nodeID (not including replyChannel) is returned so
// the caller can notify them.
func (g *ChangeSetGraph) MarkNodeAsProcessed(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id) ([]types.ReplyChannel, error) {
	changeSetData, ok := g.data[changeSetID]
	if !ok {
		return nil, ErrUnknownChangeSetID
	}

	node, ok := changeSetData[nodeID]
	if !ok {
		return nil, ErrUnknownNodeID
	}

	if !node.isProcessingBy(replyChannel) {
		return nil, ErrShouldNotBeProcessingByJob
	}
	node.clearProcessing()

	nodeIsComplete := len(node.dependsOn) == 0
	if !nodeIsComplete {
		return nil, nil
	}

	waiters := node.waiters()
	delete(changeSetData, nodeID)
	for _, other := range changeSetData {
		other.removeDependency(nodeID)
	}
	if len(changeSetData) == 0 {
		delete(g.data, changeSetID)
	}

	return waiters, nil
}

// MarkNodeAsFailed records that replyChannel's attempt to process
// nodeID failed. The node is removed together with every node that
// depends on it, directly or transitively: a failed value will never
// become available, so nothing waiting on it can be computed.
// Every reply channel that was waiting on nodeID (other than the one
// reporting the failure) is returned so the caller can propagate the
// failure to them.
func (g *ChangeSetGraph) MarkNodeAsFailed(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id) ([]types.ReplyChannel, error) {
	changeSetData, ok := g.data[changeSetID]
	if !ok {
		return nil, ErrUnknownChangeSetID
	}

	node, ok := changeSetData[nodeID]
	if !ok {
		return nil, ErrUnknownNodeID
	}

	if !node.isProcessingBy(replyChannel) {
		return nil, ErrShouldNotBeProcessingByJob
	}

	waiters := node.waiters()

	failed := []types.Id{nodeID}
	for len(failed) > 0 {
		id := failed[0]
		failed = failed[1:]
		delete(changeSetData, id)
		for otherID, other := range changeSetData {
			if _, ok := other.dependsOn[id]; ok {
				failed = append(failed, otherID)
			}
		}
	}
	if len(changeSetData) == 0 {
		delete(g.data, changeSetID)
	}

	return waiters, nil
}

// RemoveChannel drops a disconnected reply channel's interest from
// every node in the given change set, pruning nodes that become empty.
func (g *ChangeSetGraph) RemoveChannel(changeSetID types.Id, replyChannel types.ReplyChannel) {
	graph, ok := g.data[changeSetID]
	if !ok {
		return
	}

	var toRemove []types.Id
	for id, metadata := range graph {
		metadata.removeChannel(replyChannel)
		if metadata.isEmpty() {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		delete(graph, id)
	}

	if len(graph) == 0 {
		delete(g.data, changeSetID)
	}
}

// RemoveChannelEverywhere drops a reply channel's interest from every
// change set it appears in. Used for a whole-worker disconnect (the
// transport adapter or the reaper synthesizing a cancel with no single
// change set in mind), as opposed to RemoveChannel's single-change-set
// explicit cancel.
func (g *ChangeSetGraph) RemoveChannelEverywhere(replyChannel types.ReplyChannel) {
	for changeSetID := range g.data {
		g.RemoveChannel(changeSetID, replyChannel)
	}
}

// ActiveReplyChannels returns the deduplicated set of every reply
// channel the graph currently tracks interest for, across all change
// sets, whether it is waiting on a node or holds its processing claim.
// Used by the stale-interest reaper to cross-check against the
// transport's live subscriptions.
func (g *ChangeSetGraph) ActiveReplyChannels() []types.ReplyChannel {
	seen := make(map[types.ReplyChannel]struct{})
	for _, graph := range g.data {
		for _, node := range graph {
			for _, rc := range node.waiters() {
				seen[rc] = struct{}{}
			}
			if rc, ok := node.processingChannel(); ok {
				seen[rc] = struct{}{}
			}
		}
	}

	out := make([]types.ReplyChannel, 0, len(seen))
	for rc := range seen {
		out = append(out, rc)
	}
	return out
}

// Stats returns a metrics-ready snapshot of this graph's node counts and
// pending-queue depth, grouped by change set.
func (g *ChangeSetGraph) Stats() map[types.Id]struct {
	Pending    int
	Processing int
} {
	out := make(map[types.Id]struct {
		Pending    int
		Processing int
	}, len(g.data))
	for changeSetID, graph := range g.data {
		var pending, processing int
		for _, node := range graph {
			if node.isProcessing() {
				processing++
			} else {
				pending++
			}
		}
		out[changeSetID] = struct {
			Pending    int
			Processing int
		}{Pending: pending, Processing: processing}
	}
	return out
}
