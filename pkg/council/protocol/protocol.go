/*
Package protocol defines Council's wire format: a tagged-variant JSON
envelope carrying one payload struct per message kind.

Grounded on spec.md §6's requirement that messages be self-describing
key/value data (e.g. JSON). The teacher's own wire format is generated
gRPC/protobuf (api/proto), but that generated package is not part of
the retrieved snapshot; hand-writing fake generated protobuf stubs to
keep the dependency alive would be fabricating dependency surface
rather than using it, so Council's messages are plain structs
marshaled with encoding/json, carried over whichever pkg/bus.MessageBus
is configured.
*/
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/council/pkg/types"
)

// Kind identifies which payload an Envelope carries.
type Kind string

const (
	// Worker -> coordinator
	KindRegister              Kind = "register"
	KindGraphSubmit           Kind = "graph_submit"
	KindValueProcessed        Kind = "value_processed"
	KindValueProcessingFailed Kind = "value_processing_failed"
	KindCancel                Kind = "cancel"

	// Coordinator -> worker
	KindContinue         Kind = "continue"
	KindProcessValue     Kind = "process_value"
	KindValueAvailable   Kind = "value_available"
	KindDependencyFailed Kind = "dependency_failed"
)

// Envelope is the self-describing frame exchanged over the bus: Kind
// names the payload's shape, Payload carries its JSON encoding.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps payload into an Envelope of the given kind and returns
// its JSON bytes, ready to publish on a bus subject.
func Encode(kind Kind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Kind: kind, Payload: raw})
}

// Decode parses an Envelope off the wire. A malformed frame is a
// decode error; callers at the transport boundary log and drop it
// rather than propagating the error into the coordinator loop.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	return env, nil
}

// Register asks the coordinator for the graph-mutation slot on
// ChangeSetID: the worker must wait for a matching Continue before
// sending GraphSubmit for that change set.
type Register struct {
	ReplyChannel types.ReplyChannel `json:"reply_channel"`
	ChangeSetID  types.Id           `json:"change_set_id"`
}

// GraphSubmit carries a worker-computed dependency graph for one
// change set, to be merged into the coordinator's tracked graph.
type GraphSubmit struct {
	ReplyChannel types.ReplyChannel `json:"reply_channel"`
	ChangeSetID  types.Id           `json:"change_set_id"`
	Graph        types.Graph        `json:"graph"`
}

// ValueProcessed reports that the worker finished computing nodeID.
type ValueProcessed struct {
	ReplyChannel types.ReplyChannel `json:"reply_channel"`
	ChangeSetID  types.Id           `json:"change_set_id"`
	NodeID       types.Id           `json:"node_id"`
}

// ValueProcessingFailed reports that computing nodeID failed; the
// coordinator propagates this to every other reply channel waiting on
// it instead of treating the node as available.
type ValueProcessingFailed struct {
	ReplyChannel types.ReplyChannel `json:"reply_channel"`
	ChangeSetID  types.Id           `json:"change_set_id"`
	NodeID       types.Id           `json:"node_id"`
	Error        string             `json:"error"`
}

// Cancel tells the coordinator a reply channel is no longer interested
// in a change set (explicit cancel, or synthesized by the transport
// adapter/reaper on disconnect).
type Cancel struct {
	ReplyChannel types.ReplyChannel `json:"reply_channel"`
	ChangeSetID  types.Id           `json:"change_set_id"`
}

// Continue tells a worker that it now holds ChangeSetID's
// graph-mutation slot and may send its GraphSubmit.
type Continue struct {
	ChangeSetID types.Id `json:"change_set_id"`
}

// ProcessValue instructs a reply channel to compute nodeID: its
// dependencies are satisfied and it holds the processing claim.
type ProcessValue struct {
	ChangeSetID types.Id `json:"change_set_id"`
	NodeID      types.Id `json:"node_id"`
}

// ValueAvailable notifies a reply channel that nodeID, which it was
// waiting on, has finished processing.
type ValueAvailable struct {
	ChangeSetID types.Id `json:"change_set_id"`
	NodeID      types.Id `json:"node_id"`
}

// DependencyFailed notifies a reply channel that nodeID, which it was
// waiting on, failed to process and will never become available.
type DependencyFailed struct {
	ChangeSetID types.Id `json:"change_set_id"`
	NodeID      types.Id `json:"node_id"`
	Error       string   `json:"error"`
}
