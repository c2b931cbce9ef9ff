package workerclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/council/pkg/bus"
	"github.com/cuemby/council/pkg/council"
	"github.com/cuemby/council/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu              sync.Mutex
	processValue    []types.Id
	valueAvailable  []types.Id
	dependencyFails []types.Id
}

func (h *recordingHandler) OnContinue(types.Id) {}

func (h *recordingHandler) OnProcessValue(_ types.Id, nodeID types.Id) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processValue = append(h.processValue, nodeID)
}

func (h *recordingHandler) OnValueAvailable(_ types.Id, nodeID types.Id) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.valueAvailable = append(h.valueAvailable, nodeID)
}

func (h *recordingHandler) OnDependencyFailed(_ types.Id, nodeID types.Id, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dependencyFails = append(h.dependencyFails, nodeID)
}

func (h *recordingHandler) sawProcessValue(nodeID types.Id) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range h.processValue {
		if id == nodeID {
			return true
		}
	}
	return false
}

// TestEndToEnd_TwoWorkersShareADependency exercises the full stack: two
// workerclients, a real Transport, and a Coordinator wired together
// over a MemoryBus. Worker A submits a graph where a dependent node
// depends on a leaf; worker B independently wants the same leaf on the
// same change set. The test checks that the coordinator tells one of
// the two workers to process the leaf.
func TestEndToEnd_TwoWorkersShareADependency(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()

	coordinator := council.NewCoordinator(nil)
	transport := council.NewTransport(memBus, coordinator, "council")
	coordinator.SetNotifier(transport)

	coordinator.Start()
	defer coordinator.Stop()
	require.NoError(t, transport.Start(context.Background()))
	defer transport.Stop()

	changeSetID := types.NewID()
	leaf := types.NewID()
	dependentA := types.NewID()

	handlerA := &recordingHandler{}
	clientA := New(memBus, Config{ReplyChannel: "worker-a", SubjectPrefix: "council"}, handlerA)
	require.NoError(t, clientA.Start(context.Background()))
	defer clientA.Stop()

	handlerB := &recordingHandler{}
	clientB := New(memBus, Config{ReplyChannel: "worker-b", SubjectPrefix: "council"}, handlerB)
	require.NoError(t, clientB.Start(context.Background()))
	defer clientB.Stop()

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, clientA.SubmitGraph(context.Background(), changeSetID, types.Graph{dependentA: {leaf}}))
	require.NoError(t, clientB.SubmitGraph(context.Background(), changeSetID, types.Graph{leaf: {}}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if handlerA.sawProcessValue(leaf) || handlerB.sawProcessValue(leaf) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, handlerA.sawProcessValue(leaf) || handlerB.sawProcessValue(leaf))
}
