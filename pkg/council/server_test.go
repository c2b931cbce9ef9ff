package council

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/council/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notification struct {
	kind         string
	replyChannel types.ReplyChannel
	changeSetID  types.Id
	nodeID       types.Id
	reason       string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) record(n notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func (f *fakeNotifier) NotifyContinue(replyChannel types.ReplyChannel, changeSetID types.Id) {
	f.record(notification{kind: "continue", replyChannel: replyChannel, changeSetID: changeSetID})
}

func (f *fakeNotifier) NotifyProcessValue(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id) {
	f.record(notification{kind: "process_value", replyChannel: replyChannel, changeSetID: changeSetID, nodeID: nodeID})
}

func (f *fakeNotifier) NotifyValueAvailable(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id) {
	f.record(notification{kind: "value_available", replyChannel: replyChannel, changeSetID: changeSetID, nodeID: nodeID})
}

func (f *fakeNotifier) NotifyValueProcessingFailed(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id, reason string) {
	f.record(notification{kind: "value_processing_failed", replyChannel: replyChannel, changeSetID: changeSetID, nodeID: nodeID, reason: reason})
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, n := range f.sent {
		out[i] = n.kind
	}
	return out
}

func waitForKinds(t *testing.T, f *fakeNotifier, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(f.kinds()) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notifications, got %v", want, f.kinds())
}

func TestCoordinator_GraphSubmitDispatchesAvailableNode(t *testing.T) {
	notifier := &fakeNotifier{}
	c := NewCoordinator(notifier)
	c.Start()
	defer c.Stop()

	changeSetID := types.NewID()
	leaf := types.NewID()
	dependent := types.NewID()
	rc := types.ReplyChannel("worker-1")

	c.Submit(Request{Kind: RequestRegister, ReplyChannel: rc, ChangeSetID: changeSetID})
	c.Submit(Request{
		Kind:         RequestGraphSubmit,
		ReplyChannel: rc,
		ChangeSetID:  changeSetID,
		Graph:        types.Graph{dependent: {leaf}},
	})

	waitForKinds(t, notifier, 2) // continue(register) + process_value(leaf)
	assert.Contains(t, notifier.kinds(), "continue")
	assert.Contains(t, notifier.kinds(), "process_value")
}

func TestCoordinator_ValueProcessedUnblocksDependent(t *testing.T) {
	notifier := &fakeNotifier{}
	c := NewCoordinator(notifier)
	c.Start()
	defer c.Stop()

	changeSetID := types.NewID()
	leaf := types.NewID()
	dependent := types.NewID()
	rc := types.ReplyChannel("worker-1")

	c.Submit(Request{Kind: RequestRegister, ReplyChannel: rc, ChangeSetID: changeSetID})
	c.Submit(Request{
		Kind:         RequestGraphSubmit,
		ReplyChannel: rc,
		ChangeSetID:  changeSetID,
		Graph:        types.Graph{dependent: {leaf}},
	})
	waitForKinds(t, notifier, 2)

	c.Submit(Request{
		Kind:         RequestValueProcessed,
		ReplyChannel: rc,
		ChangeSetID:  changeSetID,
		NodeID:       leaf,
	})
	waitForKinds(t, notifier, 3) // + process_value(dependent)

	// rc processed leaf itself, so it is not a secondary subscriber and
	// gets no value_available for it
	kinds := notifier.kinds()
	assert.NotContains(t, kinds, "value_available")
	assert.Equal(t, 2, countKind(kinds, "process_value"))
}

func TestCoordinator_ValueProcessingFailedPropagates(t *testing.T) {
	notifier := &fakeNotifier{}
	c := NewCoordinator(notifier)
	c.Start()
	defer c.Stop()

	changeSetID := types.NewID()
	node := types.NewID()
	rc := types.ReplyChannel("worker-1")

	c.Submit(Request{Kind: RequestRegister, ReplyChannel: rc, ChangeSetID: changeSetID})
	c.Submit(Request{
		Kind:         RequestGraphSubmit,
		ReplyChannel: rc,
		ChangeSetID:  changeSetID,
		Graph:        types.Graph{node: {}},
	})
	waitForKinds(t, notifier, 2)

	c.Submit(Request{
		Kind:         RequestValueProcessingFailed,
		ReplyChannel: rc,
		ChangeSetID:  changeSetID,
		NodeID:       node,
		FailureError: "boom",
	})
	waitForKinds(t, notifier, 3)

	kinds := notifier.kinds()
	assert.Contains(t, kinds, "value_processing_failed")
}

func TestCoordinator_Snapshot(t *testing.T) {
	notifier := &fakeNotifier{}
	c := NewCoordinator(notifier)
	c.Start()
	defer c.Stop()

	changeSetID := types.NewID()
	node := types.NewID()
	rc := types.ReplyChannel("worker-1")

	c.Submit(Request{Kind: RequestRegister, ReplyChannel: rc, ChangeSetID: changeSetID})
	c.Submit(Request{
		Kind:         RequestGraphSubmit,
		ReplyChannel: rc,
		ChangeSetID:  changeSetID,
		Graph:        types.Graph{node: {}},
	})
	waitForKinds(t, notifier, 2)

	snap := c.Snapshot()
	require.Len(t, snap.ChangeSets, 1)
	assert.Equal(t, changeSetID.String(), snap.ChangeSets[0].ID)
}

func TestCoordinator_CancelRemovesInterest(t *testing.T) {
	notifier := &fakeNotifier{}
	c := NewCoordinator(notifier)
	c.Start()
	defer c.Stop()

	changeSetID := types.NewID()
	a := types.NewID()
	b := types.NewID()
	rc := types.ReplyChannel("worker-1")

	c.Submit(Request{Kind: RequestRegister, ReplyChannel: rc, ChangeSetID: changeSetID})
	c.Submit(Request{
		Kind:         RequestGraphSubmit,
		ReplyChannel: rc,
		ChangeSetID:  changeSetID,
		Graph:        types.Graph{a: {b}},
	})
	waitForKinds(t, notifier, 2)

	c.Submit(Request{
		Kind:         RequestCancel,
		ReplyChannel: rc,
		ChangeSetID:  changeSetID,
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().ChangeSets == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Empty(t, c.Snapshot().ChangeSets)
}

func TestCoordinator_ActiveReplyChannels(t *testing.T) {
	notifier := &fakeNotifier{}
	c := NewCoordinator(notifier)
	c.Start()
	defer c.Stop()

	changeSetID := types.NewID()
	a := types.NewID()
	b := types.NewID()
	rc := types.ReplyChannel("worker-1")

	c.Submit(Request{Kind: RequestRegister, ReplyChannel: rc, ChangeSetID: changeSetID})
	c.Submit(Request{
		Kind:         RequestGraphSubmit,
		ReplyChannel: rc,
		ChangeSetID:  changeSetID,
		Graph:        types.Graph{a: {b}},
	})
	waitForKinds(t, notifier, 2)

	assert.Contains(t, c.ActiveReplyChannels(), rc)
}

func TestCoordinator_WholeWorkerCancelRemovesEveryChangeSet(t *testing.T) {
	notifier := &fakeNotifier{}
	c := NewCoordinator(notifier)
	c.Start()
	defer c.Stop()

	first := types.NewID()
	second := types.NewID()
	a := types.NewID()
	b := types.NewID()
	rc := types.ReplyChannel("worker-1")

	c.Submit(Request{Kind: RequestRegister, ReplyChannel: rc, ChangeSetID: first})
	c.Submit(Request{Kind: RequestGraphSubmit, ReplyChannel: rc, ChangeSetID: first, Graph: types.Graph{a: {}}})
	c.Submit(Request{Kind: RequestRegister, ReplyChannel: rc, ChangeSetID: second})
	c.Submit(Request{Kind: RequestGraphSubmit, ReplyChannel: rc, ChangeSetID: second, Graph: types.Graph{b: {}}})
	waitForKinds(t, notifier, 4)

	// ChangeSetID left as the zero value: a whole-worker disconnect, not
	// a single change set's cancel.
	c.Submit(Request{Kind: RequestCancel, ReplyChannel: rc})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(c.Snapshot().ChangeSets) == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Empty(t, c.Snapshot().ChangeSets)
	assert.NotContains(t, c.ActiveReplyChannels(), rc)
}

// TestCoordinator_RegisterSerializesGraphMutation exercises S6: two
// workers Register on the same change set at once. Exactly one gets
// Continue; the other waits until the first's GraphSubmit merges and
// finished_processing runs, only then does it get promoted.
func TestCoordinator_RegisterSerializesGraphMutation(t *testing.T) {
	notifier := &fakeNotifier{}
	c := NewCoordinator(notifier)
	c.Start()
	defer c.Stop()

	changeSetID := types.NewID()
	a := types.NewID()
	b := types.NewID()
	first := types.ReplyChannel("worker-1")
	second := types.ReplyChannel("worker-2")

	c.Submit(Request{Kind: RequestRegister, ReplyChannel: first, ChangeSetID: changeSetID})
	c.Submit(Request{Kind: RequestRegister, ReplyChannel: second, ChangeSetID: changeSetID})
	waitForKinds(t, notifier, 1)

	// Only the first registrant is granted the slot; the second is
	// still queued behind it.
	assert.Equal(t, []string{"continue"}, notifier.kinds())

	c.Submit(Request{
		Kind:         RequestGraphSubmit,
		ReplyChannel: second,
		ChangeSetID:  changeSetID,
		Graph:        types.Graph{b: {}},
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"continue"}, notifier.kinds(), "second worker's GraphSubmit must be rejected before its Continue")

	c.Submit(Request{
		Kind:         RequestGraphSubmit,
		ReplyChannel: first,
		ChangeSetID:  changeSetID,
		Graph:        types.Graph{a: {}},
	})
	waitForKinds(t, notifier, 3) // continue(first) + process_value(a) + continue(second)

	kinds := notifier.kinds()
	assert.Equal(t, 2, countKind(kinds, "continue"))
	assert.Contains(t, kinds, "process_value")
}

func countKind(kinds []string, want string) int {
	n := 0
	for _, k := range kinds {
		if k == want {
			n++
		}
	}
	return n
}
