/*
Package workerclient is a reference implementation of the worker side
of Council's protocol: register a reply channel, submit a dependency
graph for a change set, and receive process_value/value_available/
dependency_failed notifications as the coordinator resolves it.

Grounded on the teacher's pkg/worker.Worker: a Config struct, a
constructor that wires its dependencies, and a Start/Stop pair running
one long-lived receive loop — generalized here from a gRPC connection
to a pkg/bus.MessageBus subscription.
*/
package workerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/council/pkg/bus"
	"github.com/cuemby/council/pkg/council/protocol"
	"github.com/cuemby/council/pkg/log"
	"github.com/cuemby/council/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds worker client configuration.
type Config struct {
	ReplyChannel  types.ReplyChannel
	SubjectPrefix string
}

// Client is a single worker's connection to a coordinator over a
// pkg/bus.MessageBus.
type Client struct {
	bus          bus.MessageBus
	replyChannel types.ReplyChannel
	prefix       string
	logger       zerolog.Logger

	sub *bus.Subscription

	handler Handler

	// continueWaiters holds one channel per change set currently
	// waiting on a Continue after sending Register, so SubmitGraph can
	// block until the coordinator grants it the graph-mutation slot.
	continueMu      sync.Mutex
	continueWaiters map[types.Id]chan struct{}

	stopCh chan struct{}
}

// Handler receives the coordinator's notifications for one worker.
// ProcessValue is called once per node this worker holds the
// processing claim for; the worker is expected to eventually call
// Client.ReportProcessed or Client.ReportFailed for that node.
type Handler interface {
	OnContinue(changeSetID types.Id)
	OnProcessValue(changeSetID, nodeID types.Id)
	OnValueAvailable(changeSetID, nodeID types.Id)
	OnDependencyFailed(changeSetID, nodeID types.Id, reason string)
}

// New creates a worker client. Call Start to subscribe to its reply
// subject and begin receiving notifications; SubmitGraph registers for
// a change set.
func New(messageBus bus.MessageBus, cfg Config, handler Handler) *Client {
	return &Client{
		bus:             messageBus,
		replyChannel:    cfg.ReplyChannel,
		prefix:          cfg.SubjectPrefix,
		logger:          log.WithReplyChannel(string(cfg.ReplyChannel)),
		handler:         handler,
		continueWaiters: make(map[types.Id]chan struct{}),
		stopCh:          make(chan struct{}),
	}
}

func (c *Client) replySubject() string {
	return fmt.Sprintf("%s.reply.%s", c.prefix, c.replyChannel)
}

// Start subscribes to this worker's reply subject. Call SubmitGraph to
// register for a change set's graph-mutation slot and submit a graph.
func (c *Client) Start(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, c.replySubject())
	if err != nil {
		return fmt.Errorf("workerclient: subscribe: %w", err)
	}
	c.sub = sub

	go c.receiveLoop(ctx)
	return nil
}

// Stop unsubscribes from this worker's reply subject.
func (c *Client) Stop() {
	close(c.stopCh)
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}

func (c *Client) receiveLoop(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.sub.C:
			if !ok {
				return
			}
			c.handleFrame(msg)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleFrame(msg bus.Message) {
	env, err := protocol.Decode(msg.Payload)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch env.Kind {
	case protocol.KindContinue:
		var payload protocol.Continue
		if decodeInto(env, &payload, c.logger) {
			c.wakeContinueWaiter(payload.ChangeSetID)
			c.handler.OnContinue(payload.ChangeSetID)
		}
	case protocol.KindProcessValue:
		var payload protocol.ProcessValue
		if decodeInto(env, &payload, c.logger) {
			c.handler.OnProcessValue(payload.ChangeSetID, payload.NodeID)
		}
	case protocol.KindValueAvailable:
		var payload protocol.ValueAvailable
		if decodeInto(env, &payload, c.logger) {
			c.handler.OnValueAvailable(payload.ChangeSetID, payload.NodeID)
		}
	case protocol.KindDependencyFailed:
		var payload protocol.DependencyFailed
		if decodeInto(env, &payload, c.logger) {
			c.handler.OnDependencyFailed(payload.ChangeSetID, payload.NodeID, payload.Error)
		}
	default:
		c.logger.Warn().Str("kind", string(env.Kind)).Msg("dropping frame of unknown kind")
	}
}

// SubmitGraph asks the coordinator for changeSetID's graph-mutation
// slot (Register), waits for the matching Continue, then sends graph
// as a GraphSubmit. Blocks until the slot is granted or ctx is done.
func (c *Client) SubmitGraph(ctx context.Context, changeSetID types.Id, graph types.Graph) error {
	waitCh := c.registerContinueWaiter(changeSetID)
	defer c.forgetContinueWaiter(changeSetID)

	if err := c.send(ctx, c.prefix+".register", protocol.KindRegister, protocol.Register{
		ReplyChannel: c.replyChannel,
		ChangeSetID:  changeSetID,
	}); err != nil {
		return err
	}

	select {
	case <-waitCh:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return fmt.Errorf("workerclient: stopped while waiting for continue on change set %s", changeSetID)
	}

	return c.send(ctx, c.replySubject(), protocol.KindGraphSubmit, protocol.GraphSubmit{
		ReplyChannel: c.replyChannel,
		ChangeSetID:  changeSetID,
		Graph:        graph,
	})
}

func (c *Client) registerContinueWaiter(changeSetID types.Id) chan struct{} {
	waitCh := make(chan struct{})
	c.continueMu.Lock()
	c.continueWaiters[changeSetID] = waitCh
	c.continueMu.Unlock()
	return waitCh
}

func (c *Client) forgetContinueWaiter(changeSetID types.Id) {
	c.continueMu.Lock()
	delete(c.continueWaiters, changeSetID)
	c.continueMu.Unlock()
}

func (c *Client) wakeContinueWaiter(changeSetID types.Id) {
	c.continueMu.Lock()
	waitCh, ok := c.continueWaiters[changeSetID]
	c.continueMu.Unlock()
	if ok {
		close(waitCh)
	}
}

// ReportProcessed tells the coordinator this worker finished computing nodeID.
func (c *Client) ReportProcessed(ctx context.Context, changeSetID, nodeID types.Id) error {
	return c.send(ctx, c.replySubject(), protocol.KindValueProcessed, protocol.ValueProcessed{
		ReplyChannel: c.replyChannel,
		ChangeSetID:  changeSetID,
		NodeID:       nodeID,
	})
}

// ReportFailed tells the coordinator that computing nodeID failed.
func (c *Client) ReportFailed(ctx context.Context, changeSetID, nodeID types.Id, reason string) error {
	return c.send(ctx, c.replySubject(), protocol.KindValueProcessingFailed, protocol.ValueProcessingFailed{
		ReplyChannel: c.replyChannel,
		ChangeSetID:  changeSetID,
		NodeID:       nodeID,
		Error:        reason,
	})
}

// Cancel tells the coordinator this worker is no longer interested in changeSetID.
func (c *Client) Cancel(ctx context.Context, changeSetID types.Id) error {
	return c.send(ctx, c.replySubject(), protocol.KindCancel, protocol.Cancel{
		ReplyChannel: c.replyChannel,
		ChangeSetID:  changeSetID,
	})
}

func (c *Client) send(ctx context.Context, subject string, kind protocol.Kind, payload any) error {
	encoded, err := protocol.Encode(kind, payload)
	if err != nil {
		return fmt.Errorf("workerclient: encode %s: %w", kind, err)
	}
	if err := c.bus.Publish(ctx, subject, encoded); err != nil {
		return fmt.Errorf("workerclient: publish %s: %w", kind, err)
	}
	return nil
}

func decodeInto(env protocol.Envelope, out any, logger zerolog.Logger) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		logger.Warn().Err(err).Str("kind", string(env.Kind)).Msg("dropping malformed payload")
		return false
	}
	return true
}
