package council

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	busPkg "github.com/cuemby/council/pkg/bus"
	"github.com/cuemby/council/pkg/council/protocol"
	"github.com/cuemby/council/pkg/log"
	"github.com/cuemby/council/pkg/metrics"
	"github.com/cuemby/council/pkg/types"
	"github.com/rs/zerolog"
)

const registrationSubject = "register"

func replySubject(prefix string, replyChannel types.ReplyChannel) string {
	return fmt.Sprintf("%s.reply.%s", prefix, replyChannel)
}

// Transport adapts a pkg/bus.MessageBus into the coordinator's inbound
// Request channel and implements Notifier on top of the same bus, so
// the coordinator itself never knows frames or subjects exist.
// Grounded on the teacher's pkg/api.Server, which performs the same
// job (adapting a gRPC stream into scheduler-facing calls) one layer
// down the stack; disconnect handling is grounded on pkg/worker's
// reconnect loop, inverted into the server-side view of a subscriber
// going away.
type Transport struct {
	bus         busPkg.MessageBus
	coordinator *Coordinator
	prefix      string
	logger      zerolog.Logger

	mu   sync.Mutex
	subs map[types.ReplyChannel]*busPkg.Subscription

	stopCh chan struct{}
}

// NewTransport creates a transport wiring messageBus to coordinator.
// subjectPrefix namespaces every subject this transport uses, so a
// single bus can carry more than one council deployment.
func NewTransport(messageBus busPkg.MessageBus, coordinator *Coordinator, subjectPrefix string) *Transport {
	return &Transport{
		bus:         messageBus,
		coordinator: coordinator,
		prefix:      subjectPrefix,
		logger:      log.WithComponent("transport"),
		subs:        make(map[types.ReplyChannel]*busPkg.Subscription),
		stopCh:      make(chan struct{}),
	}
}

// Start subscribes to the well-known registration subject and begins
// routing worker frames to the coordinator.
func (t *Transport) Start(ctx context.Context) error {
	subject := t.prefix + "." + registrationSubject
	sub, err := t.bus.Subscribe(ctx, subject)
	if err != nil {
		return &TransportError{Subject: subject, Op: "subscribe", Err: err}
	}

	go t.serveRegistrations(ctx, sub)
	return nil
}

// Stop unsubscribes from every reply channel this transport is serving.
func (t *Transport) Stop() {
	close(t.stopCh)

	t.mu.Lock()
	defer t.mu.Unlock()
	for rc, sub := range t.subs {
		sub.Unsubscribe()
		delete(t.subs, rc)
	}
}

func (t *Transport) serveRegistrations(ctx context.Context, sub *busPkg.Subscription) {
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			t.handleFrame(ctx, msg)
		case <-t.stopCh:
			return
		}
	}
}

// handleFrame decodes one frame off any subject (registration or a
// reply-channel subject) and submits the matching Request.
func (t *Transport) handleFrame(ctx context.Context, msg busPkg.Message) {
	env, err := protocol.Decode(msg.Payload)
	if err != nil {
		metrics.BusMalformedFramesTotal.Inc()
		t.logger.Warn().Err(&CodecError{Subject: msg.Subject, Err: err}).Msg("dropping malformed frame")
		return
	}

	switch env.Kind {
	case protocol.KindRegister:
		var payload protocol.Register
		if err := decodePayload(env, &payload); err != nil {
			t.logger.Warn().Err(err).Msg("dropping malformed register frame")
			return
		}
		t.registerWorker(ctx, payload.ReplyChannel)
		t.coordinator.Submit(Request{
			Kind:         RequestRegister,
			ReplyChannel: payload.ReplyChannel,
			ChangeSetID:  payload.ChangeSetID,
		})

	case protocol.KindGraphSubmit:
		var payload protocol.GraphSubmit
		if err := decodePayload(env, &payload); err != nil {
			t.logger.Warn().Err(err).Msg("dropping malformed graph_submit frame")
			return
		}
		t.coordinator.Submit(Request{
			Kind:         RequestGraphSubmit,
			ReplyChannel: payload.ReplyChannel,
			ChangeSetID:  payload.ChangeSetID,
			Graph:        payload.Graph,
		})

	case protocol.KindValueProcessed:
		var payload protocol.ValueProcessed
		if err := decodePayload(env, &payload); err != nil {
			t.logger.Warn().Err(err).Msg("dropping malformed value_processed frame")
			return
		}
		t.coordinator.Submit(Request{
			Kind:         RequestValueProcessed,
			ReplyChannel: payload.ReplyChannel,
			ChangeSetID:  payload.ChangeSetID,
			NodeID:       payload.NodeID,
		})

	case protocol.KindValueProcessingFailed:
		var payload protocol.ValueProcessingFailed
		if err := decodePayload(env, &payload); err != nil {
			t.logger.Warn().Err(err).Msg("dropping malformed value_processing_failed frame")
			return
		}
		t.coordinator.Submit(Request{
			Kind:         RequestValueProcessingFailed,
			ReplyChannel: payload.ReplyChannel,
			ChangeSetID:  payload.ChangeSetID,
			NodeID:       payload.NodeID,
			FailureError: payload.Error,
		})

	case protocol.KindCancel:
		var payload protocol.Cancel
		if err := decodePayload(env, &payload); err != nil {
			t.logger.Warn().Err(err).Msg("dropping malformed cancel frame")
			return
		}
		t.coordinator.Submit(Request{
			Kind:         RequestCancel,
			ReplyChannel: payload.ReplyChannel,
			ChangeSetID:  payload.ChangeSetID,
		})

	default:
		t.logger.Warn().Str("kind", string(env.Kind)).Msg("dropping frame of unknown kind")
	}
}

// registerWorker opens (if not already open) a subscription on
// replyChannel's own subject, so its subsequent frames are routed here
// too, and so the transport notices when the worker disconnects.
func (t *Transport) registerWorker(ctx context.Context, replyChannel types.ReplyChannel) {
	t.mu.Lock()
	if _, exists := t.subs[replyChannel]; exists {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	subject := replySubject(t.prefix, replyChannel)
	sub, err := t.bus.Subscribe(ctx, subject)
	if err != nil {
		t.logger.Error().Err(&TransportError{Subject: subject, Op: "subscribe", Err: err}).Msg("failed to subscribe to reply channel")
		return
	}

	t.mu.Lock()
	t.subs[replyChannel] = sub
	t.mu.Unlock()

	go t.serveReplyChannel(ctx, replyChannel, sub)
}

func (t *Transport) serveReplyChannel(ctx context.Context, replyChannel types.ReplyChannel, sub *busPkg.Subscription) {
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				t.disconnect(replyChannel)
				return
			}
			t.handleFrame(ctx, msg)
		case <-t.stopCh:
			return
		}
	}
}

// disconnect forgets replyChannel's subscription and synthesizes a
// whole-worker cancel for it, mirroring what an explicit Cancel frame
// does for one change set. Called when replyChannel's subscription
// channel closes; the reaper submits its own cancels to the coordinator.
func (t *Transport) disconnect(replyChannel types.ReplyChannel) {
	t.mu.Lock()
	delete(t.subs, replyChannel)
	t.mu.Unlock()

	t.logger.Info().Str("reply_channel", string(replyChannel)).Msg("worker disconnected, synthesizing cancel")
	t.coordinator.Submit(Request{Kind: RequestCancel, ReplyChannel: replyChannel})
}

// KnownReplyChannels lists the reply channels this transport currently
// holds a live subscription for. Used by the stale-interest reaper to
// cross-check against the coordinator's tracked graph interest.
func (t *Transport) KnownReplyChannels() map[types.ReplyChannel]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[types.ReplyChannel]struct{}, len(t.subs))
	for rc := range t.subs {
		out[rc] = struct{}{}
	}
	return out
}

func decodePayload(env protocol.Envelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return &CodecError{Subject: string(env.Kind), Err: err}
	}
	return nil
}

// Notifier implementation: publish back to the worker's own subject.

func (t *Transport) publish(ctx context.Context, replyChannel types.ReplyChannel, kind protocol.Kind, payload any) {
	encoded, err := protocol.Encode(kind, payload)
	if err != nil {
		t.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to encode notification")
		return
	}

	subject := replySubject(t.prefix, replyChannel)
	if err := t.bus.Publish(ctx, subject, encoded); err != nil {
		metrics.BusPublishErrorsTotal.WithLabelValues(string(kind)).Inc()
		t.logger.Error().Err(&TransportError{Subject: subject, Op: "publish", Err: err}).Msg("failed to publish notification")
	}
}

func (t *Transport) NotifyContinue(replyChannel types.ReplyChannel, changeSetID types.Id) {
	t.publish(context.Background(), replyChannel, protocol.KindContinue, protocol.Continue{ChangeSetID: changeSetID})
}

func (t *Transport) NotifyProcessValue(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id) {
	t.publish(context.Background(), replyChannel, protocol.KindProcessValue, protocol.ProcessValue{ChangeSetID: changeSetID, NodeID: nodeID})
}

func (t *Transport) NotifyValueAvailable(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id) {
	t.publish(context.Background(), replyChannel, protocol.KindValueAvailable, protocol.ValueAvailable{ChangeSetID: changeSetID, NodeID: nodeID})
}

func (t *Transport) NotifyValueProcessingFailed(replyChannel types.ReplyChannel, changeSetID, nodeID types.Id, reason string) {
	t.publish(context.Background(), replyChannel, protocol.KindDependencyFailed, protocol.DependencyFailed{
		ChangeSetID: changeSetID,
		NodeID:      nodeID,
		Error:       reason,
	})
}
