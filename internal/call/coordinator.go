package call

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/petervdpas/relaycall/internal/identity"
	"github.com/petervdpas/relaycall/internal/media"
	"github.com/petervdpas/relaycall/internal/proto"
)

// RemoteEnd describes a call termination initiated by the remote side.
type RemoteEnd struct {
	// Rejected distinguishes an explicit Reject from a Hangup. Only the
	// history status differs.
	Rejected bool
	Reason   string
}

// Coordinator maps the call lifecycle onto transport messages and media
// operations. It holds at most one active call id; messages that do not
// correlate to it are discarded. All inbound faults are absorbed — the
// coordinator never propagates an error across the message-handling
// boundary, so noise on the shared channel cannot tear down state.
type Coordinator struct {
	transport Transport
	media     Media
	self      string

	// onRemoteEnd fires when the remote peer hangs up or rejects, after
	// the coordinator has cleaned its own state.
	onRemoteEnd func(RemoteEnd)

	mu           sync.Mutex
	activeCallID string
	remote       string
	unsubscribe  func()
	offerSent    bool
}

func NewCoordinator(transport Transport, m Media, self string, onRemoteEnd func(RemoteEnd)) *Coordinator {
	return &Coordinator{
		transport:   transport,
		media:       m,
		self:        self,
		onRemoteEnd: onRemoteEnd,
	}
}

// ActiveCallID returns the call id being coordinated, or "".
func (c *Coordinator) ActiveCallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeCallID
}

// InitiateCall starts an outgoing call. It validates the target, wires
// the signaling subscription, and creates the media connection as
// initiator; the first locally generated description goes out as the
// Offer, everything after as IceCandidate. Returns the fresh call id
// immediately — establishment is asynchronous via sink.
func (c *Coordinator) InitiateCall(remote, callType string, sink media.Sink) (string, error) {
	if remote == c.self {
		return "", ErrSelfCall
	}
	if identity.ValidatePublicKey(remote) != nil {
		return "", ErrInvalidIdentity
	}

	callID := uuid.NewString()

	c.mu.Lock()
	c.activeCallID = callID
	c.remote = remote
	c.offerSent = false
	c.unsubscribe = c.transport.SubscribeToPeer(remote, c.handleMessage)
	c.mu.Unlock()

	err := c.media.CreateConnection(true, func(ev media.Event) {
		if ev.Kind == media.EventLocalSignal {
			c.forwardLocalSignal(callID, remote, callType, true, ev.Signal)
			return
		}
		sink(ev)
	})
	if err != nil {
		c.Cleanup()
		return "", fmt.Errorf("create connection: %w", err)
	}

	log.Printf("CALL [%s]: initiated %s call to %s", short(callID), callType, short(remote))
	return callID, nil
}

// AnswerCall accepts an inbound offer: adopts its call id, subscribes to
// the sender, creates the connection as responder, and feeds the offer
// payload in — which triggers answer generation.
func (c *Coordinator) AnswerCall(remote string, offer *proto.SignalingMessage, sink media.Sink) error {
	callID := offer.CallID

	c.mu.Lock()
	c.activeCallID = callID
	c.remote = remote
	c.offerSent = false
	c.unsubscribe = c.transport.SubscribeToPeer(remote, c.handleMessage)
	c.mu.Unlock()

	err := c.media.CreateConnection(false, func(ev media.Event) {
		if ev.Kind == media.EventLocalSignal {
			c.forwardLocalSignal(callID, remote, offer.CallType, false, ev.Signal)
			return
		}
		sink(ev)
	})
	if err != nil {
		c.Cleanup()
		return fmt.Errorf("create connection: %w", err)
	}

	if err := c.media.ApplyRemoteSignal(offer.Offer); err != nil {
		c.Cleanup()
		return fmt.Errorf("apply offer: %w", err)
	}

	log.Printf("CALL [%s]: answering %s call from %s", short(callID), offer.CallType, short(remote))
	return nil
}

// RejectCall sends a Reject for callID. It needs no active connection
// and is always safe to call.
func (c *Coordinator) RejectCall(ctx context.Context, remote, callID, reason string) error {
	msg := &proto.SignalingMessage{
		Type:   proto.TypeReject,
		CallID: callID,
		Reason: reason,
	}
	if err := c.transport.Send(ctx, remote, msg); err != nil {
		return fmt.Errorf("send reject: %w", err)
	}
	log.Printf("CALL [%s]: rejected call from %s", short(callID), short(remote))
	return nil
}

// Hangup sends a Hangup for the active call, then tears down local
// coordination state. Warn no-op when nothing is active.
func (c *Coordinator) Hangup(ctx context.Context) error {
	c.mu.Lock()
	callID := c.activeCallID
	remote := c.remote
	c.mu.Unlock()

	if callID == "" {
		log.Printf("CALL: hangup with no active call — ignoring")
		return nil
	}

	msg := &proto.SignalingMessage{Type: proto.TypeHangup, CallID: callID}
	sendErr := c.transport.Send(ctx, remote, msg)

	c.Cleanup()

	if sendErr != nil {
		return fmt.Errorf("send hangup: %w", sendErr)
	}
	log.Printf("CALL [%s]: hung up", short(callID))
	return nil
}

// Cleanup cancels the per-peer subscription and clears the active call
// id. Idempotent; every termination path funnels through here.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.activeCallID = ""
	c.remote = ""
	c.offerSent = false
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// forwardLocalSignal wraps a locally generated signal in the matching
// message variant and sends it. Transport failures surface as a Failed
// event through the media sink path — see handleMessage for why inbound
// faults are treated differently.
func (c *Coordinator) forwardLocalSignal(callID, remote, callType string, initiator bool, sig *media.Signal) {
	payload, err := sig.Payload()
	if err != nil {
		log.Printf("CALL [%s]: encode local signal: %v", short(callID), err)
		return
	}

	msg := &proto.SignalingMessage{CallID: callID}
	switch {
	case sig.IsDescription() && initiator && c.markOfferSent():
		msg.Type = proto.TypeOffer
		msg.CallType = callType
		msg.Offer = payload
	case sig.IsDescription() && !initiator:
		msg.Type = proto.TypeAnswer
		msg.Answer = payload
	default:
		msg.Type = proto.TypeIceCandidate
		msg.Candidate = payload
	}

	if err := c.transport.Send(context.Background(), remote, msg); err != nil {
		log.Printf("CALL [%s]: send %s failed: %v", short(callID), msg.Type, err)
	}
}

// markOfferSent flips the initiator's one-shot offer flag, reporting
// whether this signal is the offer.
func (c *Coordinator) markOfferSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offerSent {
		return false
	}
	c.offerSent = true
	return true
}

// handleMessage is the correctness-critical inbound routine. Anything
// that does not correlate to the active call is discarded; offers are
// never consumed here (they arrive via the offer subscription before a
// call is active, and are glare otherwise — first seen wins).
func (c *Coordinator) handleMessage(msg *proto.SignalingMessage) {
	c.mu.Lock()
	active := c.activeCallID
	c.mu.Unlock()

	if active == "" || msg.CallID != active {
		return
	}

	switch msg.Type {
	case proto.TypeOffer:
		// Glare or duplicate: a call is already active.
		log.Printf("CALL [%s]: ignoring offer while call active", short(active))

	case proto.TypeAnswer:
		if err := c.media.ApplyRemoteSignal(msg.Answer); err != nil {
			log.Printf("CALL [%s]: apply answer: %v", short(active), err)
		}

	case proto.TypeIceCandidate:
		if err := c.media.ApplyRemoteSignal(msg.Candidate); err != nil {
			log.Printf("CALL [%s]: apply candidate: %v", short(active), err)
		}

	case proto.TypeHangup:
		log.Printf("CALL [%s]: remote hung up", short(active))
		c.Cleanup()
		if c.onRemoteEnd != nil {
			c.onRemoteEnd(RemoteEnd{})
		}

	case proto.TypeReject:
		log.Printf("CALL [%s]: remote rejected: %s", short(active), msg.Reason)
		c.Cleanup()
		if c.onRemoteEnd != nil {
			c.onRemoteEnd(RemoteEnd{Rejected: true, Reason: msg.Reason})
		}
	}
}

// short truncates an identity or call id for log lines.
func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
