package call

import (
	"context"
	"testing"

	"github.com/petervdpas/relaycall/internal/media"
	"github.com/petervdpas/relaycall/internal/proto"
)

func TestCoordinatorCleanupIdempotent(t *testing.T) {
	tr := newFakeTransport()
	md := &fakeMedia{}
	c := NewCoordinator(tr, md, selfKey, nil)

	callID, err := c.InitiateCall(peerKey, proto.CallTypeAudio, func(media.Event) {})
	if err != nil {
		t.Fatal(err)
	}
	if c.ActiveCallID() != callID {
		t.Fatalf("active call id = %q", c.ActiveCallID())
	}

	c.Cleanup()
	if c.ActiveCallID() != "" {
		t.Fatal("call id survived cleanup")
	}

	// Second cleanup, and cleanup with nothing active, are no-ops.
	c.Cleanup()
	c.Cleanup()
	if c.ActiveCallID() != "" {
		t.Fatal("state changed on repeated cleanup")
	}

	// The per-peer subscription is gone: inbound traffic is ignored.
	tr.deliverPeer(peerKey, &proto.SignalingMessage{Type: proto.TypeHangup, CallID: callID})
	if md.appliedCount() != 0 {
		t.Fatal("signal applied after cleanup")
	}
}

func TestCoordinatorHangupWithoutCall(t *testing.T) {
	tr := newFakeTransport()
	c := NewCoordinator(tr, &fakeMedia{}, selfKey, nil)

	if err := c.Hangup(context.Background()); err != nil {
		t.Fatalf("hangup with no call errored: %v", err)
	}
	if tr.sentCount() != 0 {
		t.Fatal("hangup message sent with no active call")
	}
}

func TestCoordinatorRejectNeedsNoConnection(t *testing.T) {
	tr := newFakeTransport()
	c := NewCoordinator(tr, &fakeMedia{}, selfKey, nil)

	if err := c.RejectCall(context.Background(), peerKey, "some-call", "busy"); err != nil {
		t.Fatal(err)
	}
	rejects := tr.sentOfType(proto.TypeReject)
	if len(rejects) != 1 || rejects[0].msg.CallID != "some-call" {
		t.Fatalf("rejects: %+v", rejects)
	}
}

func TestCoordinatorIgnoresOfferWhileActive(t *testing.T) {
	tr := newFakeTransport()
	md := &fakeMedia{}
	c := NewCoordinator(tr, md, selfKey, nil)

	callID, err := c.InitiateCall(peerKey, proto.CallTypeVideo, func(media.Event) {})
	if err != nil {
		t.Fatal(err)
	}

	// Glare: the remote offers us a call on the same id we initiated.
	tr.deliverPeer(peerKey, inboundOffer(callID, proto.CallTypeVideo))
	if md.appliedCount() != 0 {
		t.Fatal("glare offer applied to the connection")
	}
	if c.ActiveCallID() != callID {
		t.Fatal("glare offer disturbed the active call")
	}
}
