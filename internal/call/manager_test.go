package call

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/relaycall/internal/history"
	"github.com/petervdpas/relaycall/internal/media"
	"github.com/petervdpas/relaycall/internal/proto"
	"github.com/petervdpas/relaycall/internal/state"
)

var (
	selfKey  = strings.Repeat("aa", 32)
	peerKey  = strings.Repeat("bb", 32)
	otherKey = strings.Repeat("cc", 32)
)

type sentMsg struct {
	to  string
	msg *proto.SignalingMessage
}

// fakeTransport records sends and lets tests inject inbound traffic.
type fakeTransport struct {
	mu        sync.Mutex
	sent      []sentMsg
	sendErr   error
	nextToken int
	peerSubs  map[int]struct {
		peer string
		fn   func(*proto.SignalingMessage)
	}
	offerSubs map[int]func(string, *proto.SignalingMessage)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		peerSubs: make(map[int]struct {
			peer string
			fn   func(*proto.SignalingMessage)
		}),
		offerSubs: make(map[int]func(string, *proto.SignalingMessage)),
	}
}

func (f *fakeTransport) Send(_ context.Context, to string, msg *proto.SignalingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMsg{to: to, msg: msg})
	return nil
}

func (f *fakeTransport) SubscribeToPeer(remote string, fn func(*proto.SignalingMessage)) func() {
	f.mu.Lock()
	token := f.nextToken
	f.nextToken++
	f.peerSubs[token] = struct {
		peer string
		fn   func(*proto.SignalingMessage)
	}{remote, fn}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.peerSubs, token)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) SubscribeToOffers(fn func(string, *proto.SignalingMessage)) func() {
	f.mu.Lock()
	token := f.nextToken
	f.nextToken++
	f.offerSubs[token] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.offerSubs, token)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) deliverPeer(from string, msg *proto.SignalingMessage) {
	f.mu.Lock()
	var fns []func(*proto.SignalingMessage)
	for _, sub := range f.peerSubs {
		if sub.peer == from {
			fns = append(fns, sub.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (f *fakeTransport) deliverOffer(from string, msg *proto.SignalingMessage) {
	f.mu.Lock()
	var fns []func(string, *proto.SignalingMessage)
	for _, fn := range f.offerSubs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(from, msg)
	}
}

func (f *fakeTransport) sentOfType(typ string) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, s := range f.sent {
		if s.msg.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeMedia is a scripted peer connection manager. Tests drive the
// lifecycle by emitting events through the captured sink.
type fakeMedia struct {
	mu         sync.Mutex
	acquireErr error
	createErr  error
	acquired   []string
	initiator  bool
	sink       media.Sink
	applied    []json.RawMessage
	cleanups   int
}

func (f *fakeMedia) AcquireLocalMedia(callType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = append(f.acquired, callType)
	return nil
}

func (f *fakeMedia) CreateConnection(isInitiator bool, sink media.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.initiator = isInitiator
	f.sink = sink
	return nil
}

func (f *fakeMedia) ApplyRemoteSignal(payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sink == nil {
		return media.ErrNoActiveConnection
	}
	f.applied = append(f.applied, payload)
	return nil
}

func (f *fakeMedia) SetAudioEnabled(bool)  {}
func (f *fakeMedia) SetVideoEnabled(bool)  {}
func (f *fakeMedia) StartScreenShare() error { return nil }
func (f *fakeMedia) StopScreenShare() error  { return nil }
func (f *fakeMedia) Stats() media.Stats      { return media.Stats{} }

func (f *fakeMedia) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	f.sink = nil
}

func (f *fakeMedia) emit(ev media.Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (f *fakeMedia) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func localOffer() media.Event {
	return media.Event{Kind: media.EventLocalSignal, Signal: &media.Signal{
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"},
	}}
}

func localAnswer() media.Event {
	return media.Event{Kind: media.EventLocalSignal, Signal: &media.Signal{
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"},
	}}
}

func localCandidate() media.Event {
	return media.Event{Kind: media.EventLocalSignal, Signal: &media.Signal{
		Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 4444 typ host"},
	}}
}

func inboundOffer(callID, callType string) *proto.SignalingMessage {
	return &proto.SignalingMessage{
		Type:      proto.TypeOffer,
		CallID:    callID,
		Timestamp: proto.NowMillis(),
		CallType:  callType,
		Offer:     json.RawMessage(`{"type":"offer","sdp":"v=0 remote"}`),
	}
}

type fixture struct {
	tr    *fakeTransport
	md    *fakeMedia
	store *history.Store
	feed  *state.Feed
	mgr   *Manager
}

func newFixture(t *testing.T, timers Timers) *fixture {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		tr:    newFakeTransport(),
		md:    &fakeMedia{},
		store: store,
		feed:  state.NewFeed(),
	}
	f.mgr = NewManager(Deps{
		Transport: f.tr,
		Media:     f.md,
		History:   store,
		Feed:      f.feed,
		Self:      selfKey,
		Timers:    timers,
	})
	t.Cleanup(f.mgr.Close)
	return f
}

func (f *fixture) waitState(t *testing.T, want state.CallState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.feed.Snapshot().State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state never reached %s (is %s)", want, f.feed.Snapshot().State)
}

func (f *fixture) entries(t *testing.T) []history.Entry {
	t.Helper()
	entries, err := f.store.List(0)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestOutgoingCallLifecycle(t *testing.T) {
	f := newFixture(t, DefaultTimers())
	ctx := context.Background()

	callID, err := f.mgr.StartCall(ctx, peerKey, proto.CallTypeVideo)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.feed.Snapshot().State; got != state.StateCalling {
		t.Fatalf("state = %s, want calling", got)
	}
	if len(f.md.acquired) != 1 || f.md.acquired[0] != proto.CallTypeVideo {
		t.Fatalf("media acquisition: %v", f.md.acquired)
	}
	if !f.md.initiator {
		t.Fatal("connection not created as initiator")
	}

	// The first local description goes out as the Offer.
	f.md.emit(localOffer())
	offers := f.tr.sentOfType(proto.TypeOffer)
	if len(offers) != 1 {
		t.Fatalf("offers sent: %d", len(offers))
	}
	if offers[0].to != peerKey || offers[0].msg.CallID != callID || offers[0].msg.CallType != proto.CallTypeVideo {
		t.Fatalf("bad offer: %+v", offers[0])
	}

	// Candidates follow as IceCandidate, never a second Offer.
	f.md.emit(localCandidate())
	if len(f.tr.sentOfType(proto.TypeIceCandidate)) != 1 {
		t.Fatal("candidate not forwarded")
	}
	if len(f.tr.sentOfType(proto.TypeOffer)) != 1 {
		t.Fatal("second offer emitted")
	}

	// Remote answer lands on the connection.
	f.tr.deliverPeer(peerKey, &proto.SignalingMessage{
		Type: proto.TypeAnswer, CallID: callID,
		Answer: json.RawMessage(`{"type":"answer","sdp":"v=0 remote"}`),
	})
	if f.md.appliedCount() != 1 {
		t.Fatalf("answer not applied: %d", f.md.appliedCount())
	}

	f.md.emit(media.Event{Kind: media.EventConnected})
	if got := f.feed.Snapshot().State; got != state.StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	snap := f.feed.Snapshot()
	if snap.Session == nil || snap.Session.StartedAt.IsZero() {
		t.Fatal("session start not stamped on connect")
	}

	// One entry, updated in place: calling → connected.
	entries := f.entries(t)
	if len(entries) != 1 {
		t.Fatalf("history entries: %d", len(entries))
	}
	if entries[0].Status != history.StatusConnected {
		t.Fatalf("history status = %s", entries[0].Status)
	}
	entryID := entries[0].ID

	if err := f.mgr.HangUp(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.feed.Snapshot().State; got != state.StateIdle {
		t.Fatalf("state after hangup = %s", got)
	}
	if len(f.tr.sentOfType(proto.TypeHangup)) != 1 {
		t.Fatal("hangup not sent")
	}

	entries = f.entries(t)
	if len(entries) != 1 || entries[0].ID != entryID {
		t.Fatalf("history rewritten: %+v", entries)
	}
	if entries[0].Status != history.StatusCompleted {
		t.Fatalf("final status = %s", entries[0].Status)
	}
	if entries[0].Duration < 0 {
		t.Fatalf("negative duration: %d", entries[0].Duration)
	}
	if f.md.cleanups == 0 {
		t.Fatal("media never cleaned up")
	}
}

func TestSelfCallRejected(t *testing.T) {
	f := newFixture(t, DefaultTimers())

	if _, err := f.mgr.StartCall(context.Background(), selfKey, proto.CallTypeAudio); !errors.Is(err, ErrSelfCall) {
		t.Fatalf("want ErrSelfCall, got %v", err)
	}
	if f.tr.sentCount() != 0 {
		t.Fatal("network traffic for a self-call")
	}
	if got := f.feed.Snapshot().State; got != state.StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if len(f.entries(t)) != 0 {
		t.Fatal("history entry for a self-call")
	}
}

func TestInvalidIdentityRejected(t *testing.T) {
	f := newFixture(t, DefaultTimers())

	if _, err := f.mgr.StartCall(context.Background(), "not-a-key", proto.CallTypeAudio); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("want ErrInvalidIdentity, got %v", err)
	}
	if f.tr.sentCount() != 0 {
		t.Fatal("network traffic for an invalid identity")
	}
}

func TestMediaFailureBeforeOffer(t *testing.T) {
	f := newFixture(t, DefaultTimers())
	f.md.acquireErr = &media.Error{Kind: media.PermissionDenied, Err: errors.New("denied")}

	_, err := f.mgr.StartCall(context.Background(), peerKey, proto.CallTypeVideo)
	if media.KindOf(err) != media.PermissionDenied {
		t.Fatalf("want classified media error, got %v", err)
	}
	if got := f.feed.Snapshot().State; got != state.StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if len(f.tr.sentOfType(proto.TypeOffer)) != 0 {
		t.Fatal("offer sent despite media failure")
	}

	entries := f.entries(t)
	if len(entries) != 1 || entries[0].Status != history.StatusFailed {
		t.Fatalf("history: %+v", entries)
	}
}

func TestOfferIgnoredWhileBusy(t *testing.T) {
	f := newFixture(t, DefaultTimers())

	if _, err := f.mgr.StartCall(context.Background(), peerKey, proto.CallTypeAudio); err != nil {
		t.Fatal(err)
	}

	f.tr.deliverOffer(otherKey, inboundOffer("intruder", proto.CallTypeVideo))

	snap := f.feed.Snapshot()
	if snap.State != state.StateCalling {
		t.Fatalf("state = %s, want calling", snap.State)
	}
	if snap.Incoming != nil {
		t.Fatal("incoming call surfaced while busy")
	}
	if len(f.entries(t)) != 1 {
		t.Fatal("history entry for the ignored offer")
	}
}

func TestCallIDIsolation(t *testing.T) {
	f := newFixture(t, DefaultTimers())
	ctx := context.Background()

	callID, err := f.mgr.StartCall(ctx, peerKey, proto.CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}
	f.md.emit(localOffer())

	// Messages for a different call id must not touch anything.
	f.tr.deliverPeer(peerKey, &proto.SignalingMessage{
		Type: proto.TypeAnswer, CallID: "stale-call",
		Answer: json.RawMessage(`{"type":"answer","sdp":"x"}`),
	})
	if f.md.appliedCount() != 0 {
		t.Fatal("stale answer applied")
	}

	f.tr.deliverPeer(peerKey, &proto.SignalingMessage{Type: proto.TypeHangup, CallID: "stale-call"})
	if got := f.feed.Snapshot().State; got != state.StateCalling {
		t.Fatalf("stale hangup mutated state: %s", got)
	}

	// The real call id still works.
	f.tr.deliverPeer(peerKey, &proto.SignalingMessage{
		Type: proto.TypeAnswer, CallID: callID,
		Answer: json.RawMessage(`{"type":"answer","sdp":"y"}`),
	})
	if f.md.appliedCount() != 1 {
		t.Fatal("matching answer dropped")
	}
}

func TestSignalOrderTolerance(t *testing.T) {
	deliver := func(t *testing.T, order []string) {
		f := newFixture(t, DefaultTimers())
		callID, err := f.mgr.StartCall(context.Background(), peerKey, proto.CallTypeAudio)
		if err != nil {
			t.Fatal(err)
		}
		f.md.emit(localOffer())

		for _, typ := range order {
			switch typ {
			case proto.TypeAnswer:
				f.tr.deliverPeer(peerKey, &proto.SignalingMessage{
					Type: proto.TypeAnswer, CallID: callID,
					Answer: json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
				})
			case proto.TypeIceCandidate:
				f.tr.deliverPeer(peerKey, &proto.SignalingMessage{
					Type: proto.TypeIceCandidate, CallID: callID,
					Candidate: json.RawMessage(`{"candidate":"candidate:1"}`),
				})
			}
		}
		if f.md.appliedCount() != len(order) {
			t.Fatalf("applied %d of %d signals", f.md.appliedCount(), len(order))
		}

		f.md.emit(media.Event{Kind: media.EventConnected})
		if got := f.feed.Snapshot().State; got != state.StateConnected {
			t.Fatalf("state = %s, want connected", got)
		}
	}

	t.Run("answer first", func(t *testing.T) {
		deliver(t, []string{proto.TypeAnswer, proto.TypeIceCandidate, proto.TypeIceCandidate})
	})
	t.Run("candidates first", func(t *testing.T) {
		deliver(t, []string{proto.TypeIceCandidate, proto.TypeIceCandidate, proto.TypeAnswer})
	})
	t.Run("interleaved", func(t *testing.T) {
		deliver(t, []string{proto.TypeIceCandidate, proto.TypeAnswer, proto.TypeIceCandidate})
	})
}

func TestIncomingCallAnswer(t *testing.T) {
	f := newFixture(t, DefaultTimers())
	ctx := context.Background()

	f.tr.deliverOffer(peerKey, inboundOffer("in-1", proto.CallTypeVideo))

	snap := f.feed.Snapshot()
	if snap.State != state.StateRinging {
		t.Fatalf("state = %s, want ringing", snap.State)
	}
	if snap.Incoming == nil || snap.Incoming.CallID != "in-1" || snap.Incoming.From != peerKey {
		t.Fatalf("incoming descriptor: %+v", snap.Incoming)
	}
	// No history entry while merely ringing.
	if len(f.entries(t)) != 0 {
		t.Fatal("history entry before answer")
	}

	if err := f.mgr.Answer(ctx); err != nil {
		t.Fatal(err)
	}
	if f.md.initiator {
		t.Fatal("answered call created as initiator")
	}
	// The remote offer was fed into the connection.
	if f.md.appliedCount() != 1 {
		t.Fatalf("offer not applied: %d", f.md.appliedCount())
	}

	// Local answer goes back out.
	f.md.emit(localAnswer())
	answers := f.tr.sentOfType(proto.TypeAnswer)
	if len(answers) != 1 || answers[0].msg.CallID != "in-1" {
		t.Fatalf("answers sent: %+v", answers)
	}

	f.md.emit(media.Event{Kind: media.EventConnected})
	if got := f.feed.Snapshot().State; got != state.StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	entries := f.entries(t)
	if len(entries) != 1 || entries[0].Direction != history.DirectionIncoming {
		t.Fatalf("history: %+v", entries)
	}
}

func TestDuplicateOfferIsNoOp(t *testing.T) {
	f := newFixture(t, DefaultTimers())

	offer := inboundOffer("dup-1", proto.CallTypeAudio)
	f.tr.deliverOffer(peerKey, offer)
	first := f.feed.Snapshot()

	// Network duplicate of the same offer.
	f.tr.deliverOffer(peerKey, offer)
	second := f.feed.Snapshot()

	if second.State != state.StateRinging {
		t.Fatalf("state = %s", second.State)
	}
	if first.Incoming == nil || second.Incoming == nil ||
		first.Incoming.CallID != second.Incoming.CallID ||
		!first.Incoming.ReceivedAt.Equal(second.Incoming.ReceivedAt) {
		t.Fatalf("duplicate offer mutated the pending call: %+v vs %+v", first.Incoming, second.Incoming)
	}
	if len(f.entries(t)) != 0 {
		t.Fatal("history entry for duplicate offer")
	}
}

func TestRejectIncomingCall(t *testing.T) {
	f := newFixture(t, DefaultTimers())
	ctx := context.Background()

	f.tr.deliverOffer(peerKey, inboundOffer("rej-1", proto.CallTypeAudio))
	if err := f.mgr.Reject(ctx, "busy right now"); err != nil {
		t.Fatal(err)
	}

	if got := f.feed.Snapshot().State; got != state.StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	rejects := f.tr.sentOfType(proto.TypeReject)
	if len(rejects) != 1 || rejects[0].msg.CallID != "rej-1" || rejects[0].msg.Reason != "busy right now" {
		t.Fatalf("rejects: %+v", rejects)
	}

	entries := f.entries(t)
	if len(entries) != 1 || entries[0].Status != history.StatusRejected || entries[0].Duration != 0 {
		t.Fatalf("history: %+v", entries)
	}
}

func TestRingTimeout(t *testing.T) {
	f := newFixture(t, Timers{Connect: time.Minute, Ring: 80 * time.Millisecond})

	f.tr.deliverOffer(peerKey, inboundOffer("late-1", proto.CallTypeVideo))
	if got := f.feed.Snapshot().State; got != state.StateRinging {
		t.Fatalf("state = %s", got)
	}

	f.waitState(t, state.StateIdle)

	entries := f.entries(t)
	if len(entries) != 1 || entries[0].Status != history.StatusRejected || entries[0].Duration != 0 {
		t.Fatalf("history: %+v", entries)
	}
	if len(f.tr.sentOfType(proto.TypeReject)) != 1 {
		t.Fatal("reject not sent on ring timeout")
	}
}

func TestConnectTimeout(t *testing.T) {
	f := newFixture(t, Timers{Connect: 80 * time.Millisecond, Ring: time.Minute})

	if _, err := f.mgr.StartCall(context.Background(), peerKey, proto.CallTypeAudio); err != nil {
		t.Fatal(err)
	}
	f.md.emit(localOffer())

	f.waitState(t, state.StateFailed)

	entries := f.entries(t)
	if len(entries) != 1 || entries[0].Status != history.StatusFailed {
		t.Fatalf("history: %+v", entries)
	}
	if f.md.cleanups == 0 {
		t.Fatal("media not cleaned up on timeout")
	}

	t.Run("late connect is a no-op", func(t *testing.T) {
		f.md.emit(media.Event{Kind: media.EventConnected})
		if got := f.feed.Snapshot().State; got != state.StateFailed {
			t.Fatalf("late connect resurrected the call: %s", got)
		}
	})
}

func TestTimerCancelledOnConnect(t *testing.T) {
	f := newFixture(t, Timers{Connect: 80 * time.Millisecond, Ring: time.Minute})

	callID, err := f.mgr.StartCall(context.Background(), peerKey, proto.CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}
	f.md.emit(localOffer())
	f.tr.deliverPeer(peerKey, &proto.SignalingMessage{
		Type: proto.TypeAnswer, CallID: callID,
		Answer: json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	})
	f.md.emit(media.Event{Kind: media.EventConnected})

	// Wait past the timeout; the connected call must survive.
	time.Sleep(200 * time.Millisecond)
	if got := f.feed.Snapshot().State; got != state.StateConnected {
		t.Fatalf("timer fired after connect: %s", got)
	}
}

func TestRemoteHangup(t *testing.T) {
	f := newFixture(t, DefaultTimers())

	callID, err := f.mgr.StartCall(context.Background(), peerKey, proto.CallTypeVideo)
	if err != nil {
		t.Fatal(err)
	}
	f.md.emit(localOffer())
	f.md.emit(media.Event{Kind: media.EventConnected})

	f.tr.deliverPeer(peerKey, &proto.SignalingMessage{Type: proto.TypeHangup, CallID: callID})

	if got := f.feed.Snapshot().State; got != state.StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	entries := f.entries(t)
	if len(entries) != 1 || entries[0].Status != history.StatusCompleted {
		t.Fatalf("history: %+v", entries)
	}
	if f.md.cleanups == 0 {
		t.Fatal("media not cleaned up")
	}
}

func TestRemoteReject(t *testing.T) {
	f := newFixture(t, DefaultTimers())

	callID, err := f.mgr.StartCall(context.Background(), peerKey, proto.CallTypeVideo)
	if err != nil {
		t.Fatal(err)
	}
	f.md.emit(localOffer())

	f.tr.deliverPeer(peerKey, &proto.SignalingMessage{
		Type: proto.TypeReject, CallID: callID, Reason: "declined",
	})

	if got := f.feed.Snapshot().State; got != state.StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	entries := f.entries(t)
	if len(entries) != 1 || entries[0].Status != history.StatusRejected {
		t.Fatalf("history: %+v", entries)
	}
}

func TestStartCallWhileBusy(t *testing.T) {
	f := newFixture(t, DefaultTimers())
	ctx := context.Background()

	if _, err := f.mgr.StartCall(ctx, peerKey, proto.CallTypeAudio); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.StartCall(ctx, otherKey, proto.CallTypeAudio); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
}

func TestHangupWithoutCall(t *testing.T) {
	f := newFixture(t, DefaultTimers())

	if err := f.mgr.HangUp(context.Background()); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("want ErrNoActiveCall, got %v", err)
	}
	if err := f.mgr.Answer(context.Background()); !errors.Is(err, ErrNoPendingCall) {
		t.Fatalf("want ErrNoPendingCall, got %v", err)
	}
	if err := f.mgr.Reject(context.Background(), ""); !errors.Is(err, ErrNoPendingCall) {
		t.Fatalf("want ErrNoPendingCall, got %v", err)
	}
}
