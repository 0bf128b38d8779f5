package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/petervdpas/relaycall/internal/identity"
	"github.com/petervdpas/relaycall/internal/proto"
	"github.com/petervdpas/relaycall/internal/util"
)

const (
	// connectTimeout bounds one dial attempt to a discovered peer.
	connectTimeout = 3 * time.Second

	// defaultPublishTimeout bounds one publish to the signaling topic.
	defaultPublishTimeout = 5 * time.Second

	// defaultWindow is how far back (and forward, to tolerate clock
	// skew) a record timestamp may lie before the record is dropped as
	// stale. Gossipsub delivers live traffic only, so this mostly
	// guards replays and peers with a wrong clock.
	defaultWindow = 60 * time.Second

	// diagCap is how many recent transport events the diagnostics ring keeps.
	diagCap = 200
)

// ErrEncryptionUnavailable is surfaced when the local identity lacks
// the encryption capability needed to seal or open messages.
var ErrEncryptionUnavailable = identity.ErrEncryptionUnavailable

// ErrPublishTimeout is returned when the relay network did not accept a
// record within the publish timeout.
var ErrPublishTimeout = errors.New("relay: publish timed out")

// Bus is the raw record pipe the transport runs over. *Node implements
// it; tests substitute an in-memory loopback.
type Bus interface {
	Publish(ctx context.Context, data []byte) error
	Next(ctx context.Context) ([]byte, error)
}

// Options tune the transport. Zero values select defaults.
type Options struct {
	Window         time.Duration
	PublishTimeout time.Duration
}

// MessageHandler receives decrypted signaling messages from one peer.
// Alias so consumers can declare the transport as a local interface
// without importing this package's named types.
type MessageHandler = func(msg *proto.SignalingMessage)

// OfferHandler receives inbound offers from any peer, with the sender
// identity, before any per-peer subscription exists.
type OfferHandler = func(from string, msg *proto.SignalingMessage)

// Transport sends and receives encrypted SignalingMessages over the
// public signaling topic. One read loop fans records out to per-peer
// subscriptions and the process-wide offer subscription.
//
// Decrypt failures, malformed payloads, and records missing required
// fields are dropped without error: the topic is shared and noisy by
// design.
type Transport struct {
	bus    Bus
	id     identity.Provider
	self   string
	window time.Duration
	pubTO  time.Duration

	cancel context.CancelFunc

	subMu     sync.Mutex
	nextToken int
	peerSubs  map[int]peerSub
	offerSubs map[int]OfferHandler

	diag *util.RingBuffer[string]
}

type peerSub struct {
	peer string
	fn   MessageHandler
}

// NewTransport wires a transport to the bus and starts the read loop.
func NewTransport(bus Bus, id identity.Provider, opts Options) *Transport {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		bus:       bus,
		id:        id,
		self:      id.PublicKeyHex(),
		window:    opts.Window,
		pubTO:     opts.PublishTimeout,
		cancel:    cancel,
		peerSubs:  make(map[int]peerSub),
		offerSubs: make(map[int]OfferHandler),
		diag:      util.NewRingBuffer[string](diagCap),
	}
	go t.readLoop(ctx)
	return t
}

// Close stops the read loop. Registered handlers receive nothing after
// Close returns.
func (t *Transport) Close() {
	t.cancel()
}

// Send encrypts msg for the recipient identity and publishes it.
func (t *Transport) Send(ctx context.Context, recipient string, msg *proto.SignalingMessage) error {
	plain, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("relay: encode message: %w", err)
	}

	body, err := t.id.Seal(recipient, plain)
	if err != nil {
		if errors.Is(err, identity.ErrEncryptionUnavailable) {
			return ErrEncryptionUnavailable
		}
		return fmt.Errorf("relay: seal for %s: %w", short(recipient), err)
	}

	rec := proto.Record{
		To:   recipient,
		From: t.self,
		Hint: msg.CallType,
		Body: body,
		TS:   proto.NowMillis(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("relay: encode record: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, t.pubTO)
	defer cancel()

	if err := t.bus.Publish(pubCtx, data); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(pubCtx.Err(), context.DeadlineExceeded) {
			t.diagf("send %s to %s: publish timeout", msg.Type, short(recipient))
			return ErrPublishTimeout
		}
		return fmt.Errorf("relay: publish: %w", err)
	}

	t.diagf("send %s (call %s) to %s", msg.Type, short(msg.CallID), short(recipient))
	log.Printf("RELAY: sent %s (call %s) to %s", msg.Type, short(msg.CallID), short(recipient))
	return nil
}

// SubscribeToPeer registers a handler for messages authored by remote
// and addressed to the local identity. Returns an unsubscribe func.
func (t *Transport) SubscribeToPeer(remote string, fn MessageHandler) func() {
	t.subMu.Lock()
	token := t.nextToken
	t.nextToken++
	t.peerSubs[token] = peerSub{peer: remote, fn: fn}
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.peerSubs, token)
		t.subMu.Unlock()
	}
}

// SubscribeToOffers registers the process-wide handler that surfaces
// inbound Offer messages with their sender identity. Used to detect new
// incoming calls before any per-peer subscription exists.
func (t *Transport) SubscribeToOffers(fn OfferHandler) func() {
	t.subMu.Lock()
	token := t.nextToken
	t.nextToken++
	t.offerSubs[token] = fn
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.offerSubs, token)
		t.subMu.Unlock()
	}
}

// Diag returns the most recent transport events, oldest first.
func (t *Transport) Diag() []string {
	return t.diag.Snapshot()
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		data, err := t.bus.Next(ctx)
		if err != nil {
			return
		}
		t.handleRecord(data)
	}
}

// handleRecord filters, decrypts, and dispatches one raw record.
// Every reject path is silent: unrelated and garbled traffic on the
// shared topic is expected.
func (t *Transport) handleRecord(data []byte) {
	rec, ok := proto.DecodeRecord(data)
	if !ok {
		return
	}
	if rec.To != t.self || rec.From == t.self {
		return
	}

	// Stale or far-future records fall outside the subscription window.
	age := proto.NowMillis() - rec.TS
	if age > t.window.Milliseconds() || -age > t.window.Milliseconds() {
		t.diagf("drop record from %s: outside window (%dms)", short(rec.From), age)
		return
	}

	plain, err := t.id.Open(rec.From, rec.Body)
	if err != nil {
		t.diagf("drop record from %s: %v", short(rec.From), err)
		return
	}

	msg, err := proto.Decode(plain)
	if err != nil {
		t.diagf("drop record from %s: bad payload", short(rec.From))
		return
	}

	t.diagf("recv %s (call %s) from %s", msg.Type, short(msg.CallID), short(rec.From))

	t.subMu.Lock()
	var peerHandlers []MessageHandler
	for _, sub := range t.peerSubs {
		if sub.peer == rec.From {
			peerHandlers = append(peerHandlers, sub.fn)
		}
	}
	var offerHandlers []OfferHandler
	if msg.Type == proto.TypeOffer {
		for _, fn := range t.offerSubs {
			offerHandlers = append(offerHandlers, fn)
		}
	}
	t.subMu.Unlock()

	for _, fn := range peerHandlers {
		fn(msg)
	}
	for _, fn := range offerHandlers {
		fn(rec.From, msg)
	}
}

func (t *Transport) diagf(format string, args ...any) {
	ts := time.Now().Format("15:04:05")
	t.diag.Push(fmt.Sprintf("[%s] %s", ts, fmt.Sprintf(format, args...)))
}

// short truncates an identity or call id for log lines.
func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
