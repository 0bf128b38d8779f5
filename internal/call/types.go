// Package call implements the signaling protocol core: the coordinator
// that maps lifecycle events to transport messages and media operations,
// and the session state machine visible to callers. Coupling to the
// concrete transport, media, and history layers is via the interfaces
// below only, so every protocol path is testable with fakes.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/petervdpas/relaycall/internal/history"
	"github.com/petervdpas/relaycall/internal/media"
	"github.com/petervdpas/relaycall/internal/proto"
)

// Input validation errors, rejected synchronously before any network
// action.
var (
	ErrSelfCall        = errors.New("call: cannot call your own identity")
	ErrInvalidIdentity = errors.New("call: identity is not a valid public key")
	ErrBusy            = errors.New("call: another call is already active")
	ErrNoPendingCall   = errors.New("call: no incoming call to act on")
	ErrNoActiveCall    = errors.New("call: no active call")

	// ErrConnectTimeout ends an attempt that never reached media flow.
	ErrConnectTimeout = errors.New("call: connection timed out")
)

// Transport delivers encrypted signaling messages. *relay.Transport
// implements it; tests substitute a loopback.
type Transport interface {
	Send(ctx context.Context, recipient string, msg *proto.SignalingMessage) error
	SubscribeToPeer(remote string, fn func(msg *proto.SignalingMessage)) func()
	SubscribeToOffers(fn func(from string, msg *proto.SignalingMessage)) func()
}

// Media is the capability surface of the peer connection manager.
// *media.Manager implements it; tests substitute a scripted fake.
type Media interface {
	AcquireLocalMedia(callType string) error
	CreateConnection(isInitiator bool, sink media.Sink) error
	ApplyRemoteSignal(payload json.RawMessage) error
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	StartScreenShare() error
	StopScreenShare() error
	Stats() media.Stats
	Cleanup()
}

// Recorder receives history mutations. *history.Store implements it.
// All mutations after creation are keyed by entry id.
type Recorder interface {
	Record(e history.Entry) error
	UpdateStatus(id, status string) error
	Finish(id, status string, end time.Time) error
}

// Timers hold the two protocol timeouts, overridable for tests.
type Timers struct {
	// Connect bounds offer-sent to media-connected.
	Connect time.Duration

	// Ring bounds inbound-offer-surfaced to user action.
	Ring time.Duration
}

// DefaultTimers returns the production timeouts.
func DefaultTimers() Timers {
	return Timers{Connect: 60 * time.Second, Ring: 45 * time.Second}
}
