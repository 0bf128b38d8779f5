package media

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// EventKind labels one lifecycle event of the underlying connection.
type EventKind string

const (
	// EventLocalSignal carries a locally generated offer, answer, or
	// ICE candidate that must be forwarded to the remote peer.
	EventLocalSignal EventKind = "local-signal"

	// EventRemoteTrack fires once per inbound media track.
	EventRemoteTrack EventKind = "remote-track"

	// EventConnected fires exactly once when media flow is established.
	EventConnected EventKind = "connected"

	// EventClosed fires exactly once on teardown, local or remote
	// initiated. Resources are already released when it fires.
	EventClosed EventKind = "closed"

	// EventFailed fires on unrecoverable connection failure. It does
	// not close the connection; the owner must call Cleanup.
	EventFailed EventKind = "failed"
)

// Event is the single typed lifecycle notification the manager emits.
// Exactly one payload field is set, matching Kind.
type Event struct {
	Kind   EventKind
	Signal *Signal
	Track  *webrtc.TrackRemote
	Err    error
}

// Sink receives lifecycle events. Called from pion callback goroutines;
// implementations must be safe for concurrent use.
type Sink func(Event)

// Signal is one locally generated negotiation payload, opaque to the
// signaling layer.
type Signal struct {
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

// Payload serializes the signal for transport.
func (s *Signal) Payload() (json.RawMessage, error) {
	if s.Description != nil {
		return json.Marshal(s.Description)
	}
	return json.Marshal(s.Candidate)
}

// IsDescription reports whether the signal is an SDP description (as
// opposed to an ICE candidate).
func (s *Signal) IsDescription() bool { return s.Description != nil }
