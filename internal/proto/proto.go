// Package proto defines the signaling wire format shared by the relay
// transport and the call coordinator. Messages are JSON prior to
// encryption; the record envelope around them is defined in record.go.
package proto

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	// SignalTopic is the gossipsub topic all signaling records flow over.
	SignalTopic = "relaycall.signal.v1"

	MdnsTag = "relaycall-mdns"
)

// Signaling message kinds. Exactly one Offer initiates a call ID; the
// other kinds are only meaningful in the context of a previously seen
// (or sent) Offer carrying the same call ID.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice-candidate"
	TypeHangup       = "hangup"
	TypeReject       = "reject"
)

// Call types carried by an Offer.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// SignalingMessage is the tagged union sent between two identities for
// one call attempt. Type and CallID are required on every variant;
// Timestamp is epoch milliseconds set by the sender.
type SignalingMessage struct {
	Type      string `json:"type"`
	CallID    string `json:"callId"`
	Timestamp int64  `json:"timestamp"`

	// Offer only.
	CallType string          `json:"callType,omitempty"`
	Offer    json.RawMessage `json:"offer,omitempty"`

	// Answer only.
	Answer json.RawMessage `json:"answer,omitempty"`

	// IceCandidate only.
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// Reject only. Optional human-readable reason.
	Reason string `json:"reason,omitempty"`
}

var errBadMessage = errors.New("signaling message missing type or callId")

// Decode parses a decrypted signaling payload. Anything without the two
// required fields is an error; callers drop such messages silently since
// the relay stream may carry unrelated traffic.
func Decode(data []byte) (*SignalingMessage, error) {
	var m SignalingMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Type == "" || m.CallID == "" {
		return nil, errBadMessage
	}
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeIceCandidate, TypeHangup, TypeReject:
	default:
		return nil, errBadMessage
	}
	return &m, nil
}

// Encode serializes a message, stamping the timestamp if unset.
func (m *SignalingMessage) Encode() ([]byte, error) {
	if m.Timestamp == 0 {
		m.Timestamp = NowMillis()
	}
	return json.Marshal(m)
}

func NowMillis() int64 { return time.Now().UnixMilli() }
