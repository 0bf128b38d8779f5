package proto

import "encoding/json"

// Record is the transport envelope published to the signaling topic.
// Body is the nacl/box ciphertext of an encoded SignalingMessage; To and
// From are hex public keys; Hint carries the call type so a receiver can
// render an incoming-call notification before decrypting the offer.
//
// The topic is public: records addressed to other identities, garbage
// records, and records that fail to decrypt are all expected noise and
// are dropped without logging an error.
type Record struct {
	To   string `json:"to"`
	From string `json:"from"`
	Hint string `json:"hint,omitempty"`
	Body []byte `json:"body"`
	TS   int64  `json:"ts"`
}

// DecodeRecord parses a raw pubsub payload. A record is only usable if
// it has both identity tags and a non-empty body.
func DecodeRecord(data []byte) (*Record, bool) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false
	}
	if r.To == "" || r.From == "" || len(r.Body) == 0 {
		return nil, false
	}
	return &r, true
}
