// Package state holds the caller-visible call state and fans it out to
// subscribers. The call manager is the only writer; UI layers subscribe
// for rendering and never mutate.
package state

import (
	"sync"
	"time"
)

// CallState is the lifecycle state visible to the caller.
type CallState string

const (
	StateIdle      CallState = "idle"
	StateCalling   CallState = "calling"
	StateRinging   CallState = "ringing"
	StateConnected CallState = "connected"
	StateFailed    CallState = "failed"
)

// Session is the metadata of the active call attempt. StartedAt is set
// on connect, not on create.
type Session struct {
	CallID     string    `json:"call_id"`
	RemotePeer string    `json:"remote_peer"`
	CallType   string    `json:"call_type"`
	Initiator  bool      `json:"initiator"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
}

// MediaState mirrors the local track toggles. Mutated only by explicit
// user actions, never persisted.
type MediaState struct {
	AudioEnabled  bool `json:"audio_enabled"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

// IncomingCall describes a pending inbound offer awaiting accept/reject.
type IncomingCall struct {
	CallID     string    `json:"call_id"`
	From       string    `json:"from"`
	CallType   string    `json:"call_type"`
	ReceivedAt time.Time `json:"received_at"`
}

// Snapshot is one consistent view of everything a renderer needs.
type Snapshot struct {
	State    CallState     `json:"state"`
	Session  *Session      `json:"session,omitempty"`
	Media    MediaState    `json:"media"`
	Incoming *IncomingCall `json:"incoming,omitempty"`
}

// Feed is the single writer / many readers state holder.
type Feed struct {
	mu        sync.Mutex
	cur       Snapshot
	listeners []chan Snapshot
}

func NewFeed() *Feed {
	return &Feed{
		cur:       Snapshot{State: StateIdle, Media: MediaState{AudioEnabled: true, VideoEnabled: true}},
		listeners: make([]chan Snapshot, 0),
	}
}

// Snapshot returns a copy of the current state.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyLocked()
}

// SetState replaces the lifecycle state, updating the session copy if
// one is active.
func (f *Feed) SetState(s CallState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur.State = s
	f.notifyLocked()
}

// SetSession installs (or clears, with nil) the active session metadata.
func (f *Feed) SetSession(sess *Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur.Session = sess
	f.notifyLocked()
}

// SetMedia replaces the media toggle state.
func (f *Feed) SetMedia(m MediaState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur.Media = m
	f.notifyLocked()
}

// SetIncoming installs (or clears, with nil) the pending inbound call.
func (f *Feed) SetIncoming(ic *IncomingCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur.Incoming = ic
	f.notifyLocked()
}

// Reset returns the feed to idle with media toggles restored to their
// defaults, preserving nothing from the previous call.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur = Snapshot{State: StateIdle, Media: MediaState{AudioEnabled: true, VideoEnabled: true}}
	f.notifyLocked()
}

func (f *Feed) Subscribe() chan Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Snapshot, 16)
	f.listeners = append(f.listeners, ch)
	return ch
}

func (f *Feed) Unsubscribe(ch chan Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, listener := range f.listeners {
		if listener == ch {
			close(listener)
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}

func (f *Feed) copyLocked() Snapshot {
	snap := f.cur
	if f.cur.Session != nil {
		s := *f.cur.Session
		snap.Session = &s
	}
	if f.cur.Incoming != nil {
		ic := *f.cur.Incoming
		snap.Incoming = &ic
	}
	return snap
}

func (f *Feed) notifyLocked() {
	snap := f.copyLocked()
	for _, ch := range f.listeners {
		select {
		case ch <- snap:
		default:
		}
	}
}
