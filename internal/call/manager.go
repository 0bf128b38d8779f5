package call

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/relaycall/internal/history"
	"github.com/petervdpas/relaycall/internal/identity"
	"github.com/petervdpas/relaycall/internal/media"
	"github.com/petervdpas/relaycall/internal/proto"
	"github.com/petervdpas/relaycall/internal/state"
)

// Deps are the collaborators a Manager needs. All are explicit — there
// is no ambient lookup.
type Deps struct {
	Transport Transport
	Media     Media
	History   Recorder
	Feed      *state.Feed
	Self      string
	Timers    Timers
}

// Manager is the session state machine. It owns the caller-visible
// lifecycle (idle/calling/ringing/connected/failed), the two protocol
// timers, and the history entry of the current attempt. At most one
// call may be pending or active at a time; inbound offers while busy
// are ignored entirely.
type Manager struct {
	timers  Timers
	tr      Transport
	media   Media
	coord   *Coordinator
	history Recorder
	feed    *state.Feed
	self    string

	mu           sync.Mutex
	st           state.CallState
	gen          uint64
	histID       string
	session      *state.Session
	pendingOffer *proto.SignalingMessage
	pendingFrom  string
	connectTimer *time.Timer
	ringTimer    *time.Timer
	unsubOffers  func()

	trackMu  sync.RWMutex
	trackFns []func(*webrtc.TrackRemote)
}

// NewManager wires the state machine and starts watching for inbound
// offers immediately.
func NewManager(d Deps) *Manager {
	if d.Timers.Connect <= 0 || d.Timers.Ring <= 0 {
		d.Timers = DefaultTimers()
	}
	m := &Manager{
		timers:  d.Timers,
		tr:      d.Transport,
		media:   d.Media,
		history: d.History,
		feed:    d.Feed,
		self:    d.Self,
		st:      state.StateIdle,
	}
	m.coord = NewCoordinator(d.Transport, d.Media, d.Self, m.handleRemoteEnd)
	m.unsubOffers = d.Transport.SubscribeToOffers(m.handleInboundOffer)
	return m
}

// OnRemoteTrack registers a handler fired for each inbound media track.
// Multiple handlers can be registered.
func (m *Manager) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	m.trackMu.Lock()
	m.trackFns = append(m.trackFns, fn)
	m.trackMu.Unlock()
}

// Snapshot returns the current caller-visible state.
func (m *Manager) Snapshot() state.Snapshot {
	return m.feed.Snapshot()
}

// busyLocked reports whether a call is pending or active. Failed is not
// busy: it is terminal and renderable, and a new call may start over it.
func (m *Manager) busyLocked() bool {
	return m.st == state.StateCalling || m.st == state.StateRinging || m.st == state.StateConnected
}

// StartCall initiates an outgoing call. Validation failures reject
// synchronously before any network action; media-acquisition failures
// end the attempt before an Offer is ever sent.
func (m *Manager) StartCall(ctx context.Context, remote, callType string) (string, error) {
	m.mu.Lock()
	if m.busyLocked() {
		m.mu.Unlock()
		return "", ErrBusy
	}
	if remote == m.self {
		m.mu.Unlock()
		return "", ErrSelfCall
	}
	if identity.ValidatePublicKey(remote) != nil {
		m.mu.Unlock()
		return "", ErrInvalidIdentity
	}

	m.gen++
	gen := m.gen
	m.st = state.StateCalling
	m.feed.SetState(state.StateCalling)
	m.histID = uuid.NewString()
	histID := m.histID
	m.mu.Unlock()

	if err := m.history.Record(history.Entry{
		ID:        histID,
		Peer:      remote,
		CallType:  callType,
		Direction: history.DirectionOutgoing,
		Status:    history.StatusCalling,
		StartTime: time.Now(),
	}); err != nil {
		log.Printf("HISTORY: record outgoing call: %v", err)
	}

	if err := m.media.AcquireLocalMedia(callType); err != nil {
		m.failCall(gen, err)
		return "", err
	}

	callID, err := m.coord.InitiateCall(remote, callType, m.sink(gen))
	if err != nil {
		m.failCall(gen, err)
		return "", err
	}

	m.mu.Lock()
	if gen == m.gen {
		m.session = &state.Session{
			CallID:     callID,
			RemotePeer: remote,
			CallType:   callType,
			Initiator:  true,
		}
		m.feed.SetSession(m.session)
		m.armConnectTimerLocked(gen)
	}
	m.mu.Unlock()

	return callID, nil
}

// handleInboundOffer surfaces a new incoming call, or drops the offer
// entirely when one is already pending or active. Duplicate offers for
// the pending call fall under the same busy guard.
func (m *Manager) handleInboundOffer(from string, msg *proto.SignalingMessage) {
	if from == m.self {
		return
	}

	m.mu.Lock()
	if m.busyLocked() {
		m.mu.Unlock()
		log.Printf("CALL [%s]: ignoring offer from %s — call already active", short(msg.CallID), short(from))
		return
	}

	m.gen++
	gen := m.gen
	m.st = state.StateRinging
	m.pendingOffer = msg
	m.pendingFrom = from
	m.feed.SetState(state.StateRinging)
	m.feed.SetIncoming(&state.IncomingCall{
		CallID:     msg.CallID,
		From:       from,
		CallType:   msg.CallType,
		ReceivedAt: time.Now(),
	})
	m.armRingTimerLocked(gen)
	m.mu.Unlock()

	log.Printf("CALL [%s]: incoming %s call from %s", short(msg.CallID), msg.CallType, short(from))
}

// Answer accepts the pending incoming call.
func (m *Manager) Answer(ctx context.Context) error {
	m.mu.Lock()
	if m.st != state.StateRinging || m.pendingOffer == nil {
		m.mu.Unlock()
		return ErrNoPendingCall
	}
	offer := m.pendingOffer
	from := m.pendingFrom
	m.pendingOffer = nil
	m.pendingFrom = ""
	m.stopRingTimerLocked()
	gen := m.gen
	m.st = state.StateCalling
	m.feed.SetState(state.StateCalling)
	m.feed.SetIncoming(nil)
	m.histID = uuid.NewString()
	histID := m.histID
	m.mu.Unlock()

	if err := m.history.Record(history.Entry{
		ID:        histID,
		Peer:      from,
		CallType:  offer.CallType,
		Direction: history.DirectionIncoming,
		Status:    history.StatusCalling,
		StartTime: time.Now(),
	}); err != nil {
		log.Printf("HISTORY: record incoming call: %v", err)
	}

	if err := m.media.AcquireLocalMedia(offer.CallType); err != nil {
		if rejErr := m.coord.RejectCall(ctx, from, offer.CallID, "media unavailable"); rejErr != nil {
			log.Printf("CALL [%s]: reject after media failure: %v", short(offer.CallID), rejErr)
		}
		m.failCall(gen, err)
		return err
	}

	if err := m.coord.AnswerCall(from, offer, m.sink(gen)); err != nil {
		m.failCall(gen, err)
		return err
	}

	m.mu.Lock()
	if gen == m.gen {
		m.session = &state.Session{
			CallID:     offer.CallID,
			RemotePeer: from,
			CallType:   offer.CallType,
			Initiator:  false,
		}
		m.feed.SetSession(m.session)
		m.armConnectTimerLocked(gen)
	}
	m.mu.Unlock()

	return nil
}

// Reject declines the pending incoming call.
func (m *Manager) Reject(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.st != state.StateRinging || m.pendingOffer == nil {
		m.mu.Unlock()
		return ErrNoPendingCall
	}
	offer := m.pendingOffer
	from := m.pendingFrom
	m.endLocked()
	m.resetLocked()
	m.mu.Unlock()

	m.recordTerminal(from, offer.CallType, history.DirectionIncoming, history.StatusRejected)
	return m.coord.RejectCall(ctx, from, offer.CallID, reason)
}

// HangUp ends the active call. Connected calls complete with a
// duration; a call still ringing at the far end is logged as missed.
func (m *Manager) HangUp(ctx context.Context) error {
	m.mu.Lock()
	if m.st != state.StateConnected && m.st != state.StateCalling {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	wasConnected := m.st == state.StateConnected
	histID := m.histID
	m.endLocked()
	m.resetLocked()
	m.mu.Unlock()

	status := history.StatusMissed
	if wasConnected {
		status = history.StatusCompleted
	}
	if histID != "" {
		if err := m.history.Finish(histID, status, time.Now()); err != nil {
			log.Printf("HISTORY: finish entry: %v", err)
		}
	}

	err := m.coord.Hangup(ctx)
	m.media.Cleanup()
	return err
}

// SetAudioEnabled toggles the outgoing audio track.
func (m *Manager) SetAudioEnabled(enabled bool) {
	m.media.SetAudioEnabled(enabled)
	ms := m.feed.Snapshot().Media
	ms.AudioEnabled = enabled
	m.feed.SetMedia(ms)
}

// SetVideoEnabled toggles the outgoing camera track.
func (m *Manager) SetVideoEnabled(enabled bool) {
	m.media.SetVideoEnabled(enabled)
	ms := m.feed.Snapshot().Media
	ms.VideoEnabled = enabled
	m.feed.SetMedia(ms)
}

// StartScreenShare substitutes the outgoing video with screen capture.
func (m *Manager) StartScreenShare() error {
	if err := m.media.StartScreenShare(); err != nil {
		return err
	}
	ms := m.feed.Snapshot().Media
	ms.ScreenSharing = true
	m.feed.SetMedia(ms)
	return nil
}

// StopScreenShare restores the camera track.
func (m *Manager) StopScreenShare() error {
	if err := m.media.StopScreenShare(); err != nil {
		return err
	}
	ms := m.feed.Snapshot().Media
	ms.ScreenSharing = false
	m.feed.SetMedia(ms)
	return nil
}

// Stats exposes connection statistics of the active call.
func (m *Manager) Stats() media.Stats {
	return m.media.Stats()
}

// Close stops offer watching and tears down any active call.
func (m *Manager) Close() {
	m.mu.Lock()
	unsub := m.unsubOffers
	m.unsubOffers = nil
	busy := m.busyLocked()
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if busy {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.HangUp(ctx); err != nil {
			log.Printf("CALL: hangup on close: %v", err)
		}
		return
	}
	m.coord.Cleanup()
	m.media.Cleanup()
}

// sink adapts media lifecycle events for one call attempt. The captured
// generation makes every late event — a timer racing completion, a
// close from a connection already replaced — a no-op.
func (m *Manager) sink(gen uint64) media.Sink {
	return func(ev media.Event) {
		switch ev.Kind {
		case media.EventRemoteTrack:
			m.trackMu.RLock()
			fns := make([]func(*webrtc.TrackRemote), len(m.trackFns))
			copy(fns, m.trackFns)
			m.trackMu.RUnlock()
			for _, fn := range fns {
				fn(ev.Track)
			}
		case media.EventConnected:
			m.handleConnected(gen)
		case media.EventFailed:
			m.failCall(gen, ev.Err)
		case media.EventClosed:
			m.handleClosed(gen)
		}
	}
}

func (m *Manager) handleConnected(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.st != state.StateCalling {
		m.mu.Unlock()
		return
	}
	m.stopConnectTimerLocked()
	m.st = state.StateConnected
	if m.session != nil {
		m.session.StartedAt = time.Now()
		m.feed.SetSession(m.session)
	}
	m.feed.SetState(state.StateConnected)
	histID := m.histID
	m.mu.Unlock()

	log.Printf("CALL: connected")
	if histID != "" {
		if err := m.history.UpdateStatus(histID, history.StatusConnected); err != nil {
			log.Printf("HISTORY: update status: %v", err)
		}
	}
}

// handleClosed reacts to the connection closing underneath us — the
// remote side going away without a Hangup message. A close we caused
// ourselves arrives with a stale generation and is ignored.
func (m *Manager) handleClosed(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.st != state.StateConnected {
		m.mu.Unlock()
		m.failCall(gen, nil)
		return
	}
	histID := m.histID
	m.endLocked()
	m.resetLocked()
	m.mu.Unlock()

	log.Printf("CALL: connection closed by remote")
	if histID != "" {
		if err := m.history.Finish(histID, history.StatusCompleted, time.Now()); err != nil {
			log.Printf("HISTORY: finish entry: %v", err)
		}
	}
	m.coord.Cleanup()
	m.media.Cleanup()
}

// handleRemoteEnd fires after the coordinator processed a remote Hangup
// or Reject. Only the recorded status differs between the two, and
// between them and a never-answered call.
func (m *Manager) handleRemoteEnd(re RemoteEnd) {
	m.mu.Lock()
	st := m.st
	histID := m.histID
	m.endLocked()
	m.resetLocked()
	m.mu.Unlock()

	var status string
	switch {
	case st == state.StateConnected:
		status = history.StatusCompleted
	case re.Rejected:
		status = history.StatusRejected
	default:
		status = history.StatusMissed
	}
	if histID != "" {
		if err := m.history.Finish(histID, status, time.Now()); err != nil {
			log.Printf("HISTORY: finish entry: %v", err)
		}
	}
	m.media.Cleanup()
}

// failCall drives any failure path to the terminal failed state. Safe
// to call with a stale generation (no-op).
func (m *Manager) failCall(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	histID := m.histID
	m.endLocked()
	m.st = state.StateFailed
	m.session = nil
	m.pendingOffer = nil
	m.pendingFrom = ""
	m.histID = ""
	m.feed.SetState(state.StateFailed)
	m.feed.SetSession(nil)
	m.feed.SetIncoming(nil)
	m.mu.Unlock()

	if cause != nil {
		log.Printf("CALL: failed: %v", cause)
	}
	if histID != "" {
		if err := m.history.Finish(histID, history.StatusFailed, time.Now()); err != nil {
			log.Printf("HISTORY: finish entry: %v", err)
		}
	}
	m.coord.Cleanup()
	m.media.Cleanup()
}

// recordTerminal writes a single already-terminal history entry, used
// for calls that end before an entry exists (reject, ring timeout).
func (m *Manager) recordTerminal(peer, callType, direction, status string) {
	now := time.Now()
	if err := m.history.Record(history.Entry{
		ID:        uuid.NewString(),
		Peer:      peer,
		CallType:  callType,
		Direction: direction,
		Status:    status,
		StartTime: now,
		EndTime:   now,
	}); err != nil {
		log.Printf("HISTORY: record %s call: %v", status, err)
	}
}

// endLocked advances the generation and stops both timers, so any
// in-flight timer or media event for the old attempt becomes a no-op.
func (m *Manager) endLocked() {
	m.gen++
	m.stopConnectTimerLocked()
	m.stopRingTimerLocked()
}

func (m *Manager) resetLocked() {
	m.st = state.StateIdle
	m.session = nil
	m.pendingOffer = nil
	m.pendingFrom = ""
	m.histID = ""
	m.feed.Reset()
}

func (m *Manager) armConnectTimerLocked(gen uint64) {
	m.stopConnectTimerLocked()
	m.connectTimer = time.AfterFunc(m.timers.Connect, func() {
		m.connectTimedOut(gen)
	})
}

func (m *Manager) connectTimedOut(gen uint64) {
	m.mu.Lock()
	expired := gen == m.gen && m.st == state.StateCalling
	m.mu.Unlock()
	if !expired {
		return
	}
	log.Printf("CALL: connect timeout after %s", m.timers.Connect)
	m.failCall(gen, ErrConnectTimeout)
}

func (m *Manager) armRingTimerLocked(gen uint64) {
	m.stopRingTimerLocked()
	m.ringTimer = time.AfterFunc(m.timers.Ring, func() {
		m.ringTimedOut(gen)
	})
}

// ringTimedOut auto-declines an incoming call left unanswered.
func (m *Manager) ringTimedOut(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.st != state.StateRinging || m.pendingOffer == nil {
		m.mu.Unlock()
		return
	}
	offer := m.pendingOffer
	from := m.pendingFrom
	m.endLocked()
	m.resetLocked()
	m.mu.Unlock()

	log.Printf("CALL [%s]: ring timeout after %s", short(offer.CallID), m.timers.Ring)
	m.recordTerminal(from, offer.CallType, history.DirectionIncoming, history.StatusRejected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.coord.RejectCall(ctx, from, offer.CallID, "unanswered"); err != nil {
		log.Printf("CALL [%s]: send reject on timeout: %v", short(offer.CallID), err)
	}
}

func (m *Manager) stopConnectTimerLocked() {
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
}

func (m *Manager) stopRingTimerLocked() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
}
