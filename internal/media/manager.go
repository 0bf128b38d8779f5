// Package media owns local capture and the single underlying WebRTC
// peer connection. It is standalone: coupling to signaling happens only
// through the Sink events and the opaque signal payloads.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Call types accepted by AcquireLocalMedia.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// Options configure a Manager.
type Options struct {
	// ICEServers override the default public STUN server.
	ICEServers []string

	// VideoDisabled suppresses camera capture even for video calls
	// (platforms where capture is known broken).
	VideoDisabled bool
}

// Manager owns at most one live peer connection and the local capture
// session feeding it. CreateConnection destroys any predecessor first;
// that is the sole mutual-exclusion mechanism between call attempts.
type Manager struct {
	opts Options

	mu      sync.Mutex
	conn    *conn
	capture *captureSession
}

// conn is one live peer connection with its lifecycle bookkeeping.
type conn struct {
	pc        *webrtc.PeerConnection
	sink      Sink
	initiator bool

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	audioSender   *webrtc.RTPSender
	videoSender   *webrtc.RTPSender
	cameraTrack   webrtc.TrackLocal
	audioTrack    webrtc.TrackLocal
	screen        *screenSession
	stats         *statsCollector

	connectedOnce sync.Once
	closedOnce    sync.Once
	cleanupOnce   sync.Once
}

func NewManager(opts Options) *Manager {
	return &Manager{opts: opts}
}

// AcquireLocalMedia captures microphone audio and, for video calls,
// camera video. Failures are classified *Error values so the caller can
// render guidance; acquisition is never retried automatically.
func (m *Manager) AcquireLocalMedia(callType string) error {
	wantVideo := callType == CallTypeVideo && !m.opts.VideoDisabled

	cap, err := acquireMedia(wantVideo)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.capture != nil {
		m.capture.close()
	}
	m.capture = cap
	m.mu.Unlock()

	log.Printf("MEDIA: local media acquired (video=%v)", wantVideo)
	return nil
}

// CreateConnection builds the peer connection, wiring lifecycle events
// to sink. Any pre-existing connection is destroyed first. For the
// initiator the first emitted local signal is the offer; the responder
// emits its answer when the remote offer is applied.
func (m *Manager) CreateConnection(isInitiator bool, sink Sink) error {
	m.mu.Lock()
	if m.conn != nil {
		log.Printf("MEDIA: destroying previous connection before creating a new one")
		m.conn.cleanup()
	}

	c, err := m.newConn(isInitiator, sink)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.conn = c
	m.mu.Unlock()

	if isInitiator {
		if err := c.createOffer(); err != nil {
			m.Cleanup()
			return err
		}
	}
	return nil
}

func (m *Manager) newConn(isInitiator bool, sink Sink) (*conn, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if m.capture != nil {
		m.capture.populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not
	// immediately terminate the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	iceServers := m.opts.ICEServers
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		pc:        pc,
		sink:      sink,
		initiator: isInitiator,
		ctx:       ctx,
		cancel:    cancel,
		stats:     newStatsCollector(),
	}

	if m.capture != nil {
		for _, track := range m.capture.localTracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				log.Printf("MEDIA: AddTrack error: %v", err)
				continue
			}
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				c.audioSender = sender
				c.audioTrack = track
			case webrtc.RTPCodecTypeVideo:
				c.videoSender = sender
				c.cameraTrack = track
			}
		}
	} else {
		addRecvOnlyTransceivers(pc)
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		sink(Event{Kind: EventLocalSignal, Signal: &Signal{Candidate: &init}})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("MEDIA: remote track %s (ssrc=%d)", track.Kind(), track.SSRC())
		c.watchTrack(track)
		sink(Event{Kind: EventRemoteTrack, Track: track})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("MEDIA: connection state %s", s)
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.connectedOnce.Do(func() {
				sink(Event{Kind: EventConnected})
			})
		case webrtc.PeerConnectionStateFailed:
			sink(Event{Kind: EventFailed, Err: fmt.Errorf("media: connection failed")})
		case webrtc.PeerConnectionStateClosed:
			c.closedOnce.Do(func() {
				sink(Event{Kind: EventClosed})
			})
		}
	})

	return c, nil
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio
// so CreateOffer/CreateAnswer always produces valid m-lines with ICE
// credentials even without local capture.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("MEDIA: AddTransceiver(video) error: %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("MEDIA: AddTransceiver(audio) error: %v", err)
	}
}

func (c *conn) createOffer() error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("media: create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("media: set local description: %w", err)
	}
	c.sink(Event{Kind: EventLocalSignal, Signal: &Signal{Description: c.pc.LocalDescription()}})
	return nil
}

// ApplyRemoteSignal feeds a received offer, answer, or ICE candidate
// into the connection. Candidates arriving before the remote
// description are buffered and flushed once it lands, so any arrival
// order yields the same result.
func (m *Manager) ApplyRemoteSignal(payload json.RawMessage) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNoActiveConnection
	}

	// An SDP description has a "type" field; a candidate does not.
	var probe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(payload, &probe)

	if probe.Type != "" {
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(payload, &desc); err != nil {
			return fmt.Errorf("media: decode description: %w", err)
		}
		return c.applyRemoteDescription(desc)
	}

	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &cand); err != nil {
		return fmt.Errorf("media: decode candidate: %w", err)
	}
	return c.applyRemoteCandidate(cand)
}

func (c *conn) applyRemoteDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("media: set remote description: %w", err)
	}

	if !c.initiator && desc.Type == webrtc.SDPTypeOffer {
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("media: create answer: %w", err)
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("media: set local description: %w", err)
		}
		c.sink(Event{Kind: EventLocalSignal, Signal: &Signal{Description: c.pc.LocalDescription()}})
	}

	c.mu.Lock()
	c.remoteDescSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			log.Printf("MEDIA: buffered candidate rejected: %v", err)
		}
	}
	return nil
}

func (c *conn) applyRemoteCandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteDescSet {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("media: add candidate: %w", err)
	}
	return nil
}

// SetAudioEnabled pauses or resumes the outgoing audio track without
// renegotiation. No-op with a warning when there is no local stream.
func (m *Manager) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil || c.audioSender == nil {
		log.Printf("MEDIA: SetAudioEnabled(%v) ignored — no local audio track", enabled)
		return
	}

	var track webrtc.TrackLocal
	if enabled {
		track = c.audioTrack
	}
	if err := c.audioSender.ReplaceTrack(track); err != nil {
		log.Printf("MEDIA: SetAudioEnabled(%v) failed: %v", enabled, err)
	}
}

// SetVideoEnabled pauses or resumes the outgoing camera track without
// renegotiation. No-op with a warning when there is no local stream.
func (m *Manager) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil || c.videoSender == nil {
		log.Printf("MEDIA: SetVideoEnabled(%v) ignored — no local video track", enabled)
		return
	}

	var track webrtc.TrackLocal
	if enabled {
		track = c.cameraTrack
	}
	if err := c.videoSender.ReplaceTrack(track); err != nil {
		log.Printf("MEDIA: SetVideoEnabled(%v) failed: %v", enabled, err)
	}
}

// ReplaceOutgoingVideoTrack swaps the track behind the video sender.
// Passing nil pauses outgoing video. This is the only supported way to
// substitute video — callers never touch the sender directly.
func (m *Manager) ReplaceOutgoingVideoTrack(track webrtc.TrackLocal) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil || c.videoSender == nil {
		return ErrNoActiveConnection
	}
	return c.videoSender.ReplaceTrack(track)
}

// StartScreenShare substitutes the outgoing video track with a screen
// capture track. The camera track is restored by StopScreenShare, or
// automatically when the platform ends the capture.
func (m *Manager) StartScreenShare() error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil || c.videoSender == nil {
		return ErrNoActiveConnection
	}

	c.mu.Lock()
	already := c.screen != nil
	c.mu.Unlock()
	if already {
		return nil
	}

	scr, err := acquireScreen(func() {
		// Platform ended the capture (user clicked "stop sharing").
		if err := m.StopScreenShare(); err != nil {
			log.Printf("MEDIA: auto stop screen share: %v", err)
		}
	})
	if err != nil {
		return err
	}

	if err := m.ReplaceOutgoingVideoTrack(scr.track); err != nil {
		scr.close()
		return err
	}

	c.mu.Lock()
	c.screen = scr
	c.mu.Unlock()

	log.Printf("MEDIA: screen share started")
	return nil
}

// StopScreenShare restores the camera track. Idempotent.
func (m *Manager) StopScreenShare() error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return nil
	}

	c.mu.Lock()
	scr := c.screen
	c.screen = nil
	camera := c.cameraTrack
	c.mu.Unlock()
	if scr == nil {
		return nil
	}
	scr.close()

	if err := m.ReplaceOutgoingVideoTrack(camera); err != nil {
		return err
	}
	log.Printf("MEDIA: screen share stopped")
	return nil
}

// Stats returns a snapshot of the connection state and per-track
// packet accounting.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return Stats{ConnectionState: "none"}
	}
	s := c.stats.snapshot()
	s.ConnectionState = c.pc.ConnectionState().String()
	if sctp := c.pc.SCTP(); sctp != nil {
		if ice := sctp.Transport().ICETransport(); ice != nil {
			if pair, err := ice.GetSelectedCandidatePair(); err == nil && pair != nil {
				s.SelectedPair = pair.String()
			}
		}
	}
	return s
}

// Cleanup stops all tracks, closes the connection, and cancels the
// statistics and keyframe loops. Idempotent and safe from any state.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	c := m.conn
	cap := m.capture
	m.conn = nil
	m.capture = nil
	m.mu.Unlock()

	if c != nil {
		c.cleanup()
	}
	if cap != nil {
		cap.close()
	}
}

func (c *conn) cleanup() {
	c.cleanupOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		scr := c.screen
		c.screen = nil
		c.mu.Unlock()
		if scr != nil {
			scr.close()
		}

		if err := c.pc.Close(); err != nil {
			log.Printf("MEDIA: close connection: %v", err)
		}
		c.closedOnce.Do(func() {
			c.sink(Event{Kind: EventClosed})
		})
	})
}
