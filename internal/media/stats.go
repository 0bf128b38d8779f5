package media

import (
	"log"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// pliInterval is how often a keyframe is requested for each remote
// video track. Without periodic PLIs a receiver that joins mid-stream
// (or loses a keyframe) can show a frozen or corrupted picture for a
// long time.
const pliInterval = 3 * time.Second

// TrackStats is cumulative accounting for one remote track.
type TrackStats struct {
	Kind    string
	SSRC    uint32
	Packets uint64
	Bytes   uint64
}

// Stats is a point-in-time snapshot of the connection.
type Stats struct {
	ConnectionState string

	// SelectedPair describes the active ICE candidate pair, empty
	// until one is nominated.
	SelectedPair string

	Tracks []TrackStats
}

type trackCounter struct {
	kind    string
	ssrc    uint32
	packets uint64
	bytes   uint64
}

func (tc *trackCounter) observe(p *rtp.Packet) {
	tc.packets++
	tc.bytes += uint64(p.MarshalSize())
}

type statsCollector struct {
	mu     sync.Mutex
	tracks map[uint32]*trackCounter
}

func newStatsCollector() *statsCollector {
	return &statsCollector{tracks: make(map[uint32]*trackCounter)}
}

func (s *statsCollector) counter(kind string, ssrc uint32) *trackCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.tracks[ssrc]
	if !ok {
		tc = &trackCounter{kind: kind, ssrc: ssrc}
		s.tracks[ssrc] = tc
	}
	return tc
}

func (s *statsCollector) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{}
	for _, tc := range s.tracks {
		out.Tracks = append(out.Tracks, TrackStats{
			Kind:    tc.kind,
			SSRC:    tc.ssrc,
			Packets: tc.packets,
			Bytes:   tc.bytes,
		})
	}
	return out
}

// watchTrack drains RTP from a remote track, counting packets and
// bytes, and keeps video fresh with periodic PLI requests. Both loops
// end with the connection context.
func (c *conn) watchTrack(track *webrtc.TrackRemote) {
	tc := c.stats.counter(track.Kind().String(), uint32(track.SSRC()))

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go c.pliLoop(uint32(track.SSRC()))
	}

	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			c.stats.mu.Lock()
			tc.observe(pkt)
			c.stats.mu.Unlock()
		}
	}()
}

func (c *conn) pliLoop(ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			err := c.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: ssrc},
			})
			if err != nil {
				log.Printf("MEDIA: PLI write failed: %v", err)
				return
			}
		}
	}
}
