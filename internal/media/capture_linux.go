//go:build linux && cgo

package media

import (
	"errors"
	"fmt"
	"log"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// captureSession holds the live local tracks and the codec selector that
// must populate the media engine of any connection carrying them.
type captureSession struct {
	selector *mediadevices.CodecSelector
	tracks   []mediadevices.Track
}

func (c *captureSession) populate(me *webrtc.MediaEngine) {
	c.selector.Populate(me)
}

func (c *captureSession) localTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

func (c *captureSession) close() {
	for _, t := range c.tracks {
		t.Close()
	}
}

func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// acquireMedia captures mic audio and, when wantVideo, camera video via
// pion/mediadevices (V4L2 + malgo).
//
// GetUserMedia fails as a unit if either track can't be opened, so for
// video calls try video+audio first, then video-only, then audio-only —
// a missing/busy microphone shouldn't prevent the camera from working
// and vice versa. Only total failure is an error, classified so the
// caller can tell the user what to fix.
func acquireMedia(wantVideo bool) (*captureSession, error) {
	selector, err := newCodecSelector()
	if err != nil {
		return nil, &Error{Kind: UnsupportedEnvironment, Err: err}
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Printf("MEDIA: no media devices found by pion/mediadevices")
	} else {
		for _, d := range devices {
			log.Printf("MEDIA: device — kind=%v label=%q", d.Kind, d.Label)
		}
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if wantVideo {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG — some cameras expose an MJPEG V4L2 node
				// that produces malformed JPEG frames, which poisons the
				// VP8 encoder. Raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				// Cap at 640×480 to bound VP8 encoding latency.
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("MEDIA: GetUserMedia (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Printf("MEDIA: local track ended: %v", err)
				}
			})
		}

		log.Printf("MEDIA: local media captured (%s) — %d tracks", a.label, len(tracks))
		return &captureSession{selector: selector, tracks: tracks}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no capture attempt ran")
	}
	return nil, classifyCaptureError(lastErr)
}

// acquireScreen captures the display as a VP8 video track. onEnded is
// called when the platform terminates the capture.
func acquireScreen(onEnded func()) (*screenSession, error) {
	selector, err := newCodecSelector()
	if err != nil {
		return nil, &Error{Kind: UnsupportedEnvironment, Err: err}
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: selector,
	})
	if err != nil {
		return nil, classifyCaptureError(err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return nil, &Error{Kind: DeviceNotFound, Err: fmt.Errorf("display capture yielded no video track")}
	}

	track := tracks[0]
	track.OnEnded(func(err error) {
		if err != nil {
			log.Printf("MEDIA: screen track ended: %v", err)
		}
		if onEnded != nil {
			onEnded()
		}
	})

	return &screenSession{
		track: track,
		closeFn: func() {
			for _, t := range stream.GetTracks() {
				t.Close()
			}
		},
	}, nil
}
