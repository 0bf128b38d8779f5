//go:build !linux || !cgo

package media

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// Camera/mic capture via pion/mediadevices requires platform drivers
// (V4L2/malgo on Linux). On other platforms calls run receive-only.

type captureSession struct{}

func (c *captureSession) populate(_ *webrtc.MediaEngine)  {}
func (c *captureSession) localTracks() []webrtc.TrackLocal { return nil }
func (c *captureSession) close()                          {}

func acquireMedia(bool) (*captureSession, error) {
	return nil, &Error{Kind: UnsupportedEnvironment, Err: errors.New("no capture drivers on this platform")}
}

func acquireScreen(func()) (*screenSession, error) {
	return nil, &Error{Kind: UnsupportedEnvironment, Err: errors.New("no screen capture on this platform")}
}
