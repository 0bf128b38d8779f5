package media

import "github.com/pion/webrtc/v4"

// Platform capture contract. Each platform file provides:
//
//	acquireMedia(wantVideo bool) (*captureSession, error)
//	acquireScreen(onEnded func()) (*screenSession, error)
//
// captureSession additionally implements populate, localTracks, and
// close. Non-Linux platforms have no driver support and return
// UnsupportedEnvironment from both.

// screenSession is one live screen capture. onEnded fires when the
// platform terminates the capture out from under us.
type screenSession struct {
	track   webrtc.TrackLocal
	closeFn func()
}

func (s *screenSession) close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}
