package media

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoActiveConnection is returned by ApplyRemoteSignal before
// CreateConnection has been called.
var ErrNoActiveConnection = errors.New("media: no active connection")

// ErrorKind classifies a media-acquisition failure so the caller can
// render actionable guidance. Each kind maps to a different user action
// (grant permission, close the other app, plug in a device, move to a
// supported platform); none is retried automatically.
type ErrorKind string

const (
	PermissionDenied       ErrorKind = "permission-denied"
	DeviceNotFound         ErrorKind = "device-not-found"
	DeviceInUse            ErrorKind = "device-in-use"
	InsecureContext        ErrorKind = "insecure-context"
	UnsupportedEnvironment ErrorKind = "unsupported-environment"
)

// Error is a classified media failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media: %s", e.Kind)
	}
	return fmt.Sprintf("media: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, or "" if err is not a
// media error.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// classifyCaptureError maps driver error text onto an ErrorKind. The
// capture drivers return plain errors, so substring matching is all we
// have; anything unrecognized counts as a missing device.
func classifyCaptureError(err error) *Error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "not permitted") || strings.Contains(msg, "access denied"):
		return &Error{Kind: PermissionDenied, Err: err}
	case strings.Contains(msg, "device or resource busy") || strings.Contains(msg, "in use") || strings.Contains(msg, "busy"):
		return &Error{Kind: DeviceInUse, Err: err}
	case strings.Contains(msg, "not implemented") || strings.Contains(msg, "not supported") || strings.Contains(msg, "unsupported"):
		return &Error{Kind: UnsupportedEnvironment, Err: err}
	default:
		return &Error{Kind: DeviceNotFound, Err: err}
	}
}
