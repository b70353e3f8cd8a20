package domain

import (
	"errors"
	"fmt"
	"io/fs"
)

type ErrorKind string

const (
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindDeviceNotFound     ErrorKind = "device_not_found"
	KindCaptureUnavailable ErrorKind = "capture_unavailable"
	KindNegotiationFailed  ErrorKind = "negotiation_failed"
	KindConnectionLost     ErrorKind = "connection_lost"
)

var (
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrDeviceNotFound     = errors.New("no capture device found")
	ErrCaptureUnavailable = errors.New("capture device unavailable")
	ErrNegotiationFailed  = errors.New("negotiation failed")
	ErrConnectionLost     = errors.New("connection lost")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindDeviceNotFound:
		return ErrDeviceNotFound
	case KindCaptureUnavailable:
		return ErrCaptureUnavailable
	case KindNegotiationFailed:
		return ErrNegotiationFailed
	case KindConnectionLost:
		return ErrConnectionLost
	}
	return nil
}

// Capture reports whether the kind halts a join attempt.
func (k ErrorKind) Capture() bool {
	return k == KindPermissionDenied || k == KindDeviceNotFound || k == KindCaptureUnavailable
}

// CallError is a classified failure. Peer is empty for capture errors.
type CallError struct {
	Kind ErrorKind
	Peer PeerID
	Err  error
}

func (e *CallError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("peer %s: %s: %v", e.Peer, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func NewPeerError(kind ErrorKind, peer PeerID, err error) *CallError {
	return &CallError{Kind: kind, Peer: peer, Err: err}
}

// ClassifyCaptureError maps a microphone acquisition failure onto one of the
// three capture kinds. Unknown errors become capture_unavailable.
func ClassifyCaptureError(err error) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) && ce.Kind.Capture() {
		return ce
	}
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, fs.ErrPermission):
		return &CallError{Kind: KindPermissionDenied, Err: err}
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, fs.ErrNotExist):
		return &CallError{Kind: KindDeviceNotFound, Err: err}
	default:
		return &CallError{Kind: KindCaptureUnavailable, Err: err}
	}
}
