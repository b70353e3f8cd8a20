package core

import (
	"context"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// CaptureStream is the single local microphone capture. Peers only receive
// references to its tracks; the Local Media Session owns its lifetime.
type CaptureStream interface {
	Tracks() []webrtc.TrackLocal
	// SetEnabled gates transmission without releasing the device.
	SetEnabled(bool)
	// Samples copies the most recent mono samples in [-1,1] into dst.
	Samples(dst []float64) int
	// Close stops every track and releases the device. Idempotent.
	Close() error
}

type MediaCaptureProvider interface {
	Acquire(ctx context.Context) (CaptureStream, error)
}

// RemoteTrack is satisfied by *webrtc.TrackRemote.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// AudioSink is the receive-side playback handle of one peer.
type AudioSink interface {
	SetVolume(float64)
	Volume() float64
	// Release stops playback. Idempotent.
	Release() error
}

type AudioSinkFactory interface {
	NewSink(peer domain.PeerID, track RemoteTrack) (AudioSink, error)
}

type PeerConnection interface {
	// AddTrack attaches a local track by reference.
	AddTrack(webrtc.TrackLocal) error
	// CreateOffer creates and sets the local offer.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// ApplyOffer sets the remote offer and returns the local answer.
	ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	OnStateChange(func(domain.ConnectionState))
	// Close is idempotent.
	Close() error
}

type PeerConnectionFactory interface {
	NewConnection(peer domain.PeerID) (PeerConnection, error)
}
