// Package media owns the local capture side of a call: transmit gating,
// deafen and per-peer output volume, and speaking detection.
package media

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Broadcaster sends a message to every member of the call's room.
type Broadcaster interface {
	Send(protocol.Message) error
}

// SinkSet enumerates the playback sinks of connected peers.
type SinkSet interface {
	EachSink(fn func(name string, sink core.AudioSink))
}

type SessionOptions struct {
	Detector DetectorConfig
	Clock    clock.Clock
	// Volumes is shared across sessions; nil creates a private store.
	Volumes *Volumes

	// Initial toggles, applied without announcing them.
	Muted      bool
	PushToTalk bool
	Deafened   bool
}

// Session is the Local Media Session of one call scope. It exclusively owns
// the capture stream; peers only hold references to its tracks.
type Session struct {
	stream   core.CaptureStream
	out      Broadcaster
	detector *Detector
	volumes  *Volumes

	mu        sync.Mutex
	sinks     SinkSet
	muted     bool
	deafened  bool
	pttMode   bool
	pttDown   bool
	transmit  bool
	preDeafen map[string]float64
	closed    bool
}

func NewSession(stream core.CaptureStream, out Broadcaster, opts SessionOptions) *Session {
	if opts.Volumes == nil {
		opts.Volumes = NewVolumes()
	}
	s := &Session{
		stream:    stream,
		out:       out,
		volumes:   opts.Volumes,
		muted:     opts.Muted,
		pttMode:   opts.PushToTalk,
		deafened:  opts.Deafened,
		transmit:  !opts.Muted && !opts.PushToTalk,
		preDeafen: make(map[string]float64),
	}
	s.detector = NewDetector(stream, opts.Detector, opts.Clock, s.onSpeaking)
	stream.SetEnabled(s.transmit)
	return s
}

// BindSinks connects the session to the peer registry that owns the sinks.
func (s *Session) BindSinks(set SinkSet) {
	s.mu.Lock()
	s.sinks = set
	s.mu.Unlock()
}

// Start begins speaking detection.
func (s *Session) Start() { s.detector.Start() }

func (s *Session) Tracks() []webrtc.TrackLocal { return s.stream.Tracks() }

func (s *Session) onSpeaking(speaking bool) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.send(protocol.SpeakingState(speaking))
}

func (s *Session) send(m protocol.Message) {
	if err := s.out.Send(m); err != nil {
		log.Warn().Err(err).Str("module", "media").Str("type", m.Type).Msg("broadcast failed")
	}
}

// applyLocked recomputes the transmit flag and reports a change to the room.
func (s *Session) applyLocked() {
	tx := !s.muted && (!s.pttMode || s.pttDown)
	s.stream.SetEnabled(tx)
	if tx == s.transmit {
		return
	}
	s.transmit = tx
	if !s.closed {
		s.send(protocol.MuteState(!tx))
	}
}

func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muted == muted {
		return
	}
	s.muted = muted
	s.applyLocked()
}

func (s *Session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Transmitting reports whether captured audio currently reaches peers.
func (s *Session) Transmitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transmit
}

// SetPushToTalkMode enabling forces transmit off until the key is held.
func (s *Session) SetPushToTalkMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pttMode = on
	s.pttDown = false
	s.applyLocked()
}

func (s *Session) PushToTalkMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pttMode
}

func (s *Session) SetPushToTalkActive(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pttMode {
		return
	}
	s.pttDown = down
	s.applyLocked()
}

func (s *Session) SetDeafened(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deafened == on {
		return
	}
	s.deafened = on
	if on {
		s.preDeafen = make(map[string]float64)
		s.eachSinkLocked(func(name string, sink core.AudioSink) {
			if _, ok := s.preDeafen[name]; !ok {
				s.preDeafen[name] = sink.Volume()
			}
			sink.SetVolume(0)
		})
		return
	}
	s.eachSinkLocked(func(name string, sink core.AudioSink) {
		v, ok := s.preDeafen[name]
		if !ok {
			v = s.volumes.Get(name)
		}
		sink.SetVolume(v)
	})
	s.preDeafen = make(map[string]float64)
}

func (s *Session) IsDeafened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deafened
}

// SetPeerVolume stores the clamped gain for name. While deafened the gain is
// only recorded and takes effect on undeafen.
func (s *Session) SetPeerVolume(name string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v = s.volumes.Set(name, v)
	if s.deafened {
		if _, ok := s.preDeafen[name]; ok {
			s.preDeafen[name] = v
		}
		return
	}
	s.eachSinkLocked(func(n string, sink core.AudioSink) {
		if n == name {
			sink.SetVolume(v)
		}
	})
}

// VolumeFor is the stored gain for name, ignoring deafen.
func (s *Session) VolumeFor(name string) float64 { return s.volumes.Get(name) }

// AttachSink sets the effective gain of a new sink and runs commit under the
// session lock so a concurrent deafen toggle cannot miss it. A false commit
// means the owner is gone and the sink is released.
func (s *Session) AttachSink(name string, sink core.AudioSink, commit func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.volumes.Get(name)
	if s.deafened {
		if _, ok := s.preDeafen[name]; !ok {
			s.preDeafen[name] = v
		}
		v = 0
	}
	sink.SetVolume(v)
	if commit != nil && !commit() {
		_ = sink.Release()
		return false
	}
	return true
}

// PreDeafenVolumes returns a copy of the deafen snapshot.
func (s *Session) PreDeafenVolumes() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.preDeafen))
	for k, v := range s.preDeafen {
		out[k] = v
	}
	return out
}

func (s *Session) eachSinkLocked(fn func(string, core.AudioSink)) {
	if s.sinks == nil {
		return
	}
	s.sinks.EachSink(fn)
}

// Close stops detection and every capture track. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.detector.Stop()
	return s.stream.Close()
}
