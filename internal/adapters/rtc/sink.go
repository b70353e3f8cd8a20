package rtc

import (
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// AudioFrame is one received encoded packet with the gain to apply on decode.
type AudioFrame struct {
	Peer    domain.PeerID
	Payload []byte
	Gain    float64
}

// Playback consumes received frames; decoding and output are its concern.
type Playback func(AudioFrame)

// SinkFactory implements core.AudioSinkFactory with RTP reading sinks.
type SinkFactory struct {
	Playback Playback
}

func (f SinkFactory) NewSink(peer domain.PeerID, track core.RemoteTrack) (core.AudioSink, error) {
	s := &TrackSink{peer: peer, track: track, playback: f.Playback, done: make(chan struct{})}
	s.SetVolume(1)
	go s.run()
	return s, nil
}

// TrackSink reads one remote audio track until released or the track ends.
type TrackSink struct {
	peer     domain.PeerID
	track    core.RemoteTrack
	playback Playback

	gain     atomic.Uint64
	released atomic.Bool
	once     sync.Once
	done     chan struct{}
}

func (s *TrackSink) SetVolume(v float64) { s.gain.Store(math.Float64bits(v)) }

func (s *TrackSink) Volume() float64 { return math.Float64frombits(s.gain.Load()) }

func (s *TrackSink) Release() error {
	s.once.Do(func() {
		s.released.Store(true)
	})
	return nil
}

// Done is closed when the read loop exits.
func (s *TrackSink) Done() <-chan struct{} { return s.done }

func (s *TrackSink) run() {
	defer close(s.done)
	for {
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "rtc.sink").Str("peer", string(s.peer)).Msg("track read ended")
			}
			return
		}
		if s.released.Load() {
			return
		}
		if s.playback != nil && len(pkt.Payload) > 0 {
			s.playback(AudioFrame{Peer: s.peer, Payload: pkt.Payload, Gain: s.Volume()})
		}
	}
}
