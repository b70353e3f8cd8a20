package mediatest

import (
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type FakeSink struct {
	Peer domain.PeerID

	gain     atomic.Uint64
	releases atomic.Int32
}

func NewFakeSink(peer domain.PeerID) *FakeSink {
	s := &FakeSink{Peer: peer}
	s.SetVolume(1)
	return s
}

func (s *FakeSink) SetVolume(v float64) { s.gain.Store(math.Float64bits(v)) }
func (s *FakeSink) Volume() float64     { return math.Float64frombits(s.gain.Load()) }

func (s *FakeSink) Release() error {
	s.releases.Add(1)
	return nil
}

func (s *FakeSink) Released() bool { return s.releases.Load() > 0 }

type FakeSinkFactory struct {
	mu    sync.Mutex
	Sinks []*FakeSink
}

func (f *FakeSinkFactory) NewSink(peer domain.PeerID, _ core.RemoteTrack) (core.AudioSink, error) {
	s := NewFakeSink(peer)
	f.mu.Lock()
	f.Sinks = append(f.Sinks, s)
	f.mu.Unlock()
	return s, nil
}

// For returns the sinks created for peer, oldest first.
func (f *FakeSinkFactory) For(peer domain.PeerID) []*FakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*FakeSink
	for _, s := range f.Sinks {
		if s.Peer == peer {
			out = append(out, s)
		}
	}
	return out
}

// FakeRemoteTrack is an audio track that has already ended.
type FakeRemoteTrack struct{ TrackID string }

func (t FakeRemoteTrack) ID() string                { return t.TrackID }
func (t FakeRemoteTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (t FakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}
