// Package mediatest provides in-memory fakes of the capture, connection and
// playback interfaces for tests.
package mediatest

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/pion/webrtc/v4"
)

type FakeProvider struct {
	Err error

	mu      sync.Mutex
	Streams []*FakeStream
}

func (p *FakeProvider) Acquire(ctx context.Context) (core.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}
	s := NewFakeStream()
	p.mu.Lock()
	p.Streams = append(p.Streams, s)
	p.mu.Unlock()
	return s, nil
}

// Last returns the most recently acquired stream.
func (p *FakeProvider) Last() *FakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Streams) == 0 {
		return nil
	}
	return p.Streams[len(p.Streams)-1]
}

type FakeStream struct {
	track webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
	samples []float64
	closes  int
}

func NewFakeStream() *FakeStream {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "fake-mic")
	if err != nil {
		panic(err)
	}
	return &FakeStream{track: track, enabled: true}
}

func (s *FakeStream) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{s.track} }

func (s *FakeStream) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
}

func (s *FakeStream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetSamples replaces what the analysis tap returns.
func (s *FakeStream) SetSamples(samples []float64) {
	s.mu.Lock()
	s.samples = append([]float64(nil), samples...)
	s.mu.Unlock()
}

func (s *FakeStream) Samples(dst []float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copy(dst, s.samples)
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}
