//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const analysisWindow = 4096

// Provider captures the default microphone through pion/mediadevices and
// encodes it as opus.
type Provider struct {
	selector *mediadevices.CodecSelector
}

func NewProvider() (*Provider, error) {
	params, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	return &Provider{
		selector: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&params)),
	}, nil
}

// PopulateCodecs registers the codecs this provider produces.
func (p *Provider) PopulateCodecs(me *webrtc.MediaEngine) error {
	p.selector.Populate(me)
	return nil
}

func (p *Provider) Acquire(ctx context.Context) (core.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hasMic := false
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.AudioInput {
			hasMic = true
			break
		}
	}
	if !hasMic {
		return nil, domain.ErrDeviceNotFound
	}

	s := &micStream{ring: newSampleRing(analysisWindow)}
	s.enabled.Store(true)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: p.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	for _, t := range stream.GetAudioTracks() {
		at, ok := t.(*mediadevices.AudioTrack)
		if !ok {
			continue
		}
		at.Transform(s.gate)
		s.tracks = append(s.tracks, t)
		s.wg.Add(1)
		go s.analyse(at.NewReader(false))
	}
	if len(s.tracks) == 0 {
		for _, t := range stream.GetTracks() {
			_ = t.Close()
		}
		return nil, domain.ErrDeviceNotFound
	}
	log.Info().Str("module", "capture").Int("tracks", len(s.tracks)).Msg("microphone acquired")
	return s, nil
}

type micStream struct {
	tracks  []mediadevices.Track
	ring    *sampleRing
	enabled atomic.Bool
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// gate replaces chunks with silence while transmission is disabled.
func (s *micStream) gate(r audio.Reader) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, release, err := r.Read()
		if err != nil || s.enabled.Load() {
			return chunk, release, err
		}
		if release != nil {
			release()
		}
		return wave.NewInt16Interleaved(chunk.ChunkInfo()), func() {}, nil
	})
}

func (s *micStream) analyse(r audio.Reader) {
	defer s.wg.Done()
	var mono []float64
	for {
		chunk, release, err := r.Read()
		if err != nil {
			return
		}
		info := chunk.ChunkInfo()
		mono = mono[:0]
		for i := 0; i < info.Len; i++ {
			var sum float64
			for ch := 0; ch < info.Channels; ch++ {
				sum += float64(chunk.At(i, ch).Int()) / math.MaxInt64
			}
			mono = append(mono, sum/float64(info.Channels))
		}
		if release != nil {
			release()
		}
		s.ring.Write(mono)
	}
}

func (s *micStream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *micStream) SetEnabled(on bool) { s.enabled.Store(on) }

func (s *micStream) Samples(dst []float64) int { return s.ring.Latest(dst) }

func (s *micStream) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		for _, t := range s.tracks {
			if err := t.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.wg.Wait()
		log.Info().Str("module", "capture").Msg("microphone released")
	})
	return errors.Join(errs...)
}
