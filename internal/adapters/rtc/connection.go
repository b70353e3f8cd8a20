// Package rtc adapts pion/webrtc peer connections to the mesh interfaces.
package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// CodecRegistrar fills the media engine; capture providers that encode
// their own audio register exactly the codecs they produce.
type CodecRegistrar func(*webrtc.MediaEngine) error

type FactoryOptions struct {
	ICEServers []string
	Codecs     CodecRegistrar
	// ICE consent timeouts; zero keeps the pion defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultWebRTCConfig(servers []string) webrtc.Configuration {
	if len(servers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	}
}

// Factory implements core.PeerConnectionFactory on one shared pion API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(opts FactoryOptions) (*Factory, error) {
	me := &webrtc.MediaEngine{}
	register := opts.Codecs
	if register == nil {
		register = func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err := register(me); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if opts.DisconnectedTimeout > 0 || opts.FailedTimeout > 0 || opts.KeepAliveInterval > 0 {
		dt, ft, ka := opts.DisconnectedTimeout, opts.FailedTimeout, opts.KeepAliveInterval
		if dt == 0 {
			dt = 5 * time.Second
		}
		if ft == 0 {
			ft = 25 * time.Second
		}
		if ka == 0 {
			ka = 2 * time.Second
		}
		se.SetICETimeouts(dt, ft, ka)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, cfg: DefaultWebRTCConfig(opts.ICEServers)}, nil
}

func (f *Factory) NewConnection(peer domain.PeerID) (core.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &WebRTCConnection{pc: pc, peer: peer}
	c.start()
	return c, nil
}

// WebRTCConnection wraps one *webrtc.PeerConnection to a remote peer.
type WebRTCConnection struct {
	pc   *webrtc.PeerConnection
	peer domain.PeerID

	mu      sync.RWMutex
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(domain.ConnectionState)

	closeOnce sync.Once
}

func mapState(s webrtc.PeerConnectionState) (domain.ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.StateNew, true
	case webrtc.PeerConnectionStateConnecting:
		return domain.StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.StateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.StateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.StateClosed, true
	}
	return "", false
}

func (c *WebRTCConnection) start() {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("Peer state")
		state, ok := mapState(s)
		if !ok {
			return
		}
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(state)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(track)
		}
	})
}

func (c *WebRTCConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	// RTCP must be drained for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *WebRTCConnection) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := c.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (c *WebRTCConnection) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnStateChange(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.pc.Close()
		if err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("peer", string(c.peer)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Msg("closed")
		}
	})
	return err
}
