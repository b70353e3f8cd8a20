// Package voice is the collaborator-facing API of a peer-mesh voice call:
// one Call per room scope, sharing a single signaling transport.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/media"
	"github.com/dkeye/VoiceMesh/internal/mesh"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrJoinCancelled = errors.New("join cancelled")

type Deps struct {
	Transport   core.SignalTransport
	Capture     core.MediaCaptureProvider
	Connections core.PeerConnectionFactory
	Sinks       core.AudioSinkFactory
}

type Options struct {
	DisplayName string
	GracePeriod time.Duration
	Detector    media.DetectorConfig
	Clock       clock.Clock
	Metrics     *mesh.Metrics
	Volumes     *media.Volumes
	Emitter     *Emitter
}

// Call is the voice participation of the local user in one room scope.
type Call struct {
	scope   domain.RoomScope
	deps    Deps
	opts    Options
	sig     scopedSignaler
	emitter *Emitter

	mu         sync.Mutex
	state      CallState
	lastErr    error
	gen        uint64
	cancelJoin context.CancelFunc
	session    *media.Session
	mgr        *mesh.Manager
	unsub      func()
	loopDone   chan struct{}

	// preferences carried into every session
	muted    bool
	deafened bool
	pttMode  bool
}

func NewCall(scope domain.RoomScope, deps Deps, opts Options) (*Call, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidScope
	}
	if opts.Volumes == nil {
		opts.Volumes = media.NewVolumes()
	}
	if opts.Emitter == nil {
		opts.Emitter = NewEmitter()
	}
	if opts.Metrics == nil {
		opts.Metrics = mesh.NewMetrics(nil)
	}
	return &Call{
		scope:   scope,
		deps:    deps,
		opts:    opts,
		sig:     scopedSignaler{scope: scope, transport: deps.Transport},
		emitter: opts.Emitter,
		state:   StateIdle,
	}, nil
}

func (c *Call) Scope() domain.RoomScope { return c.scope }

func (c *Call) emitState(err error) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	c.emitter.Emit(Event{Type: EventState, Scope: c.scope, State: st, Err: err})
}

// Join acquires the microphone and enters the room. It is a no-op while
// connecting or already in the call. Capture failures are classified,
// stored as LastError and returned; they are not retried.
func (c *Call) Join(ctx context.Context) error {
	name, err := domain.NormalizeDisplayName(c.opts.DisplayName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(ctx)
	c.cancelJoin = cancel
	c.mu.Unlock()
	c.emitState(nil)

	stream, err := c.deps.Capture.Acquire(ctx)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		cancel()
		if stream != nil {
			_ = stream.Close()
		}
		return ErrJoinCancelled
	}
	if err != nil && ctx.Err() != nil {
		c.state = StateIdle
		c.cancelJoin = nil
		c.mu.Unlock()
		cancel()
		c.emitState(nil)
		return err
	}
	if err != nil {
		ce := domain.ClassifyCaptureError(err)
		c.lastErr = ce
		c.state = StateIdle
		c.cancelJoin = nil
		c.mu.Unlock()
		cancel()
		log.Error().Err(err).Str("module", "voice").Str("scope", c.scope.Key()).Str("kind", string(ce.Kind)).Msg("capture failed")
		c.emitState(ce)
		return ce
	}

	session := media.NewSession(stream, c.sig, media.SessionOptions{
		Detector:   c.opts.Detector,
		Clock:      c.opts.Clock,
		Volumes:    c.opts.Volumes,
		Muted:      c.muted,
		PushToTalk: c.pttMode,
		Deafened:   c.deafened,
	})
	mgr := mesh.NewManager(c.sig, session, c.deps.Connections, c.deps.Sinks, mesh.Options{
		GracePeriod: c.opts.GracePeriod,
		Clock:       c.opts.Clock,
		Metrics:     c.opts.Metrics,
		OnEvent:     c.onMeshEvent,
	})
	session.BindSinks(mgr)
	msgs, unsub := c.sig.Subscribe()
	done := make(chan struct{})

	c.lastErr = nil
	c.session, c.mgr, c.unsub, c.loopDone = session, mgr, unsub, done
	c.mu.Unlock()

	go c.loop(mgr, session, msgs, done)
	session.Start()

	// join-room goes out under the lock so a concurrent Leave either
	// cancels it or sends leave-room after it.
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrJoinCancelled
	}
	err = c.sig.Send(protocol.JoinRoom("", name))
	c.mu.Unlock()
	if err != nil {
		c.Leave()
		return fmt.Errorf("send join-room: %w", err)
	}
	log.Info().Str("module", "voice").Str("scope", c.scope.Key()).Msg("join requested")
	return nil
}

// Leave stops capture, tears down every peer and leaves the room. Idempotent;
// it also cancels a join in progress.
func (c *Call) Leave() {
	c.mu.Lock()
	if c.state == StateIdle && c.session == nil {
		c.mu.Unlock()
		return
	}
	if c.cancelJoin != nil {
		c.cancelJoin()
		c.cancelJoin = nil
	}
	c.gen++
	session, mgr, unsub, done := c.session, c.mgr, c.unsub, c.loopDone
	c.session, c.mgr, c.unsub, c.loopDone = nil, nil, nil, nil
	c.state = StateIdle
	c.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Str("module", "voice").Msg("capture close")
		}
	}
	if mgr != nil {
		mgr.Close()
		if err := c.sig.Send(protocol.LeaveRoom("")); err != nil {
			log.Warn().Err(err).Str("module", "voice").Msg("send leave-room")
		}
	}
	if unsub != nil {
		unsub()
		<-done
	}
	log.Info().Str("module", "voice").Str("scope", c.scope.Key()).Msg("left call")
	c.emitState(nil)
}

// owns reports whether mgr still belongs to the current join.
func (c *Call) owns(mgr *mesh.Manager) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mgr == mgr
}

func (c *Call) loop(mgr *mesh.Manager, session *media.Session, msgs <-chan protocol.Message, done chan struct{}) {
	defer close(done)
	for m := range msgs {
		c.dispatch(mgr, session, m)
	}
}

func (c *Call) dispatch(mgr *mesh.Manager, session *media.Session, m protocol.Message) {
	switch m.Type {
	case protocol.TypeRoomJoined:
		mgr.HandleRoster(m.PeerID, m.Roster)
		c.mu.Lock()
		joined := c.mgr == mgr && c.state == StateConnecting
		if joined {
			c.state = StateInCall
		}
		c.mu.Unlock()
		if !joined {
			return
		}
		if !session.Transmitting() {
			if err := c.sig.Send(protocol.MuteState(true)); err != nil {
				log.Warn().Err(err).Str("module", "voice").Str("scope", c.scope.Key()).Msg("send mute-state")
			}
		}
		log.Info().Str("module", "voice").Str("scope", c.scope.Key()).Int("peers", len(m.Roster)).Msg("room joined")
		c.emitState(nil)
	case protocol.TypePeerJoined:
		mgr.HandlePeerJoined(m.PeerID, m.DisplayName)
	case protocol.TypePeerLeft:
		mgr.HandlePeerLeft(m.PeerID)
	case protocol.TypeOffer:
		mgr.HandleOffer(m.PeerID, m.SDP)
	case protocol.TypeAnswer:
		mgr.HandleAnswer(m.PeerID, m.SDP)
	case protocol.TypeICECandidate:
		mgr.HandleCandidate(m.PeerID, m.Candidate)
	case protocol.TypeMuteState:
		mgr.HandleMuteState(m.PeerID, m.IsMuted)
	case protocol.TypeSpeakingState:
		mgr.HandleSpeakingState(m.PeerID, m.IsSpeaking)
	case protocol.TypeError:
		log.Warn().Str("module", "voice").Str("scope", c.scope.Key()).Str("error", m.Error).Msg("relay error")
		if c.owns(mgr) {
			c.emitter.Emit(Event{Type: EventRelayError, Scope: c.scope, Error: m.Error})
		}
	default:
		log.Debug().Str("module", "voice").Str("type", m.Type).Msg("ignored message")
	}
}

func (c *Call) onMeshEvent(e mesh.Event) {
	peer := e.Peer
	c.emitter.Emit(Event{Type: EventType(e.Type), Scope: c.scope, Peer: &peer, Err: e.Err})
}

func (c *Call) IsInCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateInCall
}

func (c *Call) IsConnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnecting
}

func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the classified error of the latest failed join, if any.
func (c *Call) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Call) current() *media.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Call) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	s := c.session
	c.mu.Unlock()
	if s != nil {
		s.SetMuted(muted)
	}
}

func (c *Call) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Call) SetDeafened(on bool) {
	c.mu.Lock()
	c.deafened = on
	s := c.session
	c.mu.Unlock()
	if s != nil {
		s.SetDeafened(on)
	}
}

func (c *Call) IsDeafened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deafened
}

func (c *Call) SetPushToTalkMode(on bool) {
	c.mu.Lock()
	c.pttMode = on
	s := c.session
	c.mu.Unlock()
	if s != nil {
		s.SetPushToTalkMode(on)
	}
}

func (c *Call) PushToTalkMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pttMode
}

func (c *Call) SetPushToTalkActive(down bool) {
	if s := c.current(); s != nil {
		s.SetPushToTalkActive(down)
	}
}

// SetPeerVolume stores a gain in [0,1] for every peer shown under name.
func (c *Call) SetPeerVolume(name string, v float64) {
	if s := c.current(); s != nil {
		s.SetPeerVolume(name, v)
		return
	}
	c.opts.Volumes.Set(name, v)
}

func (c *Call) PeerVolume(name string) float64 { return c.opts.Volumes.Get(name) }

func (c *Call) Peers() []domain.PeerInfo {
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.Peers()
}

// Subscribe returns call events of every scope sharing this call's emitter.
func (c *Call) Subscribe() (<-chan Event, func()) {
	return c.emitter.Subscribe(0)
}
