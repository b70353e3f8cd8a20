package mesh

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/mediatest"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

type fakeMedia struct {
	stream *mediatest.FakeStream

	mu    sync.Mutex
	names []string
}

func (f *fakeMedia) Tracks() []webrtc.TrackLocal { return f.stream.Tracks() }

func (f *fakeMedia) AttachSink(name string, sink core.AudioSink, commit func() bool) bool {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()
	if !commit() {
		_ = sink.Release()
		return false
	}
	return true
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	m      *Manager
	sig    *mediatest.Recorder
	conns  *mediatest.FakeFactory
	sinks  *mediatest.FakeSinkFactory
	clock  *clock.Mock
	events *eventLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sig:    &mediatest.Recorder{},
		conns:  &mediatest.FakeFactory{EmitTracks: true},
		sinks:  &mediatest.FakeSinkFactory{},
		clock:  clock.NewMock(),
		events: &eventLog{},
	}
	h.m = NewManager(h.sig, &fakeMedia{stream: mediatest.NewFakeStream()}, h.conns, h.sinks, Options{
		Clock:   h.clock,
		OnEvent: h.events.add,
	})
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) state(id domain.PeerID) domain.ConnectionState {
	p, ok := h.m.reg.Get(id)
	if !ok {
		return domain.StateClosed
	}
	return p.State()
}

func (h *harness) graceArmed(id domain.PeerID) bool {
	p, ok := h.m.reg.Get(id)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grace != nil
}

func (h *harness) gone(id domain.PeerID) bool {
	_, ok := h.m.reg.Get(id)
	return !ok
}

func TestNewcomerDoesNotOffer(t *testing.T) {
	h := newHarness(t)
	h.m.HandleRoster("me", []protocol.RosterEntry{
		{PeerID: "a", DisplayName: "Alice"},
		{PeerID: "b", DisplayName: "Bob", IsMuted: true},
		{PeerID: "me", DisplayName: "Me"},
	})

	assert.Equal(t, 2, h.m.Len())
	assert.Empty(t, h.sig.OfType(protocol.TypeOffer))
	assert.Empty(t, h.conns.Conns, "placeholders have no connection until an offer arrives")
	assert.Len(t, h.events.ofType(EventPeerJoined), 2)

	peers := h.m.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "Alice", peers[0].DisplayName)
	assert.True(t, peers[1].Muted)
	assert.Equal(t, domain.StateNew, peers[0].State)
}

func TestExistingMemberOffersToNewcomer(t *testing.T) {
	h := newHarness(t)
	h.m.HandleRoster("me", nil)
	h.m.HandlePeerJoined("n", "Newcomer")
	h.m.HandlePeerJoined("n", "Newcomer")
	h.m.HandlePeerJoined("me", "Me")

	offers := h.sig.OfType(protocol.TypeOffer)
	require.Len(t, offers, 1)
	assert.EqualValues(t, "n", offers[0].TargetPeerID)

	conn := h.conns.Latest("n")
	require.NotNil(t, conn)
	assert.Len(t, conn.Tracks(), 1, "local capture track attached")
	assert.Equal(t, []bool{false}, conn.Offers())

	h.m.HandleAnswer("n", "answer")
	assert.Eventually(t, func() bool { return h.state("n") == domain.StateConnected }, waitFor, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(h.sinks.For("n")) == 1 }, waitFor, 5*time.Millisecond)
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t)
	h.m.HandleRoster("me", []protocol.RosterEntry{{PeerID: "a", DisplayName: "Alice"}})

	c1 := webrtc.ICECandidateInit{Candidate: "candidate:1"}
	c2 := webrtc.ICECandidateInit{Candidate: "candidate:2"}
	h.m.HandleCandidate("a", &c1)
	h.m.HandleCandidate("a", &c2)
	h.m.HandleCandidate("ghost", &c1)

	h.m.HandleOffer("a", "offer-sdp")
	conn := h.conns.Latest("a")
	require.NotNil(t, conn)
	assert.Equal(t, []webrtc.ICECandidateInit{c1, c2}, conn.Candidates())

	answers := h.sig.OfType(protocol.TypeAnswer)
	require.Len(t, answers, 1)
	assert.EqualValues(t, "a", answers[0].TargetPeerID)
	assert.Equal(t, "answer-to-offer-sdp", answers[0].SDP)

	c3 := webrtc.ICECandidateInit{Candidate: "candidate:3"}
	h.m.HandleCandidate("a", &c3)
	assert.Len(t, conn.Candidates(), 3)
}

func TestLocalCandidatesAreForwarded(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	conn := h.conns.Latest("a")
	conn.EmitCandidate(webrtc.ICECandidateInit{Candidate: "candidate:x"})

	assert.Eventually(t, func() bool { return len(h.sig.OfType(protocol.TypeICECandidate)) == 1 }, waitFor, 5*time.Millisecond)
	msg := h.sig.OfType(protocol.TypeICECandidate)[0]
	assert.EqualValues(t, "a", msg.TargetPeerID)
	assert.Equal(t, "candidate:x", msg.Candidate.Candidate)
}

func TestInitiatorRestartsOnceThenGivesUp(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	h.m.HandleAnswer("a", "answer")
	require.Eventually(t, func() bool { return h.state("a") == domain.StateConnected }, waitFor, 5*time.Millisecond)

	conn := h.conns.Latest("a")
	conn.SetState(domain.StateFailed)
	require.Eventually(t, func() bool { return len(conn.Offers()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []bool{false, true}, conn.Offers())
	assert.Len(t, h.sig.OfType(protocol.TypeOffer), 2)
	assert.False(t, h.gone("a"))

	conn.SetState(domain.StateFailed)
	require.Eventually(t, func() bool { return h.gone("a") }, waitFor, 5*time.Millisecond)
	assert.Len(t, conn.Offers(), 2, "only one restart")

	errs := h.events.ofType(EventPeerError)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0].Err, domain.ErrConnectionLost))
	assert.Equal(t, 1, conn.Closes())
	assert.True(t, h.sinks.For("a")[0].Released())
}

func TestRestartResetsAfterRecovery(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	h.m.HandleAnswer("a", "answer")
	conn := h.conns.Latest("a")
	require.Eventually(t, func() bool { return h.state("a") == domain.StateConnected }, waitFor, 5*time.Millisecond)

	conn.SetState(domain.StateFailed)
	require.Eventually(t, func() bool { return len(conn.Offers()) == 2 }, waitFor, 5*time.Millisecond)
	h.m.HandleAnswer("a", "answer-2")
	require.Eventually(t, func() bool { return h.state("a") == domain.StateConnected }, waitFor, 5*time.Millisecond)

	conn.SetState(domain.StateFailed)
	require.Eventually(t, func() bool { return len(conn.Offers()) == 3 }, waitFor, 5*time.Millisecond)
	assert.False(t, h.gone("a"))
}

func TestAnsweringSideWaitsForRestartUnderGrace(t *testing.T) {
	h := newHarness(t)
	h.m.HandleRoster("me", []protocol.RosterEntry{{PeerID: "a", DisplayName: "Alice"}})
	h.m.HandleOffer("a", "offer")
	conn := h.conns.Latest("a")
	require.Eventually(t, func() bool { return h.state("a") == domain.StateConnected }, waitFor, 5*time.Millisecond)

	conn.SetState(domain.StateFailed)
	require.Eventually(t, func() bool { return h.graceArmed("a") }, waitFor, 5*time.Millisecond)
	assert.Equal(t, domain.StateFailed, h.state("a"))
	assert.Equal(t, []bool(nil), conn.Offers(), "the answering side never offers")

	h.clock.Add(4 * time.Second)
	assert.False(t, h.gone("a"))
	h.clock.Add(time.Second)
	assert.Eventually(t, func() bool { return h.gone("a") }, waitFor, 5*time.Millisecond)
}

func TestGraceTimer(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	h.m.HandlePeerJoined("b", "Bob")
	h.m.HandleAnswer("a", "x")
	h.m.HandleAnswer("b", "x")
	ca, cb := h.conns.Latest("a"), h.conns.Latest("b")
	require.Eventually(t, func() bool {
		return h.state("a") == domain.StateConnected && h.state("b") == domain.StateConnected
	}, waitFor, 5*time.Millisecond)

	ca.SetState(domain.StateDisconnected)
	cb.SetState(domain.StateDisconnected)
	require.Eventually(t, func() bool {
		return h.graceArmed("a") && h.graceArmed("b")
	}, waitFor, 5*time.Millisecond)

	h.clock.Add(2 * time.Second)
	cb.SetState(domain.StateConnected)
	require.Eventually(t, func() bool { return !h.graceArmed("b") }, waitFor, 5*time.Millisecond)

	h.clock.Add(3 * time.Second)
	assert.Eventually(t, func() bool { return h.gone("a") }, waitFor, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.gone("b") }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, ca.Closes())
	assert.Equal(t, 0, cb.Closes())
}

func TestPeerLeftClosesImmediately(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	h.m.HandleAnswer("a", "x")
	conn := h.conns.Latest("a")
	require.Eventually(t, func() bool { return len(h.sinks.For("a")) == 1 }, waitFor, 5*time.Millisecond)

	conn.SetState(domain.StateDisconnected)
	require.Eventually(t, func() bool { return h.state("a") == domain.StateDisconnected }, waitFor, 5*time.Millisecond)

	h.m.HandlePeerLeft("a")
	h.m.HandlePeerLeft("a")
	assert.True(t, h.gone("a"))
	assert.Equal(t, 1, conn.Closes())
	assert.True(t, h.sinks.For("a")[0].Released())
	assert.Len(t, h.events.ofType(EventPeerLeft), 1)

	h.clock.Add(10 * time.Second)
	assert.Len(t, h.events.ofType(EventPeerLeft), 1, "grace timer was cancelled")
}

func TestNegotiationFailureIsContained(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	h.m.HandlePeerJoined("b", "Bob")

	h.conns.Latest("b").FailNext(nil, mediatest.ErrInjected)
	h.m.HandleAnswer("b", "bad")
	h.m.HandleAnswer("a", "good")

	assert.True(t, h.gone("b"))
	assert.False(t, h.gone("a"))
	errs := h.events.ofType(EventPeerError)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0].Err, domain.ErrNegotiationFailed))
	assert.True(t, errors.Is(errs[0].Err, mediatest.ErrInjected))
	assert.EqualValues(t, "b", errs[0].Peer.ID)
}

func TestFactoryFailureRemovesPeer(t *testing.T) {
	h := newHarness(t)
	h.conns.FailNew = mediatest.ErrInjected
	h.m.HandlePeerJoined("a", "Alice")
	assert.True(t, h.gone("a"))
	assert.Len(t, h.events.ofType(EventPeerError), 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	h.m.HandleAnswer("a", "x")
	conn := h.conns.Latest("a")

	h.m.Close()
	h.m.Close()
	assert.Equal(t, 0, h.m.Len())
	assert.Equal(t, 1, conn.Closes())

	h.m.HandlePeerJoined("b", "Bob")
	assert.Equal(t, 0, h.m.Len(), "a closed manager accepts no peers")
	assert.Nil(t, h.conns.Latest("b"))
}

func TestEachSinkUsesDisplayName(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	h.m.HandleAnswer("a", "x")
	require.Eventually(t, func() bool { return len(h.sinks.For("a")) == 1 }, waitFor, 5*time.Millisecond)

	var names []string
	h.m.EachSink(func(name string, _ core.AudioSink) { names = append(names, name) })
	assert.Equal(t, []string{"Alice"}, names)
}

func TestRemoteMuteAndSpeakingUpdates(t *testing.T) {
	h := newHarness(t)
	h.m.HandleRoster("me", []protocol.RosterEntry{{PeerID: "a", DisplayName: "Alice"}})

	h.m.HandleMuteState("a", true)
	h.m.HandleMuteState("a", true)
	h.m.HandleSpeakingState("a", true)
	h.m.HandleSpeakingState("ghost", true)

	assert.Len(t, h.events.ofType(EventPeerUpdated), 2, "repeats and unknown peers emit nothing")
	peers := h.m.Peers()
	require.Len(t, peers, 1)
	assert.True(t, peers[0].Muted)
	assert.True(t, peers[0].Speaking)
}

func TestUnansweredRestartIsBoundedByGrace(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	h.m.HandleAnswer("a", "answer")
	require.Eventually(t, func() bool { return h.state("a") == domain.StateConnected }, waitFor, 5*time.Millisecond)

	conn := h.conns.Latest("a")
	conn.SetState(domain.StateDisconnected)
	require.Eventually(t, func() bool { return h.graceArmed("a") }, waitFor, 5*time.Millisecond)
	conn.SetState(domain.StateFailed)
	require.Eventually(t, func() bool { return len(conn.Offers()) == 2 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.graceArmed("a") }, waitFor, 5*time.Millisecond)
	assert.Equal(t, domain.StateConnecting, h.state("a"))

	h.clock.Add(60 * time.Second)
	require.Eventually(t, func() bool { return len(h.events.ofType(EventPeerLeft)) == 1 }, waitFor, 5*time.Millisecond)
	assert.True(t, h.gone("a"))

	errs := h.events.ofType(EventPeerError)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0].Err, domain.ErrConnectionLost))
	assert.Equal(t, 1, conn.Closes())
}

func TestAnsweredRestartCancelsGrace(t *testing.T) {
	h := newHarness(t)
	h.m.HandlePeerJoined("a", "Alice")
	h.m.HandleAnswer("a", "answer")
	require.Eventually(t, func() bool { return h.state("a") == domain.StateConnected }, waitFor, 5*time.Millisecond)

	conn := h.conns.Latest("a")
	conn.SetState(domain.StateFailed)
	require.Eventually(t, func() bool { return len(conn.Offers()) == 2 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.graceArmed("a") }, waitFor, 5*time.Millisecond)

	h.m.HandleAnswer("a", "answer-2")
	require.Eventually(t, func() bool { return !h.graceArmed("a") }, waitFor, 5*time.Millisecond)
	h.clock.Add(60 * time.Second)
	assert.Never(t, func() bool { return h.gone("a") }, 50*time.Millisecond, 5*time.Millisecond)
}
