package mesh

import (
	"testing"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPeerTransitions(t *testing.T) {
	p := newPeer("a", "Alice", true)
	assert.Equal(t, domain.StateNew, p.State())

	assert.False(t, p.transition(domain.StateDisconnected), "new cannot disconnect")
	assert.True(t, p.transition(domain.StateConnecting))
	assert.False(t, p.transition(domain.StateConnecting), "same state is not a change")
	assert.True(t, p.transition(domain.StateConnected))
	assert.True(t, p.transition(domain.StateDisconnected))
	assert.True(t, p.transition(domain.StateConnected))
	assert.True(t, p.transition(domain.StateFailed))
	assert.True(t, p.transition(domain.StateConnecting), "restart leaves failed")
	assert.True(t, p.transition(domain.StateClosed))
	assert.False(t, p.transition(domain.StateConnected), "closed is terminal")
	assert.Equal(t, domain.StateClosed, p.State())
}

func TestPeerCloseIsIdempotent(t *testing.T) {
	p := newPeer("a", "Alice", false)
	p.close()
	p.close()
	assert.Equal(t, domain.StateClosed, p.State())
}
