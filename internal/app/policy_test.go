package app

import (
	"testing"

	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func TestMeshPolicy(t *testing.T) {
	var p MeshPolicy
	assert.Equal(t, DropFrame, p.OnBackPressure(nil, nil, protocol.TypeSpeakingState))
	for _, typ := range []string{
		protocol.TypePeerJoined,
		protocol.TypePeerLeft,
		protocol.TypeOffer,
		protocol.TypeAnswer,
		protocol.TypeICECandidate,
		protocol.TypeMuteState,
	} {
		assert.Equal(t, KickMember, p.OnBackPressure(nil, nil, typ), typ)
	}
}
