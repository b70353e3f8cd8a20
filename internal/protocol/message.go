// Package protocol defines the named signaling events exchanged with the relay.
// Every message carries the wire room id of the scope it belongs to.
package protocol

import (
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	TypeJoinRoom      = "join-room"
	TypeLeaveRoom     = "leave-room"
	TypeRoomJoined    = "room-joined"
	TypePeerJoined    = "peer-joined"
	TypePeerLeft      = "peer-left"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeICECandidate  = "ice-candidate"
	TypeMuteState     = "mute-state"
	TypeSpeakingState = "speaking-state"
	TypeError         = "error"
)

type RosterEntry struct {
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
	IsMuted     bool          `json:"isMuted"`
}

// Message is the single envelope for all events. PeerID is the subject of
// roster events and the sender of relayed peer-to-peer events; the relay
// stamps it, clients never set it on outgoing messages.
type Message struct {
	Type         string                   `json:"type"`
	RoomID       string                   `json:"roomId,omitempty"`
	PeerID       domain.PeerID            `json:"peerId,omitempty"`
	TargetPeerID domain.PeerID            `json:"targetPeerId,omitempty"`
	DisplayName  string                   `json:"displayName,omitempty"`
	Roster       []RosterEntry            `json:"roster,omitempty"`
	SDP          string                   `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	IsMuted      bool                     `json:"isMuted,omitempty"`
	IsSpeaking   bool                     `json:"isSpeaking,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

// PeerToPeer reports whether the relay must forward t to a single target.
func PeerToPeer(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

func JoinRoom(roomID, displayName string) Message {
	return Message{Type: TypeJoinRoom, RoomID: roomID, DisplayName: displayName}
}

func LeaveRoom(roomID string) Message {
	return Message{Type: TypeLeaveRoom, RoomID: roomID}
}

func Offer(target domain.PeerID, sdp string) Message {
	return Message{Type: TypeOffer, TargetPeerID: target, SDP: sdp}
}

func Answer(target domain.PeerID, sdp string) Message {
	return Message{Type: TypeAnswer, TargetPeerID: target, SDP: sdp}
}

func ICECandidate(target domain.PeerID, c webrtc.ICECandidateInit) Message {
	return Message{Type: TypeICECandidate, TargetPeerID: target, Candidate: &c}
}

func MuteState(muted bool) Message {
	return Message{Type: TypeMuteState, IsMuted: muted}
}

func SpeakingState(speaking bool) Message {
	return Message{Type: TypeSpeakingState, IsSpeaking: speaking}
}

func Error(roomID, text string) Message {
	return Message{Type: TypeError, RoomID: roomID, Error: text}
}
