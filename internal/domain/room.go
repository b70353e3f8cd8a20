package domain

import (
	"errors"
	"strings"
)

var ErrInvalidScope = errors.New("invalid room scope")

type ScopeKind string

const (
	ScopeLounge ScopeKind = "lounge"
	ScopeTable  ScopeKind = "table"
)

// RoomScope partitions rosters and signaling. Two scopes never share peers.
type RoomScope struct {
	Kind   ScopeKind `json:"kind"`
	RoomID string    `json:"roomId"`
}

func LoungeScope(id string) RoomScope { return RoomScope{Kind: ScopeLounge, RoomID: id} }
func TableScope(id string) RoomScope  { return RoomScope{Kind: ScopeTable, RoomID: id} }

func (s RoomScope) Valid() bool {
	if s.RoomID == "" || strings.Contains(s.RoomID, ":") {
		return false
	}
	return s.Kind == ScopeLounge || s.Kind == ScopeTable
}

// Key is the wire room id, e.g. "table:42".
func (s RoomScope) Key() string {
	return string(s.Kind) + ":" + s.RoomID
}

func (s RoomScope) String() string { return s.Key() }

// ParseScope is the inverse of Key.
func ParseScope(key string) (RoomScope, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return RoomScope{}, ErrInvalidScope
	}
	s := RoomScope{Kind: ScopeKind(kind), RoomID: id}
	if !s.Valid() {
		return RoomScope{}, ErrInvalidScope
	}
	return s, nil
}
