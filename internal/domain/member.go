package domain

// Member represents a peer's participation meta for a relay room.
// No transport or lifecycle logic here.
type Member struct {
	ID          PeerID
	DisplayName string
	Muted       bool
	Speaking    bool
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id PeerID, displayName string) *Member {
	return &Member{ID: id, DisplayName: displayName}
}
