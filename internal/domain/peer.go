// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// PeerID is the relay-assigned identity of one signaling connection.
type PeerID string

// NormalizeDisplayName trims and validates a human-readable label.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return "", ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}

type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

func (s ConnectionState) String() string { return string(s) }

// PeerInfo is a read-only view of a remote participant for presentation.
type PeerInfo struct {
	ID          PeerID          `json:"id"`
	DisplayName string          `json:"displayName"`
	State       ConnectionState `json:"state"`
	Muted       bool            `json:"muted"`
	Speaking    bool            `json:"speaking"`
}
