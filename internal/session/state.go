package session

import (
	"fmt"

	"github.com/google/uuid"
)

// State is the connection lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHandshake
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Epoch identifies one connection lifetime. A new one is minted on every
// connect and disconnect; work started under an older epoch is discarded.
type Epoch uuid.UUID

func NewEpoch() Epoch {
	return Epoch(uuid.New())
}

func (e Epoch) String() string {
	return uuid.UUID(e).String()
}
