// Package transport defines the connection capability the session controller
// drives. Implementations live in subpackages: tcp (raw framed socket), hub
// (websocket hub records) and bridge (externally hosted socket).
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/chatlink/internal/message"
)

var (
	ErrEndpointRequired = errors.New("transport: endpoint required")
	ErrInvalidPort      = errors.New("transport: invalid port")
	ErrAlreadyConnected = errors.New("transport: already connected")
)

type EventType int

const (
	EventConnected EventType = iota + 1
	EventMessage
	EventDecodeError
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDecodeError:
		return "decode_error"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one notification from a live connection.
type Event struct {
	Type    EventType
	Message message.Message
	// Raw is the undecodable payload for EventDecodeError.
	Raw []byte
	Err error
}

// Handler receives events for one connection. Implementations call it from a
// single goroutine per connection, in receive order, and deliver
// EventDisconnected at most once.
type Handler func(Event)

// Transport is one underlying connection technology.
type Transport interface {
	Name() string
	// Connect opens a connection and returns once it is established or has
	// failed. Events for the connection go to h until EventDisconnected.
	Connect(ctx context.Context, endpoint string, port int, h Handler) error
	// Disconnect closes the current connection, if any.
	Disconnect() error
	// Send writes one message. It returns false when the connection is known
	// to be closed; callers treat that as "resend later".
	Send(msg message.Message, encrypt bool) bool
	Connected() bool
}

// Factory builds a transport around the session's codec, so frames are
// sealed with the symmetric key the handshake establishes.
type Factory func(codec *message.Codec) Transport

func ValidateEndpoint(endpoint string, port int) error {
	if endpoint == "" {
		return ErrEndpointRequired
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return nil
}

// DecodeEvent wraps a codec result as the matching event.
func DecodeEvent(m message.Message, err error) Event {
	if err != nil {
		var de *message.DecodeError
		if errors.As(err, &de) {
			return Event{Type: EventDecodeError, Raw: de.Raw, Err: err}
		}
		return Event{Type: EventDecodeError, Err: err}
	}
	return Event{Type: EventMessage, Message: m}
}
