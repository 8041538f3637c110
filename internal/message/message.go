// Package message defines the typed messages exchanged with the chat server
// and the codec that maps them onto frames.
//
// Every concrete message is a pointer to a struct embedding Header. Kind is
// implemented on the pointer type and never dereferences, so a nil *T still
// reports its kind; the dispatcher relies on that to key subscriptions.
package message

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalid = errors.New("message: invalid")

// Message is one typed unit of communication.
type Message interface {
	Kind() Kind
	MessageID() uuid.UUID
	IsAckRequested() bool
	header() *Header
}

// Validator is implemented by outbound messages with local preconditions.
type Validator interface {
	Validate() error
}

// Header carries the envelope attributes. They travel in the frame envelope,
// not in the JSON body.
type Header struct {
	ID           uuid.UUID `json:"-"`
	AckRequested bool      `json:"-"`
}

func (h *Header) MessageID() uuid.UUID { return h.ID }
func (h *Header) IsAckRequested() bool { return h.AckRequested }
func (h *Header) header() *Header      { return h }

// EnsureID assigns a fresh id when m has none and returns the id.
func EnsureID(m Message) uuid.UUID {
	h := m.header()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return h.ID
}

// RequestAck marks m as ack-requested and returns it.
func RequestAck[T Message](m T) T {
	m.header().AckRequested = true
	return m
}

// WithID sets the message id. Used by servers and tests that need stable ids.
func WithID[T Message](m T, id uuid.UUID) T {
	m.header().ID = id
	return m
}

// Validate runs m's local preconditions, if it has any.
func Validate(m Message) error {
	if m == nil {
		return errors.Join(ErrInvalid, errors.New("nil message"))
	}
	if v, ok := m.(Validator); ok {
		return v.Validate()
	}
	return nil
}

type UserType string

const (
	UserTypeUser      UserType = "user"
	UserTypeModerator UserType = "moderator"
	UserTypeSystem    UserType = "system"
)

// User identifies a chat participant.
type User struct {
	Name      string   `json:"name"`
	DisplayID string   `json:"displayId"`
	Type      UserType `json:"type,omitempty"`
}

// SystemUser is the sender of locally synthesized notices.
var SystemUser = User{Name: "SYSTEM", DisplayID: "SYSTEM", Type: UserTypeSystem}

// ChannelInfo describes one channel or room.
type ChannelInfo struct {
	Name        string `json:"name"`
	Topic       string `json:"topic,omitempty"`
	MemberCount int    `json:"memberCount,omitempty"`
	Persistent  bool   `json:"persistent,omitempty"`
}

type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HistoryEntry is one stored chat or whisper line.
type HistoryEntry struct {
	ID      uuid.UUID `json:"id"`
	From    User      `json:"from"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}
