package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/chatlink/internal/protocol/frame"
	"github.com/danmuck/chatlink/internal/protocol/schema"
	"github.com/danmuck/chatlink/internal/protocol/tlv"
	"github.com/google/uuid"
)

var (
	ErrUnknownKind    = errors.New("message: unknown kind")
	ErrCipherNotReady = errors.New("message: encrypted frame before key exchange")
)

// Cipher seals frame payloads once the symmetric channel is established.
type Cipher interface {
	Ready() bool
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// DecodeError reports an inbound payload that could not be turned into a
// message. Raw holds the bytes as received.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("message: decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Codec maps messages to envelope frames and back. It is safe for concurrent use.
type Codec struct {
	cipher Cipher
	limits frame.Limits
	seq    atomic.Uint64
}

// NewCodec returns a codec. cipher may be nil for plaintext-only links.
func NewCodec(cipher Cipher) *Codec {
	return &Codec{cipher: cipher, limits: frame.DefaultLimits()}
}

func (c *Codec) Limits() frame.Limits {
	return c.limits
}

// Encode builds the envelope frame for m. When encrypt is set and the cipher
// is ready the envelope is sealed; otherwise it goes out in the clear.
func (c *Codec) Encode(m Message, encrypt bool) (frame.Frame, error) {
	if m == nil {
		return frame.Frame{}, fmt.Errorf("%w: nil message", ErrInvalid)
	}
	id := EnsureID(m)
	body, err := json.Marshal(m)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("message: encode %s body: %w", m.Kind(), err)
	}
	fields := []tlv.Field{
		tlv.String(schema.FieldMessageID, id.String()),
		tlv.U32(schema.FieldKind, uint32(m.Kind())),
		tlv.Bool(schema.FieldAckRequested, m.IsAckRequested()),
		tlv.Bytes(schema.FieldBody, body),
	}
	if err := schema.Validate(frame.TypeEnvelope, fields); err != nil {
		return frame.Frame{}, err
	}
	payload := tlv.EncodeFields(fields)

	var flags uint32
	if m.IsAckRequested() {
		flags |= frame.FlagAckRequested
	}
	if encrypt && c.cipher != nil && c.cipher.Ready() {
		sealed, err := c.cipher.Seal(payload)
		if err != nil {
			return frame.Frame{}, fmt.Errorf("message: seal %s: %w", m.Kind(), err)
		}
		payload = sealed
		flags |= frame.FlagEncrypted
	}
	return frame.Frame{
		Header: frame.Header{
			Sequence: c.seq.Add(1),
			Type:     frame.TypeEnvelope,
			Flags:    flags,
		},
		Payload: payload,
	}, nil
}

// Decode turns an envelope frame into a message. Every failure is a *DecodeError.
func (c *Codec) Decode(f frame.Frame) (Message, error) {
	m, err := c.decode(f)
	if err != nil {
		return nil, &DecodeError{Raw: f.Payload, Err: err}
	}
	return m, nil
}

func (c *Codec) decode(f frame.Frame) (Message, error) {
	payload := f.Payload
	if f.Has(frame.FlagEncrypted) {
		if c.cipher == nil || !c.cipher.Ready() {
			return nil, ErrCipherNotReady
		}
		plain, err := c.cipher.Open(payload)
		if err != nil {
			return nil, err
		}
		payload = plain
	}
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(f.Header.Type, fields); err != nil {
		return nil, err
	}

	idField, _ := tlv.GetField(fields, schema.FieldMessageID)
	id, err := uuid.ParseBytes(idField.Value)
	if err != nil {
		return nil, fmt.Errorf("message: bad message id: %w", err)
	}
	kindField, _ := tlv.GetField(fields, schema.FieldKind)
	rawKind, err := tlv.U32FromBytes(kindField.Value)
	if err != nil {
		return nil, err
	}
	ackField, _ := tlv.GetField(fields, schema.FieldAckRequested)
	ack, err := tlv.BoolFromBytes(ackField.Value)
	if err != nil {
		return nil, err
	}

	kind := Kind(rawKind)
	m, ok := New(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, rawKind)
	}
	bodyField, _ := tlv.GetField(fields, schema.FieldBody)
	if len(bodyField.Value) > 0 {
		if err := json.Unmarshal(bodyField.Value, m); err != nil {
			return nil, fmt.Errorf("message: decode %s body: %w", kind, err)
		}
	}
	h := m.header()
	h.ID = id
	h.AckRequested = ack
	return m, nil
}

// Marshal returns the wire bytes of m's frame.
func (c *Codec) Marshal(m Message, encrypt bool) ([]byte, error) {
	f, err := c.Encode(m, encrypt)
	if err != nil {
		return nil, err
	}
	return frame.Marshal(f, c.limits)
}

// Unmarshal decodes one frame's wire bytes. Framing failures are reported as
// *DecodeError as well.
func (c *Codec) Unmarshal(b []byte) (Message, error) {
	f, err := frame.Unmarshal(b, c.limits)
	if err != nil {
		return nil, &DecodeError{Raw: b, Err: err}
	}
	return c.Decode(f)
}
