// Package frame implements the length-prefixed binary framing shared by all
// chatlink transports. The tcp transport writes frames straight onto the
// socket; the hub and bridge transports carry the same bytes base64-encoded.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	FixedHeaderLen uint16 = 32

	// Magic is "CHLK".
	Magic   uint32 = 0x43484C4B
	Version uint16 = 1

	FlagEncrypted    uint32 = 0x01
	FlagAckRequested uint32 = 0x02
)

// Frame types.
const (
	TypeEnvelope uint32 = 1
)

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrBadMagic          = errors.New("frame: bad magic")
	ErrUnsupported       = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrTrailingBytes     = errors.New("frame: trailing bytes after payload")
)

// Header is the fixed wire header.
type Header struct {
	Magic     uint32
	Version   uint16
	HeaderLen uint16
	// Sequence numbers frames in the order a codec encoded them. It keeps
	// counting across reconnects and receivers do not check it.
	Sequence   uint64
	Type       uint32
	Flags      uint32
	PayloadLen uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

func (f Frame) Has(flag uint32) bool {
	return f.Header.Flags&flag != 0
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 1024 * 1024,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, fmt.Errorf("%w: 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupported, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	// Header extension bytes are reserved; skip them.
	if ext := int64(h.HeaderLen - FixedHeaderLen); ext > 0 {
		if _, err := io.CopyN(io.Discard, r, ext); err != nil {
			return Frame{}, err
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	// One write per frame so concurrent writers never interleave partial frames.
	buf := make([]byte, 0, int(FixedHeaderLen)+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

// Marshal returns the frame's wire bytes.
func Marshal(f Frame, limits Limits) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f, limits); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes exactly one frame from b.
func Unmarshal(b []byte, limits Limits) (Frame, error) {
	r := bytes.NewReader(b)
	f, err := ReadFrame(r, limits)
	if err != nil {
		return Frame{}, err
	}
	if r.Len() != 0 {
		return Frame{}, ErrTrailingBytes
	}
	return f, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.Sequence)
	binary.BigEndian.PutUint32(buf[16:20], h.Type)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		Sequence:   binary.BigEndian.Uint64(b[8:16]),
		Type:       binary.BigEndian.Uint32(b[16:20]),
		Flags:      binary.BigEndian.Uint32(b[20:24]),
		PayloadLen: binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
