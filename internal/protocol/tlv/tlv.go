// Package tlv encodes the id/type/length/value fields carried in a frame
// payload. A field header is a big-endian u16 id, a u8 type and a u32 length.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 2 + 1 + 4

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
)

// Value types. Decoders keep fields of any type so unknown ids survive a
// decode/encode pass untouched.
const (
	TypeU32    uint8 = 3
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func String(id uint16, v string) Field { return Field{ID: id, Type: TypeString, Value: []byte(v)} }
func Bytes(id uint16, v []byte) Field  { return Field{ID: id, Type: TypeBytes, Value: v} }

func U32(id uint16, v uint32) Field {
	return Field{ID: id, Type: TypeU32, Value: binary.BigEndian.AppendUint32(nil, v)}
}

func Bool(id uint16, v bool) Field {
	var b byte
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

// Append writes f to dst and returns the extended slice.
func Append(dst []byte, f Field) []byte {
	dst = binary.BigEndian.AppendUint16(dst, f.ID)
	dst = append(dst, f.Type)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Value)))
	return append(dst, f.Value...)
}

// EncodeFields concatenates fields in order.
func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		out = Append(out, f)
	}
	return out
}

// DecodeFields splits payload into fields. Values are copied so the result
// does not alias the read buffer.
func DecodeFields(payload []byte) ([]Field, error) {
	var fields []Field
	for rest := payload; len(rest) > 0; {
		if len(rest) < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		n := binary.BigEndian.Uint32(rest[3:HeaderLen])
		if uint64(len(rest)-HeaderLen) < uint64(n) {
			return nil, fmt.Errorf("%w: field %d wants %d bytes", ErrShortFieldValue, binary.BigEndian.Uint16(rest), n)
		}
		fields = append(fields, Field{
			ID:    binary.BigEndian.Uint16(rest),
			Type:  rest[2],
			Value: append([]byte(nil), rest[HeaderLen:HeaderLen+int(n)]...),
		})
		rest = rest[HeaderLen+int(n):]
	}
	return fields, nil
}

// GetField returns the first field with id.
func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func U32FromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("tlv: u32 needs 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func BoolFromBytes(b []byte) (bool, error) {
	if len(b) != 1 || b[0] > 1 {
		return false, fmt.Errorf("tlv: bool must be a single 0 or 1 byte, got %x", b)
	}
	return b[0] == 1, nil
}
