package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		String(1, "msg-1"),
		U32(2, 7),
		Bool(3, true),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(out))
	}
	if out[3].ID != 9999 || out[3].Type != TypeBytes || !bytes.Equal(out[3].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[3])
	}
	kind, err := U32FromBytes(out[1].Value)
	if err != nil || kind != 7 {
		t.Fatalf("u32 mismatch: %d %v", kind, err)
	}
	ack, err := BoolFromBytes(out[2].Value)
	if err != nil || !ack {
		t.Fatalf("bool mismatch: %v %v", ack, err)
	}
}

func TestBoolFromBytesRejectsGarbage(t *testing.T) {
	if _, err := BoolFromBytes([]byte{2}); err == nil {
		t.Fatalf("expected error for bool=2")
	}
	if _, err := BoolFromBytes(nil); err == nil {
		t.Fatalf("expected error for empty bool")
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestDecodeFieldsCopiesValues(t *testing.T) {
	buf := EncodeFields([]Field{Bytes(4, []byte("body"))})
	out, err := DecodeFields(buf)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	buf[HeaderLen] = 'X'
	if string(out[0].Value) != "body" {
		t.Fatalf("decoded value aliases input: %q", out[0].Value)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	out, err := DecodeFields(nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("empty payload: %v %v", out, err)
	}
}
