package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/chatlink/internal/protocol/tlv"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := tlv.EncodeFields([]tlv.Field{{ID: 1, Type: tlv.TypeString, Value: []byte("msg-1")}})
	in := Frame{
		Header:  Header{Sequence: 42, Type: TypeEnvelope, Flags: FlagAckRequested},
		Payload: payload,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Type != TypeEnvelope || out.Header.Sequence != 42 {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if !out.Has(FlagAckRequested) || out.Has(FlagEncrypted) {
		t.Fatalf("flags mismatch: %b", out.Header.Flags)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameBackToBackPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		if err := WriteFrame(&buf, Frame{Header: Header{Sequence: i, Type: TypeEnvelope}, Payload: []byte{byte(i)}}, DefaultLimits()); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	for i := uint64(1); i <= 3; i++ {
		f, err := ReadFrame(&buf, DefaultLimits())
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if f.Header.Sequence != i || f.Payload[0] != byte(i) {
			t.Fatalf("frame %d out of order: %+v", i, f.Header)
		}
	}
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean EOF, got %v", err)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameBadMagic(t *testing.T) {
	h := Header{Magic: 1, Version: Version, HeaderLen: FixedHeaderLen}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestReadFrameHeaderLenTooSmall(t *testing.T) {
	h := Header{Magic: Magic, Version: Version, HeaderLen: 8, Sequence: 1, Type: TypeEnvelope}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrHeaderLenTooSmall) {
		t.Fatalf("expected ErrHeaderLenTooSmall, got %v", err)
	}
}

func TestReadFramePayloadLimit(t *testing.T) {
	h := Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, PayloadLen: 64}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), Limits{MaxPayloadBytes: 16})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	b, err := Marshal(Frame{Header: Header{Type: TypeEnvelope}, Payload: []byte("x")}, DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Unmarshal(b, DefaultLimits()); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := Unmarshal(append(b, 0), DefaultLimits()); !errors.Is(err, ErrTrailingBytes) {
		t.Fatalf("expected ErrTrailingBytes, got %v", err)
	}
}
