package schema

import (
	"fmt"

	"github.com/danmuck/chatlink/internal/protocol/frame"
	"github.com/danmuck/chatlink/internal/protocol/tlv"
	logs "github.com/danmuck/smplog"
)

// Envelope field IDs.
const (
	FieldMessageID    uint16 = 1
	FieldKind         uint16 = 2
	FieldAckRequested uint16 = 3
	FieldBody         uint16 = 4
	FieldAPIVersion   uint16 = 5
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	FrameType uint32
	FieldID   uint16
	Reason    string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: frame_type=%d: %s", e.FrameType, e.Reason)
	}
	return fmt.Sprintf("schema: frame_type=%d field=%d: %s", e.FrameType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	frame.TypeEnvelope: {
		{FieldMessageID, tlv.TypeString},
		{FieldKind, tlv.TypeU32},
		{FieldAckRequested, tlv.TypeBool},
		{FieldBody, tlv.TypeBytes},
	},
}

// Validate enforces required fields and required field types for a frame type.
// Unknown fields are ignored.
func Validate(frameType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[frameType]
	if !ok {
		logs.Warnf("schema.Validate unknown frame_type=%d", frameType)
		return ValidationError{FrameType: frameType, Reason: "unknown frame_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logs.Warnf("schema.Validate missing field frame_type=%d field_id=%d", frameType, req.ID)
			return ValidationError{FrameType: frameType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logs.Warnf(
				"schema.Validate type mismatch frame_type=%d field_id=%d got=%d want=%d",
				frameType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{FrameType: frameType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
