package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RecordSeparator terminates every JSON record on the socket.
const RecordSeparator byte = 0x1e

type RecordType int

const (
	RecordInvocation       RecordType = 1
	RecordStreamItem       RecordType = 2
	RecordCompletion       RecordType = 3
	RecordStreamInvocation RecordType = 4
	RecordCancelInvocation RecordType = 5
	RecordPing             RecordType = 6
	RecordClose            RecordType = 7
)

var (
	ErrUnterminatedRecord = errors.New("hub: unterminated record")
	ErrRecordTooLarge     = errors.New("hub: record too large")
	ErrHandshakeRejected  = errors.New("hub: handshake rejected")
)

// Record is one hub protocol message. Arguments carry base64 frames.
type Record struct {
	Type           RecordType `json:"type"`
	Target         string     `json:"target,omitempty"`
	Arguments      []string   `json:"arguments,omitempty"`
	Error          string     `json:"error,omitempty"`
	AllowReconnect bool       `json:"allowReconnect,omitempty"`
}

type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// AppendRecord appends v as one terminated JSON record.
func AppendRecord(dst []byte, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return dst, err
	}
	dst = append(dst, payload...)
	return append(dst, RecordSeparator), nil
}

// SplitRecords breaks one websocket message into its JSON records. Every
// record must be terminated.
func SplitRecords(data []byte, maxRecord int) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, RecordSeparator)
		if i < 0 {
			return out, ErrUnterminatedRecord
		}
		if maxRecord > 0 && i > maxRecord {
			return out, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, i)
		}
		out = append(out, data[:i])
		data = data[i+1:]
	}
	return out, nil
}

func DecodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
