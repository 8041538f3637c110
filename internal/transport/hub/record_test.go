package hub

import (
	"errors"
	"testing"

	"github.com/danmuck/chatlink/internal/testutil/testlog"
)

func TestSplitRecords(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		data    string
		max     int
		want    []string
		wantErr error
	}{
		{name: "empty", data: "", want: nil},
		{name: "single", data: "{}\x1e", want: []string{"{}"}},
		{name: "multiple", data: "{\"type\":6}\x1e{\"type\":7}\x1e", want: []string{`{"type":6}`, `{"type":7}`}},
		{name: "unterminated tail", data: "{}\x1e{", want: []string{"{}"}, wantErr: ErrUnterminatedRecord},
		{name: "too large", data: "{\"type\":6}\x1e", max: 4, wantErr: ErrRecordTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SplitRecords([]byte(tc.data), tc.max)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("records=%d want %d", len(got), len(tc.want))
			}
			for i := range got {
				if string(got[i]) != tc.want[i] {
					t.Fatalf("record[%d]=%q want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestAppendAndDecodeRecord(t *testing.T) {
	testlog.Start(t)
	buf, err := AppendRecord(nil, Record{Type: RecordInvocation, Target: "GenericEncodedBinary", Arguments: []string{"AAEC"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	buf, err = AppendRecord(buf, Record{Type: RecordClose, Error: "shutting down", AllowReconnect: true})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	records, err := SplitRecords(buf, 0)
	if err != nil || len(records) != 2 {
		t.Fatalf("split: records=%d err=%v", len(records), err)
	}
	inv, err := DecodeRecord(records[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inv.Type != RecordInvocation || inv.Target != "GenericEncodedBinary" || len(inv.Arguments) != 1 {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
	closing, err := DecodeRecord(records[1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if closing.Type != RecordClose || closing.Error != "shutting down" || !closing.AllowReconnect {
		t.Fatalf("unexpected close: %+v", closing)
	}
	if _, err := DecodeRecord([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestURL(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		endpoint string
		secure   bool
		want     string
		wantErr  bool
	}{
		{endpoint: "chat.example.com", want: "ws://chat.example.com:8080/signalr"},
		{endpoint: "chat.example.com", secure: true, want: "wss://chat.example.com:8080/signalr"},
		{endpoint: "https://chat.example.com", want: "wss://chat.example.com:8080/signalr"},
		{endpoint: "http://chat.example.com:9000/custom", want: "ws://chat.example.com:8080/custom"},
		{endpoint: "ftp://chat.example.com", wantErr: true},
	}
	for _, tc := range cases {
		got, err := URL(tc.endpoint, 8080, DefaultPath, tc.secure)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("URL(%q) expected error", tc.endpoint)
			}
			continue
		}
		if err != nil {
			t.Fatalf("URL(%q): %v", tc.endpoint, err)
		}
		if got != tc.want {
			t.Fatalf("URL(%q)=%q want %q", tc.endpoint, got, tc.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Path: "hub"}.WithDefaults()
	if cfg.Path != "/hub" {
		t.Fatalf("path=%q", cfg.Path)
	}
	if cfg.InboundTarget() != "GenericEncodedBinaryV1" {
		t.Fatalf("inbound target=%q", cfg.InboundTarget())
	}
	if cfg.KeepAlive != DefaultKeepAlive {
		t.Fatalf("keepalive=%s", cfg.KeepAlive)
	}
}
