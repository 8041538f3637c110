package hub

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/testutil/testlog"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/gorilla/websocket"
)

// fakeHub accepts one socket, answers the handshake with reply and then hands
// the connection to script.
func fakeHub(t *testing.T, reply []byte, script func(*websocket.Conn)) int {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
		script(conn)
	}))
	t.Cleanup(srv.Close)
	_, raw, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(raw)
	return port
}

func invocation(t *testing.T, codec *message.Codec, target string, m message.Message) []byte {
	t.Helper()
	payload, err := codec.Marshal(m, false)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec, err := AppendRecord(nil, Record{
		Type:      RecordInvocation,
		Target:    target,
		Arguments: []string{base64.StdEncoding.EncodeToString(payload)},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return rec
}

func next(t *testing.T, events <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transport event")
		return transport.Event{}
	}
}

func TestHubDeliversInvocationsAndClose(t *testing.T) {
	testlog.Start(t)
	codec := message.NewCodec(nil)
	inbound := Config{}.WithDefaults().InboundTarget()

	// the hello rides in the same socket message as the handshake response
	reply, _ := AppendRecord(nil, HandshakeResponse{})
	reply = append(reply, invocation(t, codec, inbound, &message.Hello{PublicKey: "pk"})...)

	port := fakeHub(t, reply, func(conn *websocket.Conn) {
		var batch []byte
		batch, _ = AppendRecord(batch, Record{Type: RecordPing})
		batch = append(batch, invocation(t, codec, "SomethingElse", &message.Heartbeat{})...)
		batch = append(batch, invocation(t, codec, inbound, &message.CredentialsRequest{})...)
		batch = append(batch, []byte("not json\x1e")...)
		batch, _ = AppendRecord(batch, Record{Type: RecordClose, Error: "maintenance"})
		_ = conn.WriteMessage(websocket.TextMessage, batch)
		_, _, _ = conn.ReadMessage()
	})

	tr := New(transport.DefaultOptions(), Config{}, codec)
	events := make(chan transport.Event, 16)
	if err := tr.Connect(context.Background(), "127.0.0.1", port, func(ev transport.Event) { events <- ev }); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if ev := next(t, events); ev.Type != transport.EventConnected {
		t.Fatalf("first event=%s", ev.Type)
	}
	if ev := next(t, events); ev.Type != transport.EventMessage || ev.Message.Kind() != message.KindHello {
		t.Fatalf("expected hello, got %s", ev.Type)
	}
	if ev := next(t, events); ev.Type != transport.EventMessage || ev.Message.Kind() != message.KindCredentialsRequest {
		t.Fatalf("expected credentials request, got %s", ev.Type)
	}
	if ev := next(t, events); ev.Type != transport.EventDecodeError {
		t.Fatalf("expected decode error, got %s", ev.Type)
	}
	ev := next(t, events)
	if ev.Type != transport.EventDisconnected || !errors.Is(ev.Err, ErrServerClosed) {
		t.Fatalf("expected server close, got %s err=%v", ev.Type, ev.Err)
	}
	if tr.Connected() {
		t.Fatalf("still connected")
	}
}

func TestHubSendWrapsFrames(t *testing.T) {
	testlog.Start(t)
	codec := message.NewCodec(nil)
	reply, _ := AppendRecord(nil, HandshakeResponse{})
	got := make(chan Record, 1)

	port := fakeHub(t, reply, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		records, err := SplitRecords(data, 0)
		if err != nil || len(records) == 0 {
			return
		}
		rec, err := DecodeRecord(records[0])
		if err != nil {
			return
		}
		got <- rec
		_, _, _ = conn.ReadMessage()
	})

	tr := New(transport.DefaultOptions(), Config{}, codec)
	if err := tr.Connect(context.Background(), "127.0.0.1", port, func(transport.Event) {}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()
	if !tr.Send(&message.ChatSend{Channel: "general", Content: "hi"}, true) {
		t.Fatalf("send failed")
	}

	select {
	case rec := <-got:
		if rec.Type != RecordInvocation || rec.Target != DefaultMethod || len(rec.Arguments) != 1 {
			t.Fatalf("unexpected record: %+v", rec)
		}
		payload, err := base64.StdEncoding.DecodeString(rec.Arguments[0])
		if err != nil {
			t.Fatalf("base64: %v", err)
		}
		m, err := codec.Unmarshal(payload)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if chat, ok := m.(*message.ChatSend); !ok || chat.Content != "hi" {
			t.Fatalf("unexpected message: %#v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received invocation")
	}
}

func TestHubHandshakeRejected(t *testing.T) {
	testlog.Start(t)
	reply, _ := AppendRecord(nil, HandshakeResponse{Error: "unsupported protocol"})
	port := fakeHub(t, reply, func(*websocket.Conn) {})

	tr := New(transport.DefaultOptions(), Config{}, message.NewCodec(nil))
	err := tr.Connect(context.Background(), "127.0.0.1", port, func(transport.Event) {})
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("expected ErrHandshakeRejected, got %v", err)
	}
	if tr.Connected() {
		t.Fatalf("connected after rejected handshake")
	}
}

func TestHubConnectAbandonedDuringNegotiate(t *testing.T) {
	testlog.Start(t)
	reply, _ := AppendRecord(nil, HandshakeResponse{})
	closed := make(chan struct{}, 2)
	var accepted atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if accepted.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			closed <- struct{}{}
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closed <- struct{}{}
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	_, raw, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(raw)

	tr := New(transport.DefaultOptions(), Config{}, message.NewCodec(nil))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	err := tr.Connect(ctx, "127.0.0.1", port, func(transport.Event) {})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("abandoned negotiate still waited %s", elapsed)
	}
	if tr.Connected() {
		t.Fatalf("abandoned attempt left the transport connected")
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("server socket from the abandoned attempt stayed open")
	}

	events := make(chan transport.Event, 4)
	if err := tr.Connect(context.Background(), "127.0.0.1", port, func(ev transport.Event) { events <- ev }); err != nil {
		t.Fatalf("connect after abandoned attempt: %v", err)
	}
	defer tr.Disconnect()
	if ev := next(t, events); ev.Type != transport.EventConnected {
		t.Fatalf("first event=%s err=%v", ev.Type, ev.Err)
	}
}
