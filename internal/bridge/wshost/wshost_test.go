package wshost

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/danmuck/chatlink/internal/testutil/testlog"
)

func relay(t *testing.T, handle func(ctx context.Context, r *http.Request, conn *websocket.Conn)) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handle(r.Context(), r, conn)
	}))
	t.Cleanup(srv.Close)
	_, raw, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(raw)
	return port
}

func collect(h *Host) <-chan string {
	out := make(chan string, 16)
	h.Attach(func(raw string) { out <- raw })
	return out
}

func next(t *testing.T, events <-chan string) string {
	t.Helper()
	select {
	case raw := <-events:
		return raw
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for host event")
		return ""
	}
}

func TestHostRelaysTextMessages(t *testing.T) {
	testlog.Start(t)
	methods := make(chan string, 1)
	port := relay(t, func(ctx context.Context, r *http.Request, conn *websocket.Conn) {
		methods <- r.URL.Query().Get("method")
		_ = conn.Write(ctx, websocket.MessageText, []byte("Connected-ok"))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte{0x01})
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte("GenericEncodedBinaryV1-"+string(data)))
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	})

	h := New(Config{})
	events := collect(h)
	if err := h.Connect("127.0.0.1", port, "GenericEncodedBinaryV1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := next(t, events); got != "Connected-ok" {
		t.Fatalf("first event=%q", got)
	}
	if got := <-methods; got != "GenericEncodedBinaryV1" {
		t.Fatalf("method=%q", got)
	}
	if err := h.Send("AAEC"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := next(t, events); got != "GenericEncodedBinaryV1-AAEC" {
		t.Fatalf("echo=%q", got)
	}
	if got := next(t, events); !strings.HasPrefix(got, "Disconnected-") {
		t.Fatalf("expected disconnect, got %q", got)
	}
	if err := h.Send("AAEC"); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestHostDialFailureReportsDisconnect(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	h := New(Config{DialTimeout: 500 * time.Millisecond})
	events := collect(h)
	if err := h.Connect("127.0.0.1", port, "GenericEncodedBinaryV1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := next(t, events); !strings.HasPrefix(got, "Disconnected-") {
		t.Fatalf("expected disconnect, got %q", got)
	}
}

func TestStopSuppressesDisconnect(t *testing.T) {
	testlog.Start(t)
	port := relay(t, func(ctx context.Context, _ *http.Request, conn *websocket.Conn) {
		_ = conn.Write(ctx, websocket.MessageText, []byte("Connected-ok"))
		_, _, _ = conn.Read(ctx)
	})

	h := New(Config{})
	events := collect(h)
	if err := h.Connect("127.0.0.1", port, "GenericEncodedBinaryV1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	next(t, events)
	if err := h.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case raw := <-events:
		t.Fatalf("unexpected event after stop: %q", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectRejectsBadEndpoint(t *testing.T) {
	testlog.Start(t)
	h := New(Config{})
	if err := h.Connect("ftp://relay.test", 80, "m"); err == nil {
		t.Fatalf("expected scheme error")
	}
}
