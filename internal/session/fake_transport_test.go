package session

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/crypto"
	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu         sync.Mutex
	handler    transport.Handler
	connected  bool
	connects   int
	sendOK     bool
	connectErr error
	hold       chan struct{}
	abandoned  int
	sent       chan message.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sendOK: true, sent: make(chan message.Message, 256)}
}

func (f *fakeTransport) Name() string { return "fake" }

// Connect blocks while hold is set and open, like a slow dial.
func (f *fakeTransport) Connect(ctx context.Context, _ string, _ int, h transport.Handler) error {
	f.mu.Lock()
	f.connects++
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return err
	}
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			f.mu.Lock()
			f.abandoned++
			f.mu.Unlock()
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.handler = h
	f.connected = true
	f.mu.Unlock()
	h(transport.Event{Type: transport.EventConnected})
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) Send(m message.Message, _ bool) bool {
	f.mu.Lock()
	ok := f.connected && f.sendOK
	f.mu.Unlock()
	if ok {
		f.sent <- m
	}
	return ok
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setSendOK(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendOK = ok
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) holdDials() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = make(chan struct{})
	return f.hold
}

func (f *fakeTransport) abandonedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.abandoned
}

func (f *fakeTransport) emit(ev transport.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

func (f *fakeTransport) deliver(m message.Message) {
	f.emit(transport.Event{Type: transport.EventMessage, Message: m})
}

func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.emit(transport.Event{Type: transport.EventDisconnected, Err: err})
}

func (f *fakeTransport) expect(t *testing.T, kind message.Kind) message.Message {
	t.Helper()
	select {
	case m := <-f.sent:
		require.Equal(t, kind, m.Kind(), "unexpected outbound message")
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound %s", kind)
		return nil
	}
}

func (f *fakeTransport) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case m := <-f.sent:
		t.Fatalf("unexpected outbound %s", m.Kind())
	case <-time.After(wait):
	}
}

func testConfig() Config {
	return Config{
		HeartbeatInterval: time.Hour,
		SendRetryInterval: 10 * time.Millisecond,
		SendMaxRetries:    5,
		Reconnect: ReconnectConfig{
			Mode:  ReconnectFixed,
			Delay: 10 * time.Millisecond,
		},
	}
}

type harness struct {
	c    *Controller
	ft   *fakeTransport
	keys *crypto.ServerKeys
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	keys, err := crypto.GenerateServerKeys(rand.Reader)
	require.NoError(t, err)
	ft := newFakeTransport()
	c := New(func(*message.Codec) transport.Transport { return ft }, cfg)
	require.NoError(t, c.SetCredentials(Credentials{
		AppID:        "app1",
		AppSecret:    "secret1",
		UniqueUserID: "u1",
		Username:     "alice",
	}))
	t.Cleanup(func() { _ = c.Close() })
	return &harness{c: c, ft: ft, keys: keys}
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.c.State() == want }, 2*time.Second, 2*time.Millisecond,
		"state never reached %s (now %s)", want, h.c.State())
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.Connect("chat.test", 7777))
	h.waitState(t, StateAwaitingHandshake)
}

func (h *harness) handshake(t *testing.T, channels ...string) {
	t.Helper()
	h.ft.deliver(&message.Hello{PublicKey: h.keys.PublicKey()})
	esk := h.ft.expect(t, message.KindEncryptedSymmetricKey).(*message.EncryptedSymmetricKey)
	key, err := h.keys.OpenAnonymous(esk.Key)
	require.NoError(t, err)
	require.Len(t, key, crypto.KeySize)

	h.ft.deliver(&message.CredentialsRequest{})
	creds := h.ft.expect(t, message.KindCredentials).(*message.Credentials)
	require.Equal(t, "app1", creds.AppID)
	require.Equal(t, "secret1", creds.AppSecret)

	h.ft.deliver(&message.UserInfoRequest{})
	info := h.ft.expect(t, message.KindUserInfo).(*message.UserInfo)
	require.Equal(t, "u1", info.UniqueUserID)

	welcome := &message.Welcome{DisplayID: "alicex1234"}
	for _, name := range channels {
		welcome.Channels = append(welcome.Channels, message.ChannelInfo{Name: name})
	}
	h.ft.deliver(welcome)
	h.waitState(t, StateReady)
}
