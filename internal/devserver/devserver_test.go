package devserver_test

import (
	"context"
	"net"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/auth"
	"github.com/danmuck/chatlink/internal/bridge/wshost"
	"github.com/danmuck/chatlink/internal/devserver"
	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/session"
	"github.com/danmuck/chatlink/internal/testutil/testlog"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/danmuck/chatlink/internal/transport/bridge"
	"github.com/danmuck/chatlink/internal/transport/hub"
	"github.com/danmuck/chatlink/internal/transport/tcp"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	srv      *devserver.Server
	tcpPort  int
	httpPort int
}

func startServer(t *testing.T, cfg devserver.Config) env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv, err := devserver.New(cfg)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.ServeTCP(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)

	return env{
		srv:      srv,
		tcpPort:  ln.Addr().(*net.TCPAddr).Port,
		httpPort: portOf(t, hs.Listener.Addr().String()),
	}
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, raw, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(raw)
	require.NoError(t, err)
	return port
}

type variant struct {
	name  string
	build func() transport.Factory
	port  func(env) int
}

func variants() []variant {
	opts := transport.DefaultOptions()
	return []variant{
		{
			name:  tcp.Name,
			build: func() transport.Factory { return tcp.Factory(opts) },
			port:  func(e env) int { return e.tcpPort },
		},
		{
			name:  hub.Name,
			build: func() transport.Factory { return hub.Factory(opts, hub.Config{}) },
			port:  func(e env) int { return e.httpPort },
		},
		{
			name: bridge.Name,
			build: func() transport.Factory {
				return bridge.Factory(wshost.New(wshost.Config{}), bridge.Config{})
			},
			port: func(e env) int { return e.httpPort },
		},
	}
}

func clientConfig() session.Config {
	return session.Config{
		HeartbeatInterval: time.Hour,
		SendRetryInterval: 20 * time.Millisecond,
		SendMaxRetries:    50,
		Reconnect: session.ReconnectConfig{
			Mode:  session.ReconnectFixed,
			Delay: 20 * time.Millisecond,
		},
	}
}

func newClient(t *testing.T, build transport.Factory) *session.Controller {
	t.Helper()
	c := session.New(build, clientConfig())
	require.NoError(t, c.SetCredentials(session.Credentials{
		AppID:        "app1",
		AppSecret:    "secret1",
		UniqueUserID: "u1",
		Username:     "alice",
	}))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
	})
	return c
}

func waitState(t *testing.T, c *session.Controller, want session.State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 5*time.Second, 5*time.Millisecond,
		"state never reached %s (now %s)", want, c.State())
}

func TestSessionEndToEnd(t *testing.T) {
	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			testlog.Start(t)
			cfg := devserver.DefaultConfig()
			cfg.Auth = auth.StaticCredentials{AppID: "app1", AppSecret: "secret1"}
			e := startServer(t, cfg)

			c := newClient(t, v.build())
			accepted := make(chan []message.ChannelInfo, 4)
			c.OnConnectionAccepted(func(channels []message.ChannelInfo) { accepted <- channels })
			joined := make(chan *message.ChannelJoined, 4)
			session.Subscribe(c, func(m *message.ChannelJoined) { joined <- m })
			chats := make(chan *message.Chat, 4)
			session.Subscribe(c, func(m *message.Chat) { chats <- m })

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// queued before the session is ready; flushed once the handshake completes
			sendErr := make(chan error, 1)
			go func() {
				sendErr <- c.Send(ctx, message.RequestAck(&message.JoinChannel{Channel: "lobby"}))
			}()

			require.NoError(t, c.Connect("127.0.0.1", v.port(e)))
			waitState(t, c, session.StateReady)
			assert.Equal(t, v.name, c.TransportName())
			assert.Regexp(t, `^[A-Za-z0-9]{6}[0-9]{4}$`, c.DisplayID())

			select {
			case channels := <-accepted:
				require.Len(t, channels, 1)
				assert.Equal(t, "general", channels[0].Name)
			case <-ctx.Done():
				t.Fatalf("connection never accepted")
			}

			require.NoError(t, <-sendErr)
			got, err := e.srv.WaitFor(ctx, message.KindJoinChannel)
			require.NoError(t, err)
			assert.Equal(t, "lobby", got.Message.(*message.JoinChannel).Channel)
			select {
			case m := <-joined:
				assert.Equal(t, "lobby", m.Channel.Name)
			case <-ctx.Done():
				t.Fatalf("no channel joined reply")
			}
			require.Eventually(t, func() bool { return len(c.PendingAcks()) == 0 }, 5*time.Second, 5*time.Millisecond)

			require.NoError(t, c.Send(ctx, &message.ChatSend{Channel: "general", Content: "hi"}))
			select {
			case m := <-chats:
				assert.Equal(t, "hi", m.Content)
				assert.Equal(t, c.DisplayID(), m.From.DisplayID)
			case <-ctx.Done():
				t.Fatalf("no chat echo")
			}
		})
	}
}

func TestSessionRecoversFromDroppedConnection(t *testing.T) {
	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			testlog.Start(t)
			e := startServer(t, devserver.DefaultConfig())
			c := newClient(t, v.build())
			var accepted atomic.Int32
			c.OnConnectionAccepted(func([]message.ChannelInfo) { accepted.Add(1) })

			require.NoError(t, c.Connect("127.0.0.1", v.port(e)))
			waitState(t, c, session.StateReady)
			first := c.Epoch()

			require.Eventually(t, func() bool { return e.srv.DropAll() > 0 }, 5*time.Second, 5*time.Millisecond)
			require.Eventually(t, func() bool {
				return c.State() == session.StateReady && c.Epoch() != first
			}, 5*time.Second, 5*time.Millisecond)
			require.Eventually(t, func() bool { return accepted.Load() == 2 }, 5*time.Second, 5*time.Millisecond)
		})
	}
}

func TestSessionRejectedCredentials(t *testing.T) {
	testlog.Start(t)
	cfg := devserver.DefaultConfig()
	cfg.Auth = auth.StaticCredentials{AppID: "app1", AppSecret: "other"}
	e := startServer(t, cfg)

	c := newClient(t, tcp.Factory(transport.DefaultOptions()))
	goodbyes := make(chan *message.Goodbye, 1)
	session.Subscribe(c, func(m *message.Goodbye) { goodbyes <- m })

	require.NoError(t, c.Connect("127.0.0.1", e.tcpPort))
	select {
	case m := <-goodbyes:
		assert.Equal(t, "invalid credentials", m.Reason)
		assert.False(t, m.AllowAutoReconnect)
	case <-time.After(5 * time.Second):
		t.Fatalf("no goodbye")
	}
	waitState(t, c, session.StateDisconnected)
}

func TestWhoisProducesSystemWhisper(t *testing.T) {
	testlog.Start(t)
	e := startServer(t, devserver.DefaultConfig())
	c := newClient(t, tcp.Factory(transport.DefaultOptions()))
	whispers := make(chan *message.Whisper, 1)
	session.Subscribe(c, func(m *message.Whisper) { whispers <- m })

	require.NoError(t, c.Connect("127.0.0.1", e.tcpPort))
	waitState(t, c, session.StateReady)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Send(ctx, &message.WhoisRequest{DisplayID: c.DisplayID()}))
	select {
	case m := <-whispers:
		assert.Equal(t, message.SystemUser, m.From)
		assert.Contains(t, m.Content, "Username: alice")
		assert.Contains(t, m.Content, "DisplayId: "+c.DisplayID())
	case <-ctx.Done():
		t.Fatalf("no whois notice")
	}
}

func TestHealthReportsPeers(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	srv, err := devserver.New(devserver.DefaultConfig())
	require.NoError(t, err)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"status":"ok","peers":0}`, w.Body.String())
}
