// Package tcp carries envelope frames over a raw TCP (optionally TLS) socket.
package tcp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/protocol/frame"
	"github.com/danmuck/chatlink/internal/transport"
	logs "github.com/danmuck/smplog"
	"golang.org/x/sync/errgroup"
)

const Name = "tcp"

var ErrPeerClosed = errors.New("tcp: peer closed connection")

type Transport struct {
	opts  transport.Options
	codec *message.Codec

	mu     sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc

	writeMu   sync.Mutex
	connected atomic.Bool
}

func New(opts transport.Options, codec *message.Codec) *Transport {
	return &Transport{opts: opts.WithDefaults(), codec: codec}
}

// Factory adapts New for session.New.
func Factory(opts transport.Options) transport.Factory {
	return func(codec *message.Codec) transport.Transport {
		return New(opts, codec)
	}
}

func (t *Transport) Name() string { return Name }

func (t *Transport) Connected() bool { return t.connected.Load() }

func (t *Transport) Connect(ctx context.Context, endpoint string, port int, h transport.Handler) error {
	if err := transport.ValidateEndpoint(endpoint, port); err != nil {
		return err
	}
	if err := t.opts.ValidateClient(); err != nil {
		return err
	}
	t.mu.Lock()
	busy := t.conn != nil
	t.mu.Unlock()
	if busy {
		return transport.ErrAlreadyConnected
	}

	conn, err := t.dial(ctx, endpoint, net.JoinHostPort(endpoint, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	connCtx, cancel := context.WithCancel(context.Background())
	if err := t.install(ctx, conn, cancel); err != nil {
		cancel()
		_ = conn.Close()
		return err
	}

	logs.Debugf("tcp.Transport connected remote=%s", conn.RemoteAddr())
	go t.serve(connCtx, conn, h)
	return nil
}

// install publishes conn unless the attempt was abandoned while dialing.
// The check shares t.mu with Disconnect, so a caller that cancels ctx and
// then calls Disconnect never leaves a connection behind.
func (t *Transport) install(ctx context.Context, conn net.Conn, cancel context.CancelFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.conn != nil {
		return transport.ErrAlreadyConnected
	}
	t.conn = conn
	t.cancel = cancel
	t.connected.Store(true)
	return nil
}

func (t *Transport) dial(ctx context.Context, host, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: t.opts.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := t.opts.ClientTLSConfig(host)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	if tlsCfg == nil {
		return rawConn, nil
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, t.opts.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// serve owns the handler for conn: it reports the connection, every inbound
// frame in order, and finally the disconnect.
func (t *Transport) serve(ctx context.Context, conn net.Conn, h transport.Handler) {
	h(transport.Event{Type: transport.EventConnected})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.readLoop(conn, h)
	})
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	err := g.Wait()

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.cancel = nil
		t.connected.Store(false)
	}
	t.mu.Unlock()

	if ctx.Err() != nil {
		err = nil
	}
	logs.Debugf("tcp.Transport disconnected remote=%s err=%v", conn.RemoteAddr(), err)
	h(transport.Event{Type: transport.EventDisconnected, Err: err})
}

func (t *Transport) readLoop(conn net.Conn, h transport.Handler) error {
	reader := bufio.NewReader(conn)
	limits := t.codec.Limits()
	for {
		f, err := frame.ReadFrame(reader, limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrPeerClosed
			}
			return err
		}
		h(transport.DecodeEvent(t.codec.Decode(f)))
	}
}

func (t *Transport) Send(msg message.Message, encrypt bool) bool {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || !t.connected.Load() {
		return false
	}
	f, err := t.codec.Encode(msg, encrypt)
	if err != nil {
		logs.Errorf(err, "tcp.Transport encode kind=%s", msg.Kind())
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
		return false
	}
	if err := frame.WriteFrame(conn, f, t.codec.Limits()); err != nil {
		logs.Warnf("tcp.Transport write kind=%s err=%v", msg.Kind(), err)
		_ = conn.Close()
		return false
	}
	return true
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn, cancel := t.conn, t.cancel
	t.conn, t.cancel = nil, nil
	t.connected.Store(false)
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
