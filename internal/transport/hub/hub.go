// Package hub carries envelope frames as base64 arguments of hub protocol
// invocations over a websocket.
package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/transport"
	logs "github.com/danmuck/smplog"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	Name = "hub"

	DefaultPath          = "/signalr"
	DefaultMethod        = "GenericEncodedBinary"
	DefaultMethodVersion = "V1"
	DefaultKeepAlive     = 15 * time.Second
)

var ErrServerClosed = errors.New("hub: server closed connection")

// Config names the hub endpoint and invocation targets. Outbound frames go
// to Method; inbound frames arrive on Method+Version.
type Config struct {
	Path      string
	Method    string
	Version   string
	KeepAlive time.Duration
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Path) == "" {
		c.Path = DefaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if strings.TrimSpace(c.Method) == "" {
		c.Method = DefaultMethod
	}
	if strings.TrimSpace(c.Version) == "" {
		c.Version = DefaultMethodVersion
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	return c
}

// InboundTarget is the invocation target the server uses for frames.
func (c Config) InboundTarget() string {
	return c.Method + c.Version
}

type Transport struct {
	opts  transport.Options
	cfg   Config
	codec *message.Codec

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	writeMu   sync.Mutex
	connected atomic.Bool
}

func New(opts transport.Options, cfg Config, codec *message.Codec) *Transport {
	return &Transport{opts: opts.WithDefaults(), cfg: cfg.WithDefaults(), codec: codec}
}

func Factory(opts transport.Options, cfg Config) transport.Factory {
	return func(codec *message.Codec) transport.Transport {
		return New(opts, cfg, codec)
	}
}

func (t *Transport) Name() string { return Name }

func (t *Transport) Connected() bool { return t.connected.Load() }

// URL builds the websocket URL for endpoint. A bare host gets ws:// (wss://
// when TLS is enabled); http and https schemes are mapped to ws and wss.
func URL(endpoint string, port int, path string, secure bool) (string, error) {
	raw := strings.TrimSpace(endpoint)
	if !strings.Contains(raw, "://") {
		scheme := "ws"
		if secure {
			scheme = "wss"
		}
		raw = scheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("hub: unsupported scheme %q", u.Scheme)
	}
	u.Host = u.Hostname() + ":" + strconv.Itoa(port)
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String(), nil
}

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

	target, err := URL(endpoint, port, t.cfg.Path, t.opts.TLS.Enabled)
	if err != nil {
		return err
	}
	u, _ := url.Parse(target)
	tlsCfg, err := t.opts.ClientTLSConfig(u.Hostname())
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: t.opts.HandshakeTimeout,
		TLSClientConfig:  tlsCfg,
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancelDial()
	conn, _, err := dialer.DialContext(dialCtx, target, nil)
	if err != nil {
		return err
	}
	// negotiate blocks on socket deadlines; closing the socket is what
	// unblocks it when the attempt is abandoned.
	stopWatch := context.AfterFunc(ctx, func() { _ = conn.Close() })
	leftover, err := t.negotiate(conn)
	stopWatch()
	if err != nil {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	if err := t.install(ctx, conn, cancel); err != nil {
		cancel()
		_ = conn.Close()
		return err
	}

	logs.Debugf("hub.Transport connected url=%s", target)
	go t.serve(connCtx, conn, leftover, h)
	return nil
}

// install publishes conn unless the attempt was abandoned while dialing.
func (t *Transport) install(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) error {
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

// negotiate runs the protocol handshake and returns any records the server
// sent in the same message as its response.
func (t *Transport) negotiate(conn *websocket.Conn) ([][]byte, error) {
	req, err := AppendRecord(nil, HandshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(t.opts.HandshakeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(t.opts.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	records, err := SplitRecords(data, t.maxRecord())
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrHandshakeRejected
	}
	var resp HandshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeRejected, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrHandshakeRejected, resp.Error)
	}
	return records[1:], nil
}

func (t *Transport) serve(ctx context.Context, conn *websocket.Conn, leftover [][]byte, h transport.Handler) {
	h(transport.Event{Type: transport.EventConnected})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, raw := range leftover {
			if err := t.handleRecord(raw, h); err != nil {
				return err
			}
		}
		return t.readLoop(conn, h)
	})
	g.Go(func() error {
		return t.keepAlive(gctx, conn)
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
	logs.Debugf("hub.Transport disconnected err=%v", err)
	h(transport.Event{Type: transport.EventDisconnected, Err: err})
}

func (t *Transport) readLoop(conn *websocket.Conn, h transport.Handler) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		records, err := SplitRecords(data, t.maxRecord())
		if err != nil {
			h(transport.Event{Type: transport.EventDecodeError, Raw: data, Err: err})
		}
		for _, raw := range records {
			if err := t.handleRecord(raw, h); err != nil {
				return err
			}
		}
	}
}

// handleRecord returns an error only when the server closed the connection.
func (t *Transport) handleRecord(raw []byte, h transport.Handler) error {
	rec, err := DecodeRecord(raw)
	if err != nil {
		h(transport.Event{Type: transport.EventDecodeError, Raw: raw, Err: err})
		return nil
	}
	switch rec.Type {
	case RecordInvocation:
		if !strings.EqualFold(rec.Target, t.cfg.InboundTarget()) {
			logs.Warnf("hub.Transport unknown invocation target=%q", rec.Target)
			return nil
		}
		for _, arg := range rec.Arguments {
			payload, err := base64.StdEncoding.DecodeString(arg)
			if err != nil {
				h(transport.Event{Type: transport.EventDecodeError, Raw: []byte(arg), Err: err})
				continue
			}
			h(transport.DecodeEvent(t.codec.Unmarshal(payload)))
		}
	case RecordPing, RecordCompletion:
	case RecordClose:
		if rec.Error != "" {
			return fmt.Errorf("%w: %s", ErrServerClosed, rec.Error)
		}
		return ErrServerClosed
	default:
		logs.Debugf("hub.Transport ignored record type=%d", rec.Type)
	}
	return nil
}

// keepAlive pings until ctx ends, then closes conn to unblock the reader.
func (t *Transport) keepAlive(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(t.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return conn.Close()
		case <-ticker.C:
			if err := t.writeRecord(conn, Record{Type: RecordPing}); err != nil {
				_ = conn.Close()
				return err
			}
		}
	}
}

func (t *Transport) writeRecord(conn *websocket.Conn, rec Record) error {
	payload, err := AppendRecord(nil, rec)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *Transport) Send(msg message.Message, encrypt bool) bool {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || !t.connected.Load() {
		return false
	}
	payload, err := t.codec.Marshal(msg, encrypt)
	if err != nil {
		logs.Errorf(err, "hub.Transport encode kind=%s", msg.Kind())
		return false
	}
	rec := Record{
		Type:      RecordInvocation,
		Target:    t.cfg.Method,
		Arguments: []string{base64.StdEncoding.EncodeToString(payload)},
	}
	if err := t.writeRecord(conn, rec); err != nil {
		logs.Warnf("hub.Transport write kind=%s err=%v", msg.Kind(), err)
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
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	cancel()
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (t *Transport) maxRecord() int {
	// base64 of a full frame plus JSON overhead.
	return int(t.codec.Limits().MaxPayloadBytes)*2 + 4096
}
