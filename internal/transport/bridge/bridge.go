// Package bridge drives a socket hosted outside the process. The host
// reports activity as "eventName-payload" strings through Deliver; frames
// travel as base64 payloads of the inbound method event.
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/transport"
	logs "github.com/danmuck/smplog"
)

const (
	Name = "bridge"

	EventConnected    = "Connected"
	EventDisconnected = "Disconnected"
	EventError        = "Error"

	DefaultMethod        = "GenericEncodedBinary"
	DefaultMethodVersion = "V1"
	inboxSize            = 256
)

var (
	ErrHostRequired  = errors.New("bridge: host required")
	ErrMalformedCall = errors.New("bridge: malformed host event")
)

// Host is the external socket. Implementations report events by calling the
// deliver function passed to Attach; Stop must make them stop.
type Host interface {
	Attach(deliver func(raw string))
	Connect(endpoint string, port int, method string) error
	Send(payload string) error
	Stop() error
}

type Config struct {
	Method  string
	Version string
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Method) == "" {
		c.Method = DefaultMethod
	}
	if strings.TrimSpace(c.Version) == "" {
		c.Version = DefaultMethodVersion
	}
	return c
}

// connection is the state of one Connect call. Events for it flow through a
// single goroutine so the handler sees them in order.
type connection struct {
	h     transport.Handler
	inbox chan string
	quit  chan struct{}
	done  chan struct{}
	// stopped is set once; whoever sets it closes quit.
	stopped atomic.Bool
	// silent suppresses the Disconnected event for a Connect that failed.
	silent bool
}

// stop ends conn without touching the inbox, so it is safe from the pump
// goroutine itself. It reports false if conn was already stopping.
func (c *connection) stop() bool {
	if !c.stopped.CompareAndSwap(false, true) {
		return false
	}
	close(c.quit)
	return true
}

type Transport struct {
	host  Host
	cfg   Config
	codec *message.Codec

	mu        sync.Mutex
	cur       *connection
	connected atomic.Bool
}

func New(host Host, cfg Config, codec *message.Codec) *Transport {
	t := &Transport{host: host, cfg: cfg.WithDefaults(), codec: codec}
	if host != nil {
		host.Attach(t.Deliver)
	}
	return t
}

func Factory(host Host, cfg Config) transport.Factory {
	return func(codec *message.Codec) transport.Transport {
		return New(host, cfg, codec)
	}
}

func (t *Transport) Name() string { return Name }

func (t *Transport) Connected() bool { return t.connected.Load() }

func (t *Transport) Connect(ctx context.Context, endpoint string, port int, h transport.Handler) error {
	if t.host == nil {
		return ErrHostRequired
	}
	if err := transport.ValidateEndpoint(endpoint, port); err != nil {
		return err
	}
	conn := &connection{
		h:     h,
		inbox: make(chan string, inboxSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	t.mu.Lock()
	if t.cur != nil {
		t.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	t.cur = conn
	t.mu.Unlock()
	go t.pump(conn)

	if err := t.host.Connect(endpoint, port, t.cfg.Method+t.cfg.Version); err != nil {
		conn.silent = true
		t.release(conn)
		conn.stop()
		return err
	}
	return nil
}

// Deliver is the host callback. It may be called from any goroutine.
func (t *Transport) Deliver(raw string) {
	t.mu.Lock()
	conn := t.cur
	t.mu.Unlock()
	if conn == nil {
		logs.Debugf("bridge.Transport event with no connection raw=%.40q", raw)
		return
	}
	conn.post(raw)
}

func (c *connection) post(raw string) {
	if c.stopped.Load() {
		return
	}
	select {
	case c.inbox <- raw:
	case <-c.quit:
	case <-c.done:
	}
}

// pump is the only goroutine that calls conn.h. It reports Disconnected
// exactly once, whichever side ended the connection.
func (t *Transport) pump(conn *connection) {
	defer close(conn.done)
	var err error
	for running := true; running; {
		select {
		case <-conn.quit:
			running = false
		case raw := <-conn.inbox:
			if conn.stopped.Load() {
				running = false
				continue
			}
			running, err = t.handle(conn, raw)
		}
	}
	t.release(conn)
	if !conn.silent {
		conn.h(transport.Event{Type: transport.EventDisconnected, Err: err})
	}
}

// handle returns false once the host has ended the connection.
func (t *Transport) handle(conn *connection, raw string) (bool, error) {
	name, payload, ok := strings.Cut(raw, "-")
	if !ok {
		logs.Errorf(ErrMalformedCall, "bridge.Transport bad host event raw=%.60q", raw)
		return true, nil
	}
	switch {
	case name == EventConnected:
		t.connected.Store(true)
		conn.h(transport.Event{Type: transport.EventConnected})
	case name == EventDisconnected:
		var err error
		if payload != "" {
			err = fmt.Errorf("bridge: host disconnected: %s", payload)
		}
		t.release(conn)
		conn.stop()
		return false, err
	case name == EventError:
		logs.Warnf("bridge.Transport host error=%q", payload)
	case strings.EqualFold(name, t.cfg.Method+t.cfg.Version):
		frame, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			conn.h(transport.Event{Type: transport.EventDecodeError, Raw: []byte(payload), Err: err})
			return true, nil
		}
		conn.h(transport.DecodeEvent(t.codec.Unmarshal(frame)))
	default:
		logs.Warnf("bridge.Transport unknown host event name=%q", name)
	}
	return true, nil
}

func (t *Transport) release(conn *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == conn {
		t.cur = nil
		t.connected.Store(false)
	}
}

func (t *Transport) Send(msg message.Message, encrypt bool) bool {
	if t.host == nil || !t.connected.Load() {
		return false
	}
	payload, err := t.codec.Marshal(msg, encrypt)
	if err != nil {
		logs.Errorf(err, "bridge.Transport encode kind=%s", msg.Kind())
		return false
	}
	if err := t.host.Send(base64.StdEncoding.EncodeToString(payload)); err != nil {
		logs.Warnf("bridge.Transport host send kind=%s err=%v", msg.Kind(), err)
		return false
	}
	return true
}

// Disconnect releases the connection before returning so an immediate
// Connect succeeds. The pump still reports Disconnected to the old handler.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn := t.cur
	t.cur = nil
	t.connected.Store(false)
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := t.host.Stop()
	conn.stop()
	return err
}
