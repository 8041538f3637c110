// Package wshost is a bridge.Host backed by a websocket relay. The relay
// speaks the host event format directly: every text message is one
// "eventName-payload" string, and outbound payloads are sent verbatim.
package wshost

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/danmuck/chatlink/internal/transport/hub"
	logs "github.com/danmuck/smplog"
)

const DefaultPath = "/bridge"

var ErrNotConnected = errors.New("wshost: not connected")

type Config struct {
	Path         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Secure       bool
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

type Host struct {
	cfg Config

	mu      sync.Mutex
	deliver func(string)
	conn    *websocket.Conn
	cancel  context.CancelFunc
}

func New(cfg Config) *Host {
	return &Host{cfg: cfg.withDefaults()}
}

func (h *Host) Attach(deliver func(raw string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliver = deliver
}

// Connect starts dialing the relay and returns immediately. The outcome
// arrives as a Connected or Disconnected event.
func (h *Host) Connect(endpoint string, port int, method string) error {
	target, err := hub.URL(endpoint, port, h.cfg.Path, h.cfg.Secure)
	if err != nil {
		return err
	}
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("method", method)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.mu.Unlock()

	go h.run(ctx, u.String())
	return nil
}

func (h *Host) run(ctx context.Context, target string) {
	dialCtx, cancelDial := context.WithTimeout(ctx, h.cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	cancelDial()
	if err != nil {
		if ctx.Err() == nil {
			h.emit("Disconnected-" + err.Error())
		}
		return
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	logs.Debugf("wshost.Host relay connected url=%s", target)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			h.mu.Lock()
			if h.conn == conn {
				h.conn = nil
			}
			h.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			reason := "closed"
			if status := websocket.CloseStatus(err); status == -1 {
				reason = err.Error()
			}
			h.emit("Disconnected-" + reason)
			return
		}
		if typ != websocket.MessageText {
			logs.Debugf("wshost.Host ignored binary relay message len=%d", len(data))
			continue
		}
		h.emit(string(data))
	}
}

func (h *Host) emit(raw string) {
	h.mu.Lock()
	deliver := h.deliver
	h.mu.Unlock()
	if deliver != nil {
		deliver(raw)
	}
}

func (h *Host) Send(payload string) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(payload))
}

func (h *Host) Stop() error {
	h.mu.Lock()
	conn, cancel := h.conn, h.cancel
	h.conn, h.cancel = nil, nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, "stop"); err != nil {
		logs.Debugf("wshost.Host close err=%v", err)
	}
	return nil
}
