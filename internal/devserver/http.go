package devserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	cws "github.com/coder/websocket"
	"github.com/danmuck/chatlink/internal/transport/hub"
	logs "github.com/danmuck/smplog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Router serves the hub endpoint, the bridge relay and a health probe.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "peers": s.Peers()})
	})
	r.GET(s.cfg.Hub.Path, func(c *gin.Context) {
		s.serveHub(c.Writer, c.Request)
	})
	r.GET(s.cfg.BridgePath, func(c *gin.Context) {
		s.serveBridge(c.Writer, c.Request)
	})
	return r
}

func (s *Server) serveHub(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("devserver hub upgrade err=%v", err)
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	records, err := hub.SplitRecords(data, 0)
	if err != nil || len(records) == 0 {
		return
	}
	var req hub.HandshakeRequest
	resp := hub.HandshakeResponse{}
	if err := json.Unmarshal(records[0], &req); err != nil || req.Protocol != "json" {
		resp.Error = "unsupported protocol"
	}
	ack, _ := hub.AppendRecord(nil, resp)
	if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil || resp.Error != "" {
		return
	}

	var writeMu sync.Mutex
	target := s.cfg.Hub.InboundTarget()
	p := s.newPeer("hub", func(b []byte) error {
		rec, err := hub.AppendRecord(nil, hub.Record{
			Type:      hub.RecordInvocation,
			Target:    target,
			Arguments: []string{base64.StdEncoding.EncodeToString(b)},
		})
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, rec)
	}, conn.Close)
	defer s.remove(p)
	s.start(p)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		records, err := hub.SplitRecords(data, 0)
		if err != nil {
			logs.Warnf("devserver hub records id=%d err=%v", p.ID, err)
			continue
		}
		for _, raw := range records {
			rec, err := hub.DecodeRecord(raw)
			if err != nil {
				continue
			}
			switch rec.Type {
			case hub.RecordInvocation:
				for _, arg := range rec.Arguments {
					s.handleEncoded(p, arg)
				}
			case hub.RecordClose:
				return
			}
		}
	}
}

func (s *Server) serveBridge(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, nil)
	if err != nil {
		logs.Warnf("devserver bridge accept err=%v", err)
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	event := r.URL.Query().Get("method")
	if event == "" {
		event = s.cfg.Hub.InboundTarget()
	}
	write := func(text string) error {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return conn.Write(wctx, cws.MessageText, []byte(text))
	}
	if err := write("Connected-ok"); err != nil {
		return
	}
	p := s.newPeer("bridge", func(b []byte) error {
		return write(event + "-" + base64.StdEncoding.EncodeToString(b))
	}, func() error {
		return conn.Close(cws.StatusGoingAway, "dropped")
	})
	defer s.remove(p)
	s.start(p)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == cws.MessageText {
			s.handleEncoded(p, string(data))
		}
	}
}

func (s *Server) handleEncoded(p *Peer, arg string) {
	payload, err := base64.StdEncoding.DecodeString(arg)
	if err != nil {
		logs.Warnf("devserver bad base64 id=%d err=%v", p.ID, err)
		return
	}
	m, err := p.codec.Unmarshal(payload)
	if err != nil {
		logs.Warnf("devserver decode id=%d transport=%s err=%v", p.ID, p.Transport, err)
		return
	}
	s.handle(p, m)
}
