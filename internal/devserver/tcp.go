package devserver

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/protocol/frame"
	logs "github.com/danmuck/smplog"
)

// ServeTCP accepts framed socket clients until ln is closed.
func (s *Server) ServeTCP(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	var writeMu sync.Mutex
	p := s.newPeer("tcp", func(b []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_, err := conn.Write(b)
		return err
	}, conn.Close)
	defer s.remove(p)
	s.start(p)

	reader := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(reader, p.codec.Limits())
		if err != nil {
			return
		}
		m, err := p.codec.Decode(f)
		if err != nil {
			logs.Warnf("devserver tcp decode id=%d err=%v", p.ID, err)
			continue
		}
		s.handle(p, m)
	}
}
