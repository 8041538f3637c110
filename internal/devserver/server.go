// Package devserver is a small in-process chat server speaking the client
// wire protocol over tcp, hub and bridge relay sockets. It runs the server
// half of the handshake, acknowledges ack-requested messages and echoes chat
// to connected peers. chatctl exposes it for local testing.
package devserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/danmuck/chatlink/internal/auth"
	"github.com/danmuck/chatlink/internal/crypto"
	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/transport/hub"
	logs "github.com/danmuck/smplog"
)

const receivedBuffer = 1024

type Config struct {
	Auth           auth.Validator
	Channels       []message.ChannelInfo
	APIVersion     string
	DisableAutoAck bool
	Hub            hub.Config
	BridgePath     string
}

func DefaultConfig() Config {
	return Config{
		Auth:       auth.AllowAll,
		Channels:   []message.ChannelInfo{{Name: "general", Persistent: true}},
		APIVersion: "1",
		BridgePath: "/bridge",
	}
}

// Received is one decoded client message.
type Received struct {
	Peer    *Peer
	Message message.Message
}

type Server struct {
	cfg  Config
	keys *crypto.ServerKeys

	mu       sync.Mutex
	peers    map[*Peer]struct{}
	seq      int
	received chan Received
}

func New(cfg Config) (*Server, error) {
	if cfg.Auth == nil {
		cfg.Auth = auth.AllowAll
	}
	if cfg.BridgePath == "" {
		cfg.BridgePath = "/bridge"
	}
	cfg.Hub = cfg.Hub.WithDefaults()
	keys, err := crypto.GenerateServerKeys(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		keys:     keys,
		peers:    make(map[*Peer]struct{}),
		received: make(chan Received, receivedBuffer),
	}, nil
}

// Peer is one connected client.
type Peer struct {
	ID        int
	Transport string

	channel *crypto.Channel
	codec   *message.Codec
	write   func([]byte) error
	close   func() error

	mu        sync.Mutex
	username  string
	uniqueID  string
	displayID string
	ready     bool
}

func (p *Peer) Send(m message.Message) error {
	payload, err := p.codec.Marshal(m, true)
	if err != nil {
		return err
	}
	return p.write(payload)
}

func (p *Peer) Close() error {
	return p.close()
}

func (p *Peer) DisplayID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayID
}

func (p *Peer) Username() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.username
}

func (p *Peer) user() message.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return message.User{Name: p.username, DisplayID: p.displayID, Type: message.UserTypeUser}
}

func (s *Server) newPeer(transport string, write func([]byte) error, closeFn func() error) *Peer {
	channel := crypto.NewChannel()
	s.mu.Lock()
	s.seq++
	p := &Peer{
		ID:        s.seq,
		Transport: transport,
		channel:   channel,
		codec:     message.NewCodec(channel),
		write:     write,
		close:     closeFn,
	}
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	return p
}

// start greets a new peer with the server's public key.
func (s *Server) start(p *Peer) {
	logs.Infof("devserver peer connected id=%d transport=%s", p.ID, p.Transport)
	if err := p.Send(&message.Hello{PublicKey: s.keys.PublicKey(), APIVersion: s.cfg.APIVersion}); err != nil {
		logs.Warnf("devserver hello id=%d err=%v", p.ID, err)
	}
}

func (s *Server) remove(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	logs.Infof("devserver peer disconnected id=%d transport=%s", p.ID, p.Transport)
}

func (s *Server) handle(p *Peer, m message.Message) {
	select {
	case s.received <- Received{Peer: p, Message: m}:
	default:
		logs.Debugf("devserver received buffer full, dropping kind=%s", m.Kind())
	}

	switch msg := m.(type) {
	case *message.EncryptedSymmetricKey:
		if err := s.establish(p, msg); err != nil {
			logs.Warnf("devserver key exchange id=%d err=%v", p.ID, err)
			_ = p.Close()
			return
		}
		s.reply(p, &message.CredentialsRequest{})
	case *message.Credentials:
		if err := s.cfg.Auth.Validate(msg.AppID, msg.AppSecret); err != nil {
			logs.Warnf("devserver rejected credentials id=%d app=%q", p.ID, msg.AppID)
			s.reply(p, &message.Goodbye{Reason: "invalid credentials"})
			_ = p.Close()
			return
		}
		s.reply(p, &message.UserInfoRequest{})
	case *message.UserInfo:
		p.mu.Lock()
		p.username = msg.Username
		p.uniqueID = msg.UniqueUserID
		p.displayID = makeDisplayID(msg.Username, p.ID)
		p.ready = true
		displayID := p.displayID
		p.mu.Unlock()
		s.reply(p, &message.Welcome{DisplayID: displayID, Channels: s.cfg.Channels})
	case *message.JoinChannel:
		s.reply(p, &message.ChannelJoined{Channel: message.ChannelInfo{Name: msg.Channel}, CanLeave: true})
	case *message.LeaveChannel:
		s.reply(p, &message.ChannelLeft{Channel: msg.Channel})
	case *message.ChatSend:
		s.Broadcast(&message.Chat{Channel: msg.Channel, From: p.user(), Content: msg.Content, SentAt: time.Now().UTC()})
	case *message.WhisperSend:
		if target := s.peerByDisplayID(msg.Recipient); target != nil {
			s.reply(target, &message.Whisper{From: p.user(), To: target.user(), Content: msg.Content, SentAt: time.Now().UTC()})
		}
	case *message.SetUsername:
		p.mu.Lock()
		p.username = msg.Username
		displayID := p.displayID
		p.mu.Unlock()
		s.reply(p, &message.SetUsernameResponse{Success: true, Username: msg.Username, DisplayID: displayID})
	case *message.WhoisRequest:
		resp := &message.UserInfoResponse{DisplayID: msg.DisplayID, Reason: "no such user"}
		if target := s.peerByDisplayID(msg.DisplayID); target != nil {
			u := target.user()
			resp = &message.UserInfoResponse{Success: true, Username: u.Name, DisplayID: u.DisplayID}
		}
		s.reply(p, resp)
	case *message.ChannelHistoryRequest:
		s.reply(p, &message.History{Channel: msg.Channel})
	case *message.WhisperHistoryRequest:
		s.reply(p, &message.History{Peer: msg.Peer})
	}

	if m.IsAckRequested() && !s.cfg.DisableAutoAck {
		s.reply(p, &message.Ack{AckedID: m.MessageID()})
	}
}

func (s *Server) establish(p *Peer, msg *message.EncryptedSymmetricKey) error {
	key, err := s.keys.OpenAnonymous(msg.Key)
	if err != nil {
		return err
	}
	iv, err := s.keys.OpenAnonymous(msg.IV)
	if err != nil {
		return err
	}
	return p.channel.Establish(key, iv)
}

func (s *Server) reply(p *Peer, m message.Message) {
	if err := p.Send(m); err != nil {
		logs.Warnf("devserver send id=%d kind=%s err=%v", p.ID, m.Kind(), err)
	}
}

func (s *Server) snapshot() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Server) peerByDisplayID(id string) *Peer {
	for _, p := range s.snapshot() {
		if strings.EqualFold(p.DisplayID(), id) {
			return p
		}
	}
	return nil
}

// Broadcast sends m to every peer that completed the handshake.
func (s *Server) Broadcast(m message.Message) int {
	sent := 0
	for _, p := range s.snapshot() {
		p.mu.Lock()
		ready := p.ready
		p.mu.Unlock()
		if ready {
			s.reply(p, m)
			sent++
		}
	}
	return sent
}

// DropAll closes every peer connection without a goodbye.
func (s *Server) DropAll() int {
	peers := s.snapshot()
	for _, p := range peers {
		_ = p.Close()
	}
	return len(peers)
}

// Goodbye tells every peer the server is closing, then drops them.
func (s *Server) Goodbye(reason string, allowReconnect bool) {
	for _, p := range s.snapshot() {
		s.reply(p, &message.Goodbye{Reason: reason, AllowAutoReconnect: allowReconnect})
		_ = p.Close()
	}
}

func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// WaitFor returns the next received message of kind, discarding others.
func (s *Server) WaitFor(ctx context.Context, kind message.Kind) (Received, error) {
	for {
		select {
		case <-ctx.Done():
			return Received{}, fmt.Errorf("devserver: waiting for %s: %w", kind, ctx.Err())
		case r := <-s.received:
			if r.Message.Kind() == kind {
				return r, nil
			}
		}
	}
}

var errNoPeers = errors.New("devserver: no peers")

// Whisper sends a whisper from the SYSTEM user to the peer with displayID.
func (s *Server) Whisper(displayID, content string) error {
	target := s.peerByDisplayID(displayID)
	if target == nil {
		return errNoPeers
	}
	return target.Send(&message.Whisper{From: message.SystemUser, To: target.user(), Content: content, SentAt: time.Now().UTC()})
}

// makeDisplayID builds six ASCII alphanumerics from name followed by four digits.
func makeDisplayID(name string, n int) string {
	var b strings.Builder
	for _, r := range name {
		if b.Len() == 6 {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	for b.Len() < 6 {
		b.WriteByte('x')
	}
	return fmt.Sprintf("%s%04d", b.String(), n%10000)
}
