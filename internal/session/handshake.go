package session

import (
	"fmt"

	"github.com/danmuck/chatlink/internal/crypto"
	"github.com/danmuck/chatlink/internal/message"
)

// Stage is the next handshake message the client expects.
type Stage int

const (
	StageHello Stage = iota
	StageCredentials
	StageUserInfo
	StageWelcome
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageHello:
		return "await_hello"
	case StageCredentials:
		return "await_credentials_request"
	case StageUserInfo:
		return "await_user_info_request"
	case StageWelcome:
		return "await_welcome"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Step is the outcome of feeding one handshake message.
type Step struct {
	// Reply is sent straight to the transport when set.
	Reply   message.Message
	Encrypt bool
	// InSequence is false when the message arrived out of order and was
	// ignored by the handshake.
	InSequence bool
	Completed  bool
	Welcome    *message.Welcome
}

// Handshake drives Hello, CredentialsRequest, UserInfoRequest, Welcome
// strictly in that order. It is not safe for concurrent use; the controller
// serializes access.
type Handshake struct {
	kx      crypto.KeyExchange
	channel *crypto.Channel
	profile Profile
	creds   Credentials
	stage   Stage
}

func NewHandshake(kx crypto.KeyExchange, channel *crypto.Channel, profile Profile) *Handshake {
	return &Handshake{kx: kx, channel: channel, profile: profile}
}

// Begin restarts the handshake from Hello with a snapshot of creds and drops
// any previously established symmetric key.
func (h *Handshake) Begin(creds Credentials) {
	h.creds = creds
	h.stage = StageHello
	h.channel.Reset()
}

func (h *Handshake) Stage() Stage {
	return h.stage
}

// Handle advances on m. Errors mean the key exchange itself failed.
func (h *Handshake) Handle(m message.Message) (Step, error) {
	switch msg := m.(type) {
	case *message.Hello:
		if h.stage != StageHello {
			return Step{}, nil
		}
		reply, err := h.exchangeKeys(msg.PublicKey)
		if err != nil {
			return Step{}, err
		}
		h.stage = StageCredentials
		return Step{Reply: reply, InSequence: true}, nil

	case *message.CredentialsRequest:
		if h.stage != StageCredentials {
			return Step{}, nil
		}
		h.stage = StageUserInfo
		return Step{
			Reply:      &message.Credentials{AppID: h.creds.AppID, AppSecret: h.creds.AppSecret},
			Encrypt:    true,
			InSequence: true,
		}, nil

	case *message.UserInfoRequest:
		if h.stage != StageUserInfo {
			return Step{}, nil
		}
		h.stage = StageWelcome
		return Step{
			Reply: &message.UserInfo{
				UniqueUserID:   h.creds.UniqueUserID,
				Username:       h.creds.Username,
				Platform:       h.profile.Platform,
				RuntimeVersion: h.profile.RuntimeVersion,
				RuntimeMode:    h.profile.Mode,
				Language:       h.profile.Language,
			},
			Encrypt:    true,
			InSequence: true,
		}, nil

	case *message.Welcome:
		if h.stage != StageWelcome {
			return Step{}, nil
		}
		h.stage = StageDone
		return Step{InSequence: true, Completed: true, Welcome: msg}, nil
	}
	return Step{}, nil
}

func (h *Handshake) exchangeKeys(publicKey string) (*message.EncryptedSymmetricKey, error) {
	key, iv, err := h.kx.GenerateSymmetric()
	if err != nil {
		return nil, fmt.Errorf("session: generate symmetric key: %w", err)
	}
	sealedKey, err := h.kx.EncryptAsymmetric(key, publicKey)
	if err != nil {
		return nil, fmt.Errorf("session: seal symmetric key: %w", err)
	}
	sealedIV, err := h.kx.EncryptAsymmetric(iv, publicKey)
	if err != nil {
		return nil, fmt.Errorf("session: seal symmetric iv: %w", err)
	}
	if err := h.channel.Establish(key, iv); err != nil {
		return nil, err
	}
	return &message.EncryptedSymmetricKey{Key: sealedKey, IV: sealedIV}, nil
}

// IsHandshakeMessage reports the server kinds the handshake consumes.
func IsHandshakeMessage(k message.Kind) bool {
	switch k {
	case message.KindHello, message.KindCredentialsRequest, message.KindUserInfoRequest, message.KindWelcome:
		return true
	}
	return false
}
