// Package crypto provides the handshake key exchange and the symmetric
// channel that seals frame payloads after the handshake.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"
)

const (
	KeySize = chacha20poly1305.KeySize
	IVSize  = 16
)

var (
	ErrBadPublicKey = errors.New("crypto: bad public key")
	ErrOpenFailed   = errors.New("crypto: open failed")
)

// KeyExchange is the client half of the transport encryption bootstrap.
type KeyExchange interface {
	// GenerateSymmetric produces a fresh symmetric key and IV.
	GenerateSymmetric() (key, iv []byte, err error)
	// EncryptAsymmetric seals plain so only the holder of the private key
	// matching recipientPublicKey can read it.
	EncryptAsymmetric(plain []byte, recipientPublicKey string) ([]byte, error)
}

// BoxKeyExchange seals with curve25519 anonymous boxes. Public keys travel as
// standard base64 of the 32-byte key.
type BoxKeyExchange struct {
	Rand io.Reader
}

func (k BoxKeyExchange) random() io.Reader {
	if k.Rand != nil {
		return k.Rand
	}
	return rand.Reader
}

func (k BoxKeyExchange) GenerateSymmetric() ([]byte, []byte, error) {
	key := make([]byte, KeySize)
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(k.random(), key); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(k.random(), iv); err != nil {
		return nil, nil, err
	}
	return key, iv, nil
}

func (k BoxKeyExchange) EncryptAsymmetric(plain []byte, recipientPublicKey string) ([]byte, error) {
	pub, err := DecodePublicKey(recipientPublicKey)
	if err != nil {
		return nil, err
	}
	return box.SealAnonymous(nil, plain, pub, k.random())
}

// ServerKeys is the server half: it publishes a public key and opens what
// clients sealed to it.
type ServerKeys struct {
	public  *[32]byte
	private *[32]byte
}

func GenerateServerKeys(r io.Reader) (*ServerKeys, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &ServerKeys{public: pub, private: priv}, nil
}

func (s *ServerKeys) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.public[:])
}

func (s *ServerKeys) OpenAnonymous(sealed []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, s.public, s.private)
	if !ok {
		return nil, ErrOpenFailed
	}
	return out, nil
}

func DecodePublicKey(raw string) (*[32]byte, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: length %d", ErrBadPublicKey, len(b))
	}
	var key [32]byte
	copy(key[:], b)
	return &key, nil
}
