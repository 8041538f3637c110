package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrChannelNotReady = errors.New("crypto: channel not established")

// Channel seals payloads with the negotiated symmetric key. Sealed output is
// nonce || ciphertext; the IV is bound as additional data. A Channel starts
// empty and is reset whenever a new connection epoch begins.
type Channel struct {
	mu   sync.RWMutex
	aead cipher.AEAD
	iv   []byte
}

func NewChannel() *Channel {
	return &Channel{}
}

func (c *Channel) Establish(key, iv []byte) error {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("crypto: establish channel: %w", err)
	}
	if len(iv) == 0 {
		return fmt.Errorf("crypto: establish channel: empty iv")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aead = aead
	c.iv = append([]byte(nil), iv...)
	return nil
}

func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aead = nil
	c.iv = nil
}

func (c *Channel) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aead != nil
}

func (c *Channel) Seal(plain []byte) ([]byte, error) {
	c.mu.RLock()
	aead, iv := c.aead, c.iv
	c.mu.RUnlock()
	if aead == nil {
		return nil, ErrChannelNotReady
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, iv), nil
}

func (c *Channel) Open(sealed []byte) ([]byte, error) {
	c.mu.RLock()
	aead, iv := c.aead, c.iv
	c.mu.RUnlock()
	if aead == nil {
		return nil, ErrChannelNotReady
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrOpenFailed
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, iv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	return plain, nil
}
