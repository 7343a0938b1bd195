package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrAuthenticationFailure indicates an AEAD open failed. The nonce is
	// still consumed; the channel is never rewound.
	ErrAuthenticationFailure = errors.New("cipher authentication failure")
	// ErrNonceExhausted indicates the 64-bit nonce counter is spent. The
	// channel must be replaced by a fresh handshake.
	ErrNonceExhausted = errors.New("nonce counter exhausted")
)

// CipherChannel is one direction of an established session: a symmetric
// ChaCha20-Poly1305 key plus a monotonic nonce counter. The counter is
// owned exclusively by the channel and increments by exactly one per
// encrypt or decrypt call, so a nonce can never be reused under the key.
//
// The nonce layout follows the Noise convention: four zero bytes followed
// by the little-endian 64-bit counter.
type CipherChannel struct {
	mu      sync.Mutex
	aead    cipher.AEAD
	counter uint64
	key     [32]byte
}

// NewCipherChannel creates a channel from a freshly derived symmetric key.
// Keys for the two directions of a session are derived independently;
// callers must never hand the same key to two channels.
func NewCipherChannel(key [32]byte) (*CipherChannel, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &CipherChannel{aead: aead, key: key}, nil
}

// Encrypt seals plaintext under the current key and nonce, then advances
// the counter. The returned slice is ciphertext plus the 16-byte tag.
func (c *CipherChannel) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.consumeNonce()
	if err != nil {
		return nil, err
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext under the current key and nonce. The counter
// advances even when authentication fails: a bad frame costs its nonce and
// is a hard per-message failure, not retried on the same channel.
func (c *CipherChannel) Decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.consumeNonce()
	if err != nil {
		return nil, err
	}

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}

// consumeNonce builds the nonce for the current counter value and spends
// it. Callers must hold c.mu.
func (c *CipherChannel) consumeNonce() ([]byte, error) {
	if c.counter == math.MaxUint64 {
		return nil, ErrNonceExhausted
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], c.counter)
	c.counter++
	return nonce, nil
}

// Nonce returns the current counter value, mainly for diagnostics.
func (c *CipherChannel) Nonce() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// Wipe erases the channel key and poisons the counter. The channel is
// unusable afterward.
func (c *CipherChannel) Wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ZeroBytes(c.key[:])
	c.counter = math.MaxUint64
}
