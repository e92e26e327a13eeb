// Package crypto provides the pluggable authentication sub-state of the
// connection handshake ("produces session keys or fails") and the
// per-direction AEAD cipher context an EndpointChannel installs on
// EnableEncryption, keyed from the handshake's session keys and nonced from
// an explicit per-direction counter.
package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// SessionKeys are the two directional 32-byte keys produced by a successful
// Handshake.
type SessionKeys struct {
	SendKey [32]byte
	RecvKey [32]byte
}

// CounterMismatchError is returned by Open when the peer's encryption
// counter does not match ours. This is fatal: the caller must close the
// channel.
type CounterMismatchError struct {
	Expected uint64
}

func (e *CounterMismatchError) Error() string {
	return fmt.Sprintf("crypto: encryption counter mismatch (expected %d): decryption failed", e.Expected)
}

// Cipher is the per-channel encryption context installed by
// EndpointChannel.EnableEncryption. Writers serialize externally (the
// channel allows at most one writer at a time), so Seal/Open need no
// internal lock beyond guarding the counters.
type Cipher struct {
	mu sync.Mutex

	send        cipher.AEAD
	recv        cipher.AEAD
	sendCounter uint64
	recvCounter uint64
}

// NewCipher builds a Cipher from a handshake's SessionKeys. Both directions
// use ChaCha20-Poly1305.
func NewCipher(keys SessionKeys) (*Cipher, error) {
	send, err := chacha20poly1305.New(keys.SendKey[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: send cipher: %w", err)
	}
	recv, err := chacha20poly1305.New(keys.RecvKey[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: recv cipher: %w", err)
	}
	return &Cipher{send: send, recv: recv}, nil
}

func counterNonce(counter uint64, size int) []byte {
	nonce := make([]byte, size)
	binary.BigEndian.PutUint64(nonce[size-8:], counter)
	return nonce
}

// Seal encrypts one frame's plaintext, binding it to the current send
// counter, then increments the counter. Both sides must send/receive frames
// in strict order for decryption to succeed.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nonce := counterNonce(c.sendCounter, c.send.NonceSize())
	out := c.send.Seal(nil, nonce, plaintext, nil)
	c.sendCounter++
	return out, nil
}

// Open decrypts one frame's ciphertext using the current receive counter.
// On success the counter is incremented; on failure the counter is left
// untouched and a *CounterMismatchError-shaped failure is surfaced (it is
// also returned for genuine ciphertext corruption, not just counter drift --
// the wire format offers no way to tell these apart, so any decryption
// failure is fatal).
func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nonce := counterNonce(c.recvCounter, c.recv.NonceSize())
	out, err := c.recv.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &CounterMismatchError{Expected: c.recvCounter}
	}
	c.recvCounter++
	return out, nil
}
