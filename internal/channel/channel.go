// Package channel implements the EndpointChannel: a reliable,
// length-delimited, optionally-encrypted bidirectional frame pipe over one
// underlying transport Socket. It is the component B leaf every other piece
// of the connection engine is built on.
package channel

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/nearby-sub023/internal/crypto"
	"github.com/google/nearby-sub023/internal/frame"
)

// IOError wraps a read/write/close failure on a Channel, including a
// decryption failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("channel: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// ErrClosed is returned by ReadFrame/WriteFrame once the channel has been
// closed.
var ErrClosed = &IOError{Op: "closed", Err: io.ErrClosedPipe}

// Channel is one active duplex framed transport instance.
// At most one goroutine may call ReadFrame at a time (a single reader per
// channel is assumed); WriteFrame serializes internally and is safe for
// concurrent callers.
type Channel struct {
	name   string
	medium frame.Medium
	sock   Socket

	writeMu sync.Mutex
	pauseMu sync.Mutex
	pauseC  *sync.Cond
	paused  bool

	cipherMu sync.RWMutex
	cipher   *crypto.Cipher

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps sock as a named EndpointChannel over medium.
func New(name string, medium frame.Medium, sock Socket) *Channel {
	c := &Channel{
		name:   name,
		medium: medium,
		sock:   sock,
		closed: make(chan struct{}),
	}
	c.pauseC = sync.NewCond(&c.pauseMu)
	return c
}

// Name returns the channel's diagnostic name.
func (c *Channel) Name() string { return c.name }

// Medium returns the transport medium this channel runs over.
func (c *Channel) Medium() frame.Medium { return c.medium }

// MaxWriteSize reports the largest frame payload the channel can carry in
// one write, derived from the socket's MTU: a chunk must fit within one
// frame post-encryption.
func (c *Channel) MaxWriteSize() int {
	mtu := c.sock.MaxTransmissionUnit()
	const aeadOverhead = 16 // chacha20poly1305.Overhead
	const envelope = 4      // u32 length prefix
	usable := mtu - aeadOverhead - envelope
	if usable < 1 {
		usable = 1
	}
	return usable
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ReadFrame reads one complete frame, blocking. It does not acquire the
// write lock: a paused channel still drains reads, so control frames (e.g.
// BWU handoff messages) can arrive during an upgrade freeze.
func (c *Channel) ReadFrame() ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	raw, err := frame.ReadLengthPrefixed(c.sock.InputStream())
	if err != nil {
		return nil, &IOError{Op: "read", Err: err}
	}

	c.cipherMu.RLock()
	ciph := c.cipher
	c.cipherMu.RUnlock()
	if ciph == nil {
		return raw, nil
	}
	plain, err := ciph.Open(raw)
	if err != nil {
		return nil, &IOError{Op: "decrypt", Err: err}
	}
	return plain, nil
}

// WriteFrame writes one complete frame atomically; concurrent callers are
// serialized. While paused, the call blocks until Resume.
func (c *Channel) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.pauseMu.Lock()
	for c.paused && !c.isClosed() {
		c.pauseC.Wait()
	}
	c.pauseMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}

	c.cipherMu.RLock()
	ciph := c.cipher
	c.cipherMu.RUnlock()

	out := payload
	if ciph != nil {
		sealed, err := ciph.Seal(payload)
		if err != nil {
			return &IOError{Op: "encrypt", Err: err}
		}
		out = sealed
	}

	if err := frame.WriteLengthPrefixed(c.sock.OutputStream(), out); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// Pause freezes the writer: subsequent WriteFrame calls block until Resume.
// No data is lost. Used by BWU to freeze the old channel before swap.
func (c *Channel) Pause() {
	c.pauseMu.Lock()
	c.paused = true
	c.pauseMu.Unlock()
}

// Resume unblocks writers parked in WriteFrame.
func (c *Channel) Resume() {
	c.pauseMu.Lock()
	c.paused = false
	c.pauseC.Broadcast()
	c.pauseMu.Unlock()
}

// EnableEncryption installs a symmetric cipher context derived from the
// authentication handshake's session keys. After this call,
// every subsequent read/write is encrypted with a per-direction counter.
// It must be called at most once per channel.
func (c *Channel) EnableEncryption(keys crypto.SessionKeys) error {
	ciph, err := crypto.NewCipher(keys)
	if err != nil {
		return fmt.Errorf("channel: enable encryption: %w", err)
	}
	c.cipherMu.Lock()
	c.cipher = ciph
	c.cipherMu.Unlock()
	return nil
}

// Close is idempotent. It releases the transport socket, which unblocks a
// pending read with an *IOError, and wakes any writer parked on a pause;
// later ReadFrame/WriteFrame calls return ErrClosed.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.pauseMu.Lock()
		c.paused = false
		c.pauseC.Broadcast()
		c.pauseMu.Unlock()
		err = c.sock.Close()
	})
	return err
}
