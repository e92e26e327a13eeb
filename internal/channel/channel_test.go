package channel

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/nearby-sub023/internal/crypto"
	"github.com/google/nearby-sub023/internal/frame"
)

// pipeSocket adapts a net.Conn (from net.Pipe) to the Socket interface for
// tests, standing in for a real platform transport.
type pipeSocket struct {
	conn net.Conn
	mtu  int
}

func (s *pipeSocket) InputStream() io.Reader        { return s.conn }
func (s *pipeSocket) OutputStream() io.Writer       { return s.conn }
func (s *pipeSocket) Close() error                  { return s.conn.Close() }
func (s *pipeSocket) MaxTransmissionUnit() int       { return s.mtu }

func newChannelPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	ca := New("a", frame.MediumWifiLAN, &pipeSocket{conn: a, mtu: 65536})
	cb := New("b", frame.MediumWifiLAN, &pipeSocket{conn: b, mtu: 65536})
	return ca, cb
}

func TestWriteReadRoundTrip(t *testing.T) {
	ca, cb := newChannelPair(t)
	defer ca.Close()
	defer cb.Close()

	go func() {
		if err := ca.WriteFrame([]byte("hello")); err != nil {
			t.Errorf("write: %v", err)
		}
	}()

	got, err := cb.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q want %q", got, "hello")
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	ca, cb := newChannelPair(t)
	defer ca.Close()
	defer cb.Close()

	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i)
	}
	keysA := crypto.SessionKeys{SendKey: secret, RecvKey: [32]byte{1}}
	keysB := crypto.SessionKeys{SendKey: [32]byte{1}, RecvKey: secret}
	if err := ca.EnableEncryption(keysA); err != nil {
		t.Fatal(err)
	}
	if err := cb.EnableEncryption(keysB); err != nil {
		t.Fatal(err)
	}

	go func() {
		_ = ca.WriteFrame([]byte("secret payload"))
	}()
	got, err := cb.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("secret payload")) {
		t.Fatalf("got %q", got)
	}
}

func TestCloseIsIdempotentAndUnblocksRead(t *testing.T) {
	ca, cb := newChannelPair(t)
	defer ca.Close()

	done := make(chan error, 1)
	go func() {
		_, err := cb.ReadFrame()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := cb.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := cb.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected ReadFrame to fail after close")
		}
	case <-time.After(time.Second):
		t.Fatal("ReadFrame did not unblock after Close")
	}

	if err := cb.WriteFrame([]byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestPauseBlocksWriterUntilResume(t *testing.T) {
	ca, cb := newChannelPair(t)
	defer ca.Close()
	defer cb.Close()

	ca.Pause()

	writeDone := make(chan error, 1)
	go func() {
		writeDone <- ca.WriteFrame([]byte("queued"))
	}()

	select {
	case <-writeDone:
		t.Fatal("write should block while paused")
	case <-time.After(50 * time.Millisecond):
	}

	ca.Resume()

	select {
	case err := <-writeDone:
		if err != nil {
			t.Fatalf("write after resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("write did not unblock after resume")
	}

	got, err := cb.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("queued")) {
		t.Fatalf("got %q", got)
	}
}

func TestPausedChannelStillDrainsReads(t *testing.T) {
	ca, cb := newChannelPair(t)
	defer ca.Close()
	defer cb.Close()

	// cb is paused for writing, but a frame sent by ca must still be
	// readable by cb's ReadFrame.
	cb.Pause()

	go func() { _ = ca.WriteFrame([]byte("control-frame-during-upgrade")) }()

	got, err := cb.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("control-frame-during-upgrade")) {
		t.Fatalf("got %q", got)
	}
}
