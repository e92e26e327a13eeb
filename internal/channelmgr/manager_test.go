package channelmgr

import (
	"io"
	"testing"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/frame"
)

type nopSocket struct{ closed bool }

func (s *nopSocket) InputStream() io.Reader  { return io.MultiReader() }
func (s *nopSocket) OutputStream() io.Writer { return io.Discard }
func (s *nopSocket) Close() error            { s.closed = true; return nil }
func (s *nopSocket) MaxTransmissionUnit() int { return 1024 }

func newTestChannel(name string) (*channel.Channel, *nopSocket) {
	sock := &nopSocket{}
	return channel.New(name, frame.MediumWifiLAN, sock), sock
}

func TestRegisterAndLookup(t *testing.T) {
	m := New()
	ch, _ := newTestChannel("c1")
	if err := m.RegisterChannel("E001", ch); err != nil {
		t.Fatal(err)
	}
	if got := m.Lookup("E001"); got != ch {
		t.Fatalf("lookup mismatch")
	}
	if m.Len() != 1 {
		t.Fatalf("expected len 1, got %d", m.Len())
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	m := New()
	ch1, _ := newTestChannel("c1")
	ch2, _ := newTestChannel("c2")
	if err := m.RegisterChannel("E001", ch1); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterChannel("E001", ch2); err == nil {
		t.Fatal("expected AlreadyRegisteredError")
	}
}

func TestReplaceChannelIsAtomicAndReturnsOld(t *testing.T) {
	m := New()
	ch1, _ := newTestChannel("c1")
	ch2, _ := newTestChannel("c2")
	if err := m.RegisterChannel("E001", ch1); err != nil {
		t.Fatal(err)
	}
	old, err := m.ReplaceChannel("E001", ch2)
	if err != nil {
		t.Fatal(err)
	}
	if old != ch1 {
		t.Fatalf("expected old channel back")
	}
	if got := m.Lookup("E001"); got != ch2 {
		t.Fatalf("lookup should now return new channel")
	}
}

func TestReplaceChannelUnknownEndpoint(t *testing.T) {
	m := New()
	ch, _ := newTestChannel("c1")
	if _, err := m.ReplaceChannel("E999", ch); err == nil {
		t.Fatal("expected NotRegisteredError")
	}
}

func TestUnregisterClosesChannel(t *testing.T) {
	m := New()
	ch, sock := newTestChannel("c1")
	if err := m.RegisterChannel("E001", ch); err != nil {
		t.Fatal(err)
	}
	m.Unregister("E001")
	if m.Lookup("E001") != nil {
		t.Fatal("expected nil after unregister")
	}
	if !sock.closed {
		t.Fatal("expected underlying socket to be closed")
	}
	// Idempotent.
	m.Unregister("E001")
}
