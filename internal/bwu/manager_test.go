package bwu

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/channelmgr"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/mediums"
)

type pipeSocket struct {
	conn net.Conn
	mtu  int
}

func (s *pipeSocket) InputStream() io.Reader  { return s.conn }
func (s *pipeSocket) OutputStream() io.Writer { return s.conn }
func (s *pipeSocket) Close() error            { return s.conn.Close() }
func (s *pipeSocket) MaxTransmissionUnit() int { return s.mtu }

// pipeServer/pipeUpgrader is a minimal in-process mediums.Upgrader test
// double: StartServer and Dial on the SAME instance are bridged by a
// net.Pipe, standing in for a real medium driver (internal/mediums/loopback
// plays this role for production use).
type pipeServer struct {
	medium frame.Medium
	connCh chan net.Conn
}

func (s *pipeServer) Params() frame.BWUPathAvailable { return frame.BWUPathAvailable{Medium: s.medium} }

func (s *pipeServer) Accept(ctx context.Context) (channel.Socket, error) {
	select {
	case c := <-s.connCh:
		return &pipeSocket{conn: c, mtu: 65536}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *pipeServer) Close() error { return nil }

type pipeUpgrader struct {
	medium frame.Medium
	mu     sync.Mutex
	latest *pipeServer
}

func (u *pipeUpgrader) Medium() frame.Medium { return u.medium }

func (u *pipeUpgrader) StartServer(context.Context) (mediums.Server, error) {
	s := &pipeServer{medium: u.medium, connCh: make(chan net.Conn, 1)}
	u.mu.Lock()
	u.latest = s
	u.mu.Unlock()
	return s, nil
}

func (u *pipeUpgrader) Dial(context.Context, frame.BWUPathAvailable) (channel.Socket, error) {
	u.mu.Lock()
	s := u.latest
	u.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("pipeUpgrader: no server started")
	}
	connA, connB := net.Pipe()
	s.connCh <- connA
	return &pipeSocket{conn: connB, mtu: 65536}, nil
}

// forwardBWUFrames mimics the endpoint reader loop's BWU dispatch: it reads
// frames off ch and forwards BANDWIDTH_UPGRADE_NEGOTIATION ones to handle,
// so the test doesn't need to pull in internal/endpoint.
func forwardBWUFrames(ch *channel.Channel, handle func(*frame.BandwidthUpgrade)) {
	for {
		raw, err := ch.ReadFrame()
		if err != nil {
			return
		}
		f, err := frame.Decode(raw)
		if err != nil {
			continue
		}
		if f.Type == frame.FrameBandwidthUpgrade {
			handle(f.BWU)
		}
	}
}

func TestUpgradeMigratesToNewMedium(t *testing.T) {
	connA, connB := net.Pipe()
	sockA := &pipeSocket{conn: connA, mtu: 65536}
	sockB := &pipeSocket{conn: connB, mtu: 65536}

	chA := channel.New("peer", frame.MediumBLE, sockA)
	chB := channel.New("peer", frame.MediumBLE, sockB)

	chMgrA, chMgrB := channelmgr.New(), channelmgr.New()
	if err := chMgrA.RegisterChannel("B", chA); err != nil {
		t.Fatalf("RegisterChannel A: %v", err)
	}
	if err := chMgrB.RegisterChannel("A", chB); err != nil {
		t.Fatalf("RegisterChannel B: %v", err)
	}

	shared := &pipeUpgrader{medium: frame.MediumWifiHotspot}
	registryA, registryB := mediums.NewRegistry(), mediums.NewRegistry()
	registryA.Register(shared)
	registryB.Register(shared)

	cfg := Config{AcceptTimeout: 2 * time.Second, HandoffTimeout: 2 * time.Second, MaxAttemptsPerMedium: 1}
	mgrA := New(frame.StrategyStar, "A", chMgrA, registryA, cfg)
	mgrB := New(frame.StrategyStar, "B", chMgrB, registryB, cfg)

	go forwardBWUFrames(chA, func(f *frame.BandwidthUpgrade) { mgrA.HandleFrame("B", f) })
	go forwardBWUFrames(chB, func(f *frame.BandwidthUpgrade) { mgrB.HandleFrame("A", f) })

	errC := make(chan error, 1)
	go func() { errC <- mgrA.Upgrade(context.Background(), "B") }()

	select {
	case err := <-errC:
		if err != nil {
			t.Fatalf("Upgrade: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Upgrade never completed")
	}

	newA := chMgrA.Lookup("B")
	if newA == nil || newA == chA {
		t.Fatal("expected channel manager A to hold a new channel for B")
	}
	if newA.Medium() != frame.MediumWifiHotspot {
		t.Fatalf("expected upgraded medium WIFI_HOTSPOT, got %v", newA.Medium())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b := chMgrB.Lookup("A"); b != nil && b != chB {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("responder side never swapped in the new channel")
}

func TestUpgradeFailsWhenNoMediumRegistered(t *testing.T) {
	_, connB := net.Pipe()
	defer connB.Close()
	chA := channel.New("peer", frame.MediumBLE, &pipeSocket{conn: connB, mtu: 1024})

	chMgr := channelmgr.New()
	if err := chMgr.RegisterChannel("B", chA); err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}

	mgr := New(frame.StrategyStar, "A", chMgr, mediums.NewRegistry(), Config{})
	err := mgr.Upgrade(context.Background(), "B")
	if err != ErrNoMediumSucceeded {
		t.Fatalf("expected ErrNoMediumSucceeded, got %v", err)
	}
}

func TestUpgradeFailsWithoutActiveChannel(t *testing.T) {
	mgr := New(frame.StrategyStar, "A", channelmgr.New(), mediums.NewRegistry(), Config{})
	if err := mgr.Upgrade(context.Background(), "missing"); err != ErrNoActiveChannel {
		t.Fatalf("expected ErrNoActiveChannel, got %v", err)
	}
}
