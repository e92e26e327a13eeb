package pcp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/nearby-sub023/internal/channelmgr"
	"github.com/google/nearby-sub023/internal/clientproxy"
	"github.com/google/nearby-sub023/internal/endpoint"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/payload"
)

type pipeSocket struct {
	conn net.Conn
	mtu  int
}

func (s *pipeSocket) InputStream() io.Reader  { return s.conn }
func (s *pipeSocket) OutputStream() io.Writer { return s.conn }
func (s *pipeSocket) Close() error            { return s.conn.Close() }
func (s *pipeSocket) MaxTransmissionUnit() int { return s.mtu }

type nopEndpointListener struct{}

func (nopEndpointListener) OnPayloadReceived(string, *payload.Payload)                 {}
func (nopEndpointListener) OnPayloadTransferUpdate(string, payload.ID, payload.Status, int64, int64) {}
func (nopEndpointListener) OnDisconnected(string, endpoint.DisconnectReason)           {}
func (nopEndpointListener) OnBandwidthUpgrade(string, *frame.BandwidthUpgrade)         {}

type capturingPCPListener struct {
	initiatedC chan string
	resultC    chan error
}

func newCapturingPCPListener() *capturingPCPListener {
	return &capturingPCPListener{initiatedC: make(chan string, 4), resultC: make(chan error, 4)}
}

func (l *capturingPCPListener) OnConnectionInitiated(endpointID string, _ []byte) {
	l.initiatedC <- endpointID
}

func (l *capturingPCPListener) OnConnectionResult(_ string, err error) {
	l.resultC <- err
}

func TestRequestAndAcceptConnectionEstablishesEndpoint(t *testing.T) {
	connA, connB := net.Pipe()
	sockA := &pipeSocket{conn: connA, mtu: 65536}
	sockB := &pipeSocket{conn: connB, mtu: 65536}

	cpA, cpB := clientproxy.New(), clientproxy.New()
	chMgrA, chMgrB := channelmgr.New(), channelmgr.New()
	epMgrA := endpoint.New(chMgrA, nopEndpointListener{}, endpoint.Config{})
	epMgrB := endpoint.New(chMgrB, nopEndpointListener{}, endpoint.Config{})

	lnA := newCapturingPCPListener()
	lnB := newCapturingPCPListener()
	mgrA := New(frame.StrategyPointToPoint, "A", []byte("infoA"), cpA, chMgrA, epMgrA, lnA)
	mgrB := New(frame.StrategyPointToPoint, "B", []byte("infoB"), cpB, chMgrB, epMgrB, lnB)

	ctx := context.Background()

	go func() {
		_ = mgrB.HandleIncomingConnection(ctx, frame.MediumWifiLAN, sockB)
	}()

	reqErrC := make(chan error, 1)
	go func() {
		reqErrC <- mgrA.RequestConnection(ctx, frame.MediumWifiLAN, "B", sockA)
	}()

	select {
	case endpointID := <-lnB.initiatedC:
		if endpointID != "A" {
			t.Fatalf("expected initiating endpoint id A, got %q", endpointID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("responder never observed the connection request")
	}

	if err := mgrB.AcceptConnection("A"); err != nil {
		t.Fatalf("AcceptConnection: %v", err)
	}

	select {
	case err := <-reqErrC:
		if err != nil {
			t.Fatalf("RequestConnection: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("initiator never completed RequestConnection")
	}

	if mgrA.State("B") != StateEstablished {
		t.Fatalf("expected initiator state ESTABLISHED, got %v", mgrA.State("B"))
	}
	if mgrB.State("A") != StateEstablished {
		t.Fatalf("expected responder state ESTABLISHED, got %v", mgrB.State("A"))
	}

	mgrA.endpoints.Disconnect("B")
	mgrB.endpoints.Disconnect("A")
}

func TestRejectConnectionReportsRejectionToInitiator(t *testing.T) {
	connA, connB := net.Pipe()
	sockA := &pipeSocket{conn: connA, mtu: 65536}
	sockB := &pipeSocket{conn: connB, mtu: 65536}

	cpA, cpB := clientproxy.New(), clientproxy.New()
	chMgrA, chMgrB := channelmgr.New(), channelmgr.New()
	epMgrA := endpoint.New(chMgrA, nopEndpointListener{}, endpoint.Config{})
	epMgrB := endpoint.New(chMgrB, nopEndpointListener{}, endpoint.Config{})

	lnB := newCapturingPCPListener()
	mgrA := New(frame.StrategyPointToPoint, "A", []byte("infoA"), cpA, chMgrA, epMgrA, nil)
	mgrB := New(frame.StrategyPointToPoint, "B", []byte("infoB"), cpB, chMgrB, epMgrB, lnB)

	ctx := context.Background()
	go func() { _ = mgrB.HandleIncomingConnection(ctx, frame.MediumWifiLAN, sockB) }()

	reqErrC := make(chan error, 1)
	go func() { reqErrC <- mgrA.RequestConnection(ctx, frame.MediumWifiLAN, "B", sockA) }()

	select {
	case <-lnB.initiatedC:
	case <-time.After(2 * time.Second):
		t.Fatal("responder never observed the connection request")
	}

	if err := mgrB.RejectConnection("A"); err != nil {
		t.Fatalf("RejectConnection: %v", err)
	}

	select {
	case err := <-reqErrC:
		if err != ErrConnectionRejected {
			t.Fatalf("expected ErrConnectionRejected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("initiator never observed the rejection")
	}
}

func TestRequestConnectionRespectsPointToPointTopology(t *testing.T) {
	cp := clientproxy.New()
	chMgr := channelmgr.New()
	epMgr := endpoint.New(chMgr, nopEndpointListener{}, endpoint.Config{})
	mgr := New(frame.StrategyPointToPoint, "A", nil, cp, chMgr, epMgr, nil)

	mgr.mu.Lock()
	mgr.records["existing"] = &record{endpointID: "existing", direction: DirectionOutgoing, state: StateEstablished}
	mgr.mu.Unlock()

	_, sockB := net.Pipe()
	defer sockB.Close()
	sock := &pipeSocket{conn: sockB, mtu: 1024}

	err := mgr.RequestConnection(context.Background(), frame.MediumWifiLAN, "other", sock)
	if err != ErrAlreadyConnected {
		t.Fatalf("expected ErrAlreadyConnected under POINT_TO_POINT with an existing connection, got %v", err)
	}
}
