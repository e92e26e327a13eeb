package connections

import (
	"testing"
	"time"

	"github.com/google/nearby-sub023/internal/config"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/mediums"
	"github.com/google/nearby-sub023/internal/mediums/loopback"
	"github.com/google/nearby-sub023/internal/metrics"
	"github.com/google/nearby-sub023/internal/payload"
)

// capturingListener records every callback Advertise/Discover can fire so a
// test can block on the one it cares about without dropping the rest.
type capturingListener struct {
	NopListener
	accept    func(endpointID string)
	found     chan string
	connected chan string
	received  chan *payload.Payload
	progress  chan payload.Status
}

func newCapturingListener() *capturingListener {
	return &capturingListener{
		found:     make(chan string, 4),
		connected: make(chan string, 4),
		received:  make(chan *payload.Payload, 4),
		progress:  make(chan payload.Status, 16),
	}
}

func (l *capturingListener) OnEndpointFound(endpointID string, _ []byte) { l.found <- endpointID }
func (l *capturingListener) OnConnectionInitiated(endpointID string, _ []byte) {
	if l.accept != nil {
		l.accept(endpointID)
	}
}
func (l *capturingListener) OnConnectionResult(_ string, status Status) {
	if status == StatusOK {
		l.connected <- "ok"
	}
}
func (l *capturingListener) OnPayloadReceived(_ string, p *payload.Payload) { l.received <- p }
func (l *capturingListener) OnPayloadProgress(_ string, _ payload.ID, status payload.Status, _, _ int64) {
	l.progress <- status
}

// sharedLoopbackRegistry returns one mediums.Registry per side, both backed
// by the same *loopback.Upgrader instance for BLUETOOTH -- two Connections
// sessions in one test process stand in for two devices, the way
// internal/mediums/loopback is built to support.
func sharedLoopbackRegistry() (*mediums.Registry, *mediums.Registry) {
	up := loopback.New(frame.MediumBluetooth, "test-host")
	a, b := mediums.NewRegistry(), mediums.NewRegistry()
	a.Register(up)
	b.Register(up)
	return a, b
}

func bluetoothOnly() config.SessionOptions {
	return config.SessionOptions{
		Strategy:       config.StrategyPointToPoint,
		AllowedMediums: config.AllowedMediums{Bluetooth: true},
	}
}

// TestAdvertiseDiscoverSendPayload drives the happy path end to end:
// advertiser A accepts discoverer B, B sends a BYTES payload, A observes it
// byte-for-byte with a terminal SUCCESS progress event.
func TestAdvertiseDiscoverSendPayload(t *testing.T) {
	regA, regB := sharedLoopbackRegistry()
	a := New(regA, metrics.New(), "AAAA")
	b := New(regB, metrics.New(), "BBBB")

	listenerA := newCapturingListener()
	listenerA.accept = func(id string) { a.AcceptConnection(id) }
	listenerB := newCapturingListener()

	if st := a.Advertise("svc", []byte("deviceA"), bluetoothOnly(), listenerA); st != StatusOK {
		t.Fatalf("Advertise: %s", st)
	}
	defer a.StopAllEndpoints()

	if st := b.Discover("svc", bluetoothOnly(), listenerB); st != StatusOK {
		t.Fatalf("Discover: %s", st)
	}
	defer b.StopAllEndpoints()

	select {
	case endpointID := <-listenerB.found:
		if endpointID != "AAAA" {
			t.Fatalf("found endpoint %q, want AAAA", endpointID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnEndpointFound")
	}

	if st := b.RequestConnection("AAAA", []byte("deviceB"), listenerB); st != StatusOK {
		t.Fatalf("RequestConnection: %s", st)
	}

	select {
	case <-listenerA.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for advertiser OnConnectionResult")
	}
	select {
	case <-listenerB.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for discoverer OnConnectionResult")
	}

	want := []byte("hi")
	if st := b.SendPayload([]string{"AAAA"}, payload.NewOutgoingBytes(want)); st != StatusOK {
		t.Fatalf("SendPayload: %s", st)
	}

	select {
	case p := <-listenerA.received:
		got, ok := p.AsBytes()
		if !ok || string(got) != string(want) {
			t.Fatalf("received payload %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnPayloadReceived")
	}

	for {
		select {
		case status := <-listenerA.progress:
			if status == payload.StatusSuccess {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a terminal SUCCESS progress event")
		}
	}
}

// TestPointToPointRejectsSecondOutgoing: once B is connected to A under
// P2P_POINT_TO_POINT, a second
// outgoing RequestConnection from B to the same, already-connected endpoint
// is rejected with ALREADY_CONNECTED_TO_ENDPOINT, not silently accepted.
func TestPointToPointRejectsSecondOutgoing(t *testing.T) {
	regA, regB := sharedLoopbackRegistry()
	a := New(regA, metrics.New(), "AAAA")
	b := New(regB, metrics.New(), "BBBB")

	listenerA := newCapturingListener()
	listenerA.accept = func(id string) { a.AcceptConnection(id) }
	listenerB := newCapturingListener()

	if st := a.Advertise("svc", []byte("deviceA"), bluetoothOnly(), listenerA); st != StatusOK {
		t.Fatalf("Advertise: %s", st)
	}
	defer a.StopAllEndpoints()
	if st := b.Discover("svc", bluetoothOnly(), listenerB); st != StatusOK {
		t.Fatalf("Discover: %s", st)
	}
	defer b.StopAllEndpoints()

	<-listenerB.found
	if st := b.RequestConnection("AAAA", []byte("deviceB"), listenerB); st != StatusOK {
		t.Fatalf("first RequestConnection: %s", st)
	}
	<-listenerB.connected

	if st := b.RequestConnection("AAAA", []byte("deviceB"), listenerB); st != StatusAlreadyConnectedToEndpoint {
		t.Fatalf("second RequestConnection to the same endpoint = %s, want ALREADY_CONNECTED_TO_ENDPOINT", st)
	}
}

// TestStopAdvertisingIdempotent: a second StopAdvertising is a no-op --
// StopAdvertising itself doesn't return a Status, so the property under
// test is that it never panics or blocks on a second call.
func TestStopAdvertisingIdempotent(t *testing.T) {
	reg := mediums.NewRegistry()
	a := New(reg, metrics.New(), "AAAA")
	listener := newCapturingListener()
	if st := a.Advertise("svc", []byte("deviceA"), bluetoothOnly(), listener); st != StatusOK {
		t.Fatalf("Advertise: %s", st)
	}
	a.StopAdvertising()
	a.StopAdvertising()
}
