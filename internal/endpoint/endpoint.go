// Package endpoint implements the Endpoint Manager: a reader/writer loop
// pair per connected endpoint, round-robin payload scheduling, and
// keep-alive liveness tracking -- small mutex-guarded state structs, a
// background ticker goroutine, and explicit timeout bookkeeping.
package endpoint

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/channelmgr"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/payload"
)

// DisconnectReason explains why an endpoint was torn down.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonIOError
	ReasonTimeout
	ReasonProtocol
	ReasonRemote
	ReasonLocal
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonIOError:
		return "ENDPOINT_IO_ERROR"
	case ReasonTimeout:
		return "TIMEOUT"
	case ReasonProtocol:
		return "PROTOCOL"
	case ReasonRemote:
		return "REMOTE_DISCONNECTION"
	case ReasonLocal:
		return "LOCAL_DISCONNECTION"
	default:
		return "UNKNOWN"
	}
}

// Default keep-alive tuning; both are configurable.
const (
	DefaultKeepAliveInterval = 5 * time.Second
	DefaultKeepAliveTimeout  = 30 * time.Second
)

// ProtocolError is raised internally when a frame violates the reader's
// expectations (unexpected variant for state, duplicate payload id, bad
// chunk). It always results in endpoint teardown with ReasonProtocol.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("endpoint: protocol error: %s", e.Reason) }

// Listener receives application-facing callbacks from the Manager.
type Listener interface {
	OnPayloadReceived(endpointID string, p *payload.Payload)
	OnPayloadTransferUpdate(endpointID string, id payload.ID, status payload.Status, bytesTransferred, total int64)
	OnDisconnected(endpointID string, reason DisconnectReason)

	// OnBandwidthUpgrade is invoked for every BANDWIDTH_UPGRADE_NEGOTIATION
	// frame received on the endpoint's channel. The endpoint manager only
	// keeps the channel's reader alive while an upgrade runs; the BWU
	// component (internal/bwu) owns all negotiation state and implements
	// this to receive its own protocol messages.
	OnBandwidthUpgrade(endpointID string, bwu *frame.BandwidthUpgrade)
}

// FileDestinationResolver lets the application supply a writable destination
// for an incoming FILE payload before its first chunk arrives; without one,
// an incoming FILE payload is a protocol error (the wire protocol has no
// mechanism for a receiver to name a destination itself).
type FileDestinationResolver func(endpointID string, id payload.ID, totalSize int64) (*os.File, error)

// Config tunes the manager's keep-alive cadence and optional FILE-payload
// handling.
type Config struct {
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration

	// ResolveFileDestination, if set, is consulted for every incoming FILE
	// payload header. Left nil, incoming FILE payloads are rejected as a
	// protocol error.
	ResolveFileDestination FileDestinationResolver
}

func (c Config) withDefaults() Config {
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	return c
}

// Manager owns every connected endpoint's reader/writer/keep-alive loops. It
// does not itself decide how channels are established (that is the PCP
// handler) -- Connect is handed an already-authenticated Channel.
type Manager struct {
	channels *channelmgr.Manager
	listener Listener
	cfg      Config

	mu        sync.Mutex
	endpoints map[string]*endpointState
}

// New builds a Manager backed by chMgr, delivering callbacks to listener.
func New(chMgr *channelmgr.Manager, listener Listener, cfg Config) *Manager {
	return &Manager{
		channels:  chMgr,
		listener:  listener,
		cfg:       cfg.withDefaults(),
		endpoints: make(map[string]*endpointState),
	}
}

type endpointState struct {
	id string

	outMu       sync.Mutex
	outQueue    []payload.ID
	outPayloads map[payload.ID]*payload.Payload
	headerSent  map[payload.ID]bool

	inMu     sync.Mutex
	incoming map[payload.ID]*payload.Payload

	aliveMu  sync.Mutex
	lastRecv time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func (es *endpointState) markAlive() {
	es.aliveMu.Lock()
	es.lastRecv = time.Now()
	es.aliveMu.Unlock()
}

func (es *endpointState) sinceLastRecv() time.Duration {
	es.aliveMu.Lock()
	last := es.lastRecv
	es.aliveMu.Unlock()
	return time.Since(last)
}

func (es *endpointState) isStopped() bool {
	select {
	case <-es.stop:
		return true
	default:
		return false
	}
}

// Connect registers ch as the endpoint's current channel and starts its
// reader, writer, and keep-alive loops.
func (m *Manager) Connect(endpointID string, ch *channel.Channel) error {
	if err := m.channels.RegisterChannel(endpointID, ch); err != nil {
		return err
	}
	es := &endpointState{
		id:          endpointID,
		outPayloads: make(map[payload.ID]*payload.Payload),
		headerSent:  make(map[payload.ID]bool),
		incoming:    make(map[payload.ID]*payload.Payload),
		stop:        make(chan struct{}),
	}
	es.markAlive()

	m.mu.Lock()
	m.endpoints[endpointID] = es
	m.mu.Unlock()

	es.wg.Add(3)
	go m.readLoop(es)
	go m.writeLoop(es)
	go m.keepAliveLoop(es)
	return nil
}

// SendPayload enqueues p for outgoing delivery to endpointID. Multiple
// payloads interleave round-robin.
func (m *Manager) SendPayload(endpointID string, p *payload.Payload) error {
	m.mu.Lock()
	es, ok := m.endpoints[endpointID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("endpoint: %q is not connected", endpointID)
	}
	es.outMu.Lock()
	es.outPayloads[p.ID()] = p
	es.outQueue = append(es.outQueue, p.ID())
	es.outMu.Unlock()
	return nil
}

// CancelPayload marks a locally-initiated payload canceled and notifies the
// peer; the channel itself is left intact.
func (m *Manager) CancelPayload(endpointID string, id payload.ID) error {
	m.mu.Lock()
	es, ok := m.endpoints[endpointID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("endpoint: %q is not connected", endpointID)
	}
	es.outMu.Lock()
	p, exists := es.outPayloads[id]
	es.outMu.Unlock()
	if !exists {
		return fmt.Errorf("endpoint: payload %d is not outgoing on %q", id, endpointID)
	}
	p.Cancel()

	ch := m.channels.Lookup(endpointID)
	if ch == nil {
		return nil
	}
	data, err := frame.Encode(&frame.OfflineFrame{
		Version: frame.CurrentVersion,
		Type:    frame.FramePayloadTransfer,
		Payload: &frame.PayloadTransfer{
			Kind:    frame.TransferControl,
			Control: &frame.ControlMessage{Kind: frame.ControlPayloadCanceled, PayloadID: int64(id), Offset: p.Offset()},
		},
	})
	if err != nil {
		return err
	}
	return ch.WriteFrame(data)
}

// Disconnect tears the endpoint down locally, best-effort notifying the peer.
func (m *Manager) Disconnect(endpointID string) {
	m.mu.Lock()
	es := m.endpoints[endpointID]
	m.mu.Unlock()
	if es == nil {
		return
	}
	m.teardown(es, ReasonLocal)
}

func (m *Manager) teardown(es *endpointState, reason DisconnectReason) {
	es.stopOnce.Do(func() {
		close(es.stop)
		if ch := m.channels.Lookup(es.id); ch != nil {
			data, err := frame.Encode(&frame.OfflineFrame{Version: frame.CurrentVersion, Type: frame.FrameDisconnection})
			if err == nil {
				_ = ch.WriteFrame(data)
			}
		}
		m.channels.Unregister(es.id)

		m.mu.Lock()
		delete(m.endpoints, es.id)
		m.mu.Unlock()

		if m.listener != nil {
			m.listener.OnDisconnected(es.id, reason)
		}
	})
}
