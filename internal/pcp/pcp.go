// Package pcp implements the PCP (Pre-Connection Protocol) Handler: the
// strategy-specific lifecycle from a discovered/incoming socket to a fully
// established, authenticated endpoint handed off to the endpoint manager,
// expressed as one Manager parameterized by a TopologyPolicy rather than a
// handler per strategy.
package pcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/channelmgr"
	"github.com/google/nearby-sub023/internal/clientproxy"
	"github.com/google/nearby-sub023/internal/crypto"
	"github.com/google/nearby-sub023/internal/endpoint"
	"github.com/google/nearby-sub023/internal/frame"
)

// DefaultConnectionTimeout bounds how long request_connection/the incoming
// handshake wait for a peer response.
const DefaultConnectionTimeout = 30 * time.Second

// Listener receives PCP lifecycle callbacks. OnConnectionInitiated fires for
// an incoming CONNECTION_REQUEST awaiting AcceptConnection/RejectConnection;
// OnConnectionResult fires once an endpoint reaches ESTABLISHED or fails.
type Listener interface {
	OnConnectionInitiated(endpointID string, endpointInfo []byte)
	OnConnectionResult(endpointID string, err error)
}

// pendingConn is a channel awaiting the local application's accept/reject
// decision, along with the raw socket the post-accept handshake runs over.
type pendingConn struct {
	ch   *channel.Channel
	sock channel.Socket
}

// Manager runs one strategy's PCP state machine for one ClientProxy session.
type Manager struct {
	strategy  frame.Strategy
	localID   string
	localInfo []byte

	clientProxy *clientproxy.ClientProxy
	channels    *channelmgr.Manager
	endpoints   *endpoint.Manager
	listener    Listener

	connectionTimeout time.Duration

	mu              sync.Mutex
	advertising     bool
	discovering     bool
	records         map[string]*record
	pendingChannels map[string]*pendingConn
}

// New builds a Manager bound to one strategy for the lifetime of the
// session; strategy cannot change without restarting advertising/discovery.
func New(strategy frame.Strategy, localID string, localInfo []byte, cp *clientproxy.ClientProxy, chMgr *channelmgr.Manager, epMgr *endpoint.Manager, listener Listener) *Manager {
	return &Manager{
		strategy:          strategy,
		localID:           localID,
		localInfo:         localInfo,
		clientProxy:       cp,
		channels:          chMgr,
		endpoints:         epMgr,
		listener:          listener,
		connectionTimeout: DefaultConnectionTimeout,
		records:           make(map[string]*record),
		pendingChannels:   make(map[string]*pendingConn),
	}
}

// SetLocalInfo updates the endpoint info this manager presents in outgoing
// CONNECTION_REQUESTs and in the authentication handshake. A session that
// only ever discovers (never advertises) has no local info until its first
// RequestConnection call supplies one; this lets the facade defer that
// decision instead of requiring it at New.
func (m *Manager) SetLocalInfo(info []byte) {
	m.mu.Lock()
	m.localInfo = info
	m.mu.Unlock()
}

// StartAdvertising marks the session as advertising. Actual radio broadcast
// is a medium driver's concern (internal/mediums); this only enforces the
// ALREADY_ADVERTISING / OUT_OF_ORDER_API_CALL rules the PCP layer itself
// owns.
func (m *Manager) StartAdvertising() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advertising {
		return ErrAlreadyAdvertising
	}
	if m.discovering {
		return ErrOutOfOrderAPICall
	}
	m.advertising = true
	return nil
}

// StopAdvertising is idempotent.
func (m *Manager) StopAdvertising() { m.mu.Lock(); m.advertising = false; m.mu.Unlock() }

// StartDiscovery marks the session as discovering, symmetric to
// StartAdvertising.
func (m *Manager) StartDiscovery() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discovering {
		return ErrAlreadyDiscovering
	}
	if m.advertising {
		return ErrOutOfOrderAPICall
	}
	m.discovering = true
	return nil
}

// StopDiscovery is idempotent.
func (m *Manager) StopDiscovery() { m.mu.Lock(); m.discovering = false; m.mu.Unlock() }

func (m *Manager) countsLocked() ConnectionCounts {
	var c ConnectionCounts
	for _, r := range m.records {
		if r.state == StateClosed {
			continue
		}
		if r.direction == DirectionOutgoing {
			c.Outgoing++
		} else {
			c.Incoming++
		}
	}
	return c
}

func (m *Manager) setState(endpointID string, s EndpointState) {
	m.mu.Lock()
	if r, ok := m.records[endpointID]; ok {
		r.state = s
	}
	m.mu.Unlock()
}

func (m *Manager) fail(endpointID string, cause error) {
	m.mu.Lock()
	delete(m.records, endpointID)
	pc, hadPending := m.pendingChannels[endpointID]
	delete(m.pendingChannels, endpointID)
	m.mu.Unlock()
	if hadPending {
		_ = pc.ch.Close()
	}
	if m.listener != nil {
		m.listener.OnConnectionResult(endpointID, cause)
	}
}

// socketRW adapts a channel.Socket's stream pair to io.ReadWriter for the
// authentication handshake, which runs directly over the socket before any
// OfflineFrame encryption is enabled.
type socketRW struct{ sock channel.Socket }

func (s socketRW) Read(p []byte) (int, error)  { return s.sock.InputStream().Read(p) }
func (s socketRW) Write(p []byte) (int, error) { return s.sock.OutputStream().Write(p) }

// readFrameCtx reads one frame from ch, unblocking early if ctx is done by
// closing the channel -- there is no per-socket read-deadline hook in the
// Socket interface, so cancellation is implemented the same way Close()
// already unblocks a parked reader.
func readFrameCtx(ctx context.Context, ch *channel.Channel) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	resultC := make(chan result, 1)
	go func() {
		data, err := ch.ReadFrame()
		resultC <- result{data, err}
	}()
	select {
	case r := <-resultC:
		return r.data, r.err
	case <-ctx.Done():
		_ = ch.Close()
		<-resultC
		return nil, ctx.Err()
	}
}

// RequestConnection implements request_connection: opens a
// channel over sock, enforces topology, exchanges CONNECTION_REQUEST/RESPONSE,
// authenticates, and on success hands the channel to the endpoint manager.
func (m *Manager) RequestConnection(ctx context.Context, medium frame.Medium, endpointID string, sock channel.Socket) error {
	m.mu.Lock()
	if _, exists := m.records[endpointID]; exists {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if !PolicyFor(m.strategy).CanSendOutgoing(m.countsLocked()) {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.records[endpointID] = &record{endpointID: endpointID, direction: DirectionOutgoing, state: StatePending}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.connectionTimeout)
	defer cancel()

	ch := channel.New(endpointID, medium, sock)
	nonce := m.clientProxy.GenerateNonce()
	m.clientProxy.RegisterNonce(nonce)

	req := &frame.OfflineFrame{
		Version: frame.CurrentVersion,
		Type:    frame.FrameConnectionRequest,
		ConnReq: &frame.ConnectionRequest{
			EndpointID:   m.localID,
			EndpointInfo: m.localInfo,
			Nonce:        nonce,
			Mediums:      frame.InitialPriority(),
		},
	}
	data, err := frame.Encode(req)
	if err != nil {
		m.fail(endpointID, err)
		return err
	}
	if err := ch.WriteFrame(data); err != nil {
		m.fail(endpointID, ErrEndpointIOError)
		_ = ch.Close()
		return ErrEndpointIOError
	}

	raw, err := readFrameCtx(ctx, ch)
	if err != nil {
		m.fail(endpointID, ErrConnectionTimeout)
		return ErrConnectionTimeout
	}
	resp, err := frame.Decode(raw)
	if err != nil || resp.Type != frame.FrameConnectionResponse || resp.ConnResp == nil {
		m.fail(endpointID, ErrUnexpectedFrame)
		_ = ch.Close()
		return ErrUnexpectedFrame
	}
	if resp.ConnResp.Status != frame.ConnectionAccepted {
		m.fail(endpointID, ErrConnectionRejected)
		_ = ch.Close()
		return ErrConnectionRejected
	}

	keys, err := crypto.RunInitiator(socketRW{sock}, nonce, m.localInfo)
	if err != nil {
		m.fail(endpointID, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err))
		_ = ch.Close()
		return ErrAuthenticationFailed
	}
	return m.finishAuth(endpointID, ch, keys)
}

// HandleIncomingConnection implements the responder side up to
// WAITING_LOCAL_ACCEPT: it reads the peer's CONNECTION_REQUEST, enforces
// topology, and surfaces the pending connection via Listener. The
// application must call AcceptConnection or RejectConnection afterward.
func (m *Manager) HandleIncomingConnection(ctx context.Context, medium frame.Medium, sock channel.Socket) error {
	ctx, cancel := context.WithTimeout(ctx, m.connectionTimeout)
	defer cancel()

	ch := channel.New("incoming", medium, sock)
	raw, err := readFrameCtx(ctx, ch)
	if err != nil {
		_ = ch.Close()
		return ErrConnectionTimeout
	}
	f, err := frame.Decode(raw)
	if err != nil || f.Type != frame.FrameConnectionRequest || f.ConnReq == nil {
		_ = ch.Close()
		return ErrUnexpectedFrame
	}
	if !m.clientProxy.RegisterNonce(f.ConnReq.Nonce) {
		_ = ch.Close()
		return ErrUnexpectedFrame
	}

	endpointID := f.ConnReq.EndpointID
	m.mu.Lock()
	if _, exists := m.records[endpointID]; exists {
		m.mu.Unlock()
		_ = ch.Close()
		return ErrAlreadyConnected
	}
	if !PolicyFor(m.strategy).CanReceiveIncoming(m.countsLocked()) {
		m.mu.Unlock()
		_ = ch.Close()
		return ErrAlreadyConnected
	}
	m.records[endpointID] = &record{endpointID: endpointID, direction: DirectionIncoming, state: StateWaitingLocalAccept}
	m.pendingChannels[endpointID] = &pendingConn{ch: ch, sock: sock}
	m.mu.Unlock()

	if m.listener != nil {
		m.listener.OnConnectionInitiated(endpointID, f.ConnReq.EndpointInfo)
	}
	return nil
}

// AcceptConnection implements accept_connection: sends
// CONNECTION_RESPONSE(accepted), authenticates as responder, and hands the
// channel to the endpoint manager.
func (m *Manager) AcceptConnection(endpointID string) error {
	m.mu.Lock()
	pc, ok := m.pendingChannels[endpointID]
	rec := m.records[endpointID]
	if !ok || rec == nil || rec.state != StateWaitingLocalAccept {
		m.mu.Unlock()
		return ErrUnknownEndpoint
	}
	delete(m.pendingChannels, endpointID)
	m.mu.Unlock()

	resp := &frame.OfflineFrame{Version: frame.CurrentVersion, Type: frame.FrameConnectionResponse, ConnResp: &frame.ConnectionResponse{Status: frame.ConnectionAccepted}}
	data, err := frame.Encode(resp)
	if err != nil {
		m.fail(endpointID, err)
		return err
	}
	if err := pc.ch.WriteFrame(data); err != nil {
		m.fail(endpointID, ErrEndpointIOError)
		return ErrEndpointIOError
	}

	keys, err := crypto.RunResponder(socketRW{pc.sock}, m.clientProxy.GenerateNonce(), m.localInfo)
	if err != nil {
		m.fail(endpointID, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err))
		_ = pc.ch.Close()
		return ErrAuthenticationFailed
	}
	return m.finishAuth(endpointID, pc.ch, keys)
}

// RejectConnection implements reject_connection: sends
// CONNECTION_RESPONSE(rejected) and closes the channel.
func (m *Manager) RejectConnection(endpointID string) error {
	m.mu.Lock()
	pc, ok := m.pendingChannels[endpointID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEndpoint
	}
	delete(m.pendingChannels, endpointID)
	delete(m.records, endpointID)
	m.mu.Unlock()

	resp := &frame.OfflineFrame{Version: frame.CurrentVersion, Type: frame.FrameConnectionResponse, ConnResp: &frame.ConnectionResponse{Status: frame.ConnectionRejected}}
	if data, err := frame.Encode(resp); err == nil {
		_ = pc.ch.WriteFrame(data)
	}
	return pc.ch.Close()
}

func (m *Manager) finishAuth(endpointID string, ch *channel.Channel, keys crypto.SessionKeys) error {
	if err := ch.EnableEncryption(keys); err != nil {
		m.fail(endpointID, err)
		_ = ch.Close()
		return err
	}
	m.setState(endpointID, StateAuthenticated)

	if err := m.endpoints.Connect(endpointID, ch); err != nil {
		m.fail(endpointID, err)
		_ = ch.Close()
		return err
	}
	m.setState(endpointID, StateEstablished)
	if m.listener != nil {
		m.listener.OnConnectionResult(endpointID, nil)
	}
	return nil
}

// OnEndpointDisconnected clears the endpoint's record once the endpoint
// manager has torn it down, so topology counts recover and a later
// connection attempt to the same endpoint starts from IDLE.
func (m *Manager) OnEndpointDisconnected(endpointID string) {
	m.mu.Lock()
	delete(m.records, endpointID)
	m.mu.Unlock()
}

// State returns the current state of endpointID, or StateIdle if unknown.
func (m *Manager) State(endpointID string) EndpointState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[endpointID]; ok {
		return r.state
	}
	return StateIdle
}
