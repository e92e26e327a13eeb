package connections

import (
	"context"
	"errors"

	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/payload"
	"github.com/google/nearby-sub023/internal/pcp"
)

// RequestConnection implements request_connection: dials
// endpointID on each medium its advertisement offered, in
// frame.InitialPriority order, returning on the first medium whose dial and
// handshake both succeed. info is this session's own endpoint info, sent in
// the CONNECTION_REQUEST; a session that never advertised has no other
// chance to supply it.
func (c *Connections) RequestConnection(endpointID string, info []byte, listener Listener) Status {
	c.mu.Lock()
	pcpMgr := c.pcpMgr
	c.mu.Unlock()
	if pcpMgr == nil {
		return StatusOutOfOrderAPICall
	}
	disc, ok := c.clientProxy.Lookup(endpointID)
	if !ok {
		return StatusEndpointUnknown
	}
	pcpMgr.SetLocalInfo(info)

	ctx := context.Background()
	var lastErr error
	for _, medium := range frame.InitialPriority() {
		params, ok := disc.Params[medium]
		if !ok {
			continue
		}
		upgrader, err := c.registry.Get(medium)
		if err != nil {
			continue
		}
		sock, err := upgrader.Dial(ctx, params)
		if err != nil {
			lastErr = err
			continue
		}
		err = pcpMgr.RequestConnection(ctx, medium, endpointID, sock)
		if err == nil {
			return StatusOK
		}
		lastErr = err
		if errors.Is(err, pcp.ErrAlreadyConnected) {
			// Rejected before a channel ever wrapped the socket, so it is
			// still ours to release.
			_ = sock.Close()
			return statusFromPCPError(err)
		}
		if errors.Is(err, pcp.ErrConnectionRejected) {
			return statusFromPCPError(err)
		}
	}
	if lastErr == nil {
		lastErr = pcp.ErrNoMediumSucceeded
	}
	return statusFromPCPError(lastErr)
}

// AcceptConnection implements accept_connection.
func (c *Connections) AcceptConnection(endpointID string) Status {
	c.mu.Lock()
	pcpMgr := c.pcpMgr
	c.mu.Unlock()
	if pcpMgr == nil {
		return StatusOutOfOrderAPICall
	}
	return statusFromPCPError(pcpMgr.AcceptConnection(endpointID))
}

// RejectConnection implements reject_connection.
func (c *Connections) RejectConnection(endpointID string) Status {
	c.mu.Lock()
	pcpMgr := c.pcpMgr
	c.mu.Unlock()
	if pcpMgr == nil {
		return StatusOutOfOrderAPICall
	}
	return statusFromPCPError(pcpMgr.RejectConnection(endpointID))
}

// DisconnectFromEndpoint implements disconnect_from_endpoint:
// local, best-effort teardown of one endpoint.
func (c *Connections) DisconnectFromEndpoint(endpointID string) {
	c.mu.Lock()
	eps := c.endpoints
	c.mu.Unlock()
	if eps != nil {
		eps.Disconnect(endpointID)
	}
}

// StopAllEndpoints implements stop_all_endpoints: tears down
// every endpoint this session currently owns and stops advertising/
// discovery.
func (c *Connections) StopAllEndpoints() {
	c.StopAdvertising()
	c.StopDiscovery()
	c.mu.Lock()
	eps := c.endpoints
	c.mu.Unlock()
	if eps == nil {
		return
	}
	for _, id := range c.channels.EndpointIDs() {
		eps.Disconnect(id)
	}
}

// SendPayload implements send_payload for one or more recipients.
// BYTES and FILE payloads are cheap to re-issue per recipient (a BYTES
// payload is held in memory, a FILE payload reads through a shared handle
// at independent offsets); a STREAM payload can only be
// consumed once and is rejected for more than one recipient.
func (c *Connections) SendPayload(endpointIDs []string, p *payload.Payload) Status {
	c.mu.Lock()
	eps := c.endpoints
	c.mu.Unlock()
	if eps == nil {
		return StatusOutOfOrderAPICall
	}
	if len(endpointIDs) == 0 {
		return StatusError
	}
	if p.Type() == payload.TypeStream && len(endpointIDs) > 1 {
		return StatusError
	}

	recipients := make([]string, 0, len(endpointIDs))
	for i, id := range endpointIDs {
		per := p
		if i > 0 {
			clone, err := clonePayload(p)
			if err != nil {
				continue
			}
			per = clone
		}
		if err := eps.SendPayload(id, per); err != nil {
			continue
		}
		recipients = append(recipients, id)
	}
	if len(recipients) == 0 {
		return StatusEndpointUnknown
	}
	c.mu.Lock()
	c.payloadRecipients[p.ID()] = recipients
	c.mu.Unlock()
	return StatusOK
}

// clonePayload builds an independent Payload instance carrying the same
// bytes/file as p, for fan-out to additional recipients sharing p's
// original id.
func clonePayload(p *payload.Payload) (*payload.Payload, error) {
	switch p.Type() {
	case payload.TypeBytes:
		data, _ := p.AsBytes()
		return payload.NewOutgoingBytesWithID(p.ID(), data), nil
	case payload.TypeFile:
		f := p.AsFile()
		return payload.NewOutgoingFileWithID(p.ID(), f, p.TotalSize())
	default:
		return nil, errStreamFanout
	}
}

var errStreamFanout = errors.New("connections: a STREAM payload cannot be sent to more than one endpoint")

// CancelPayload implements cancel_payload, canceling id on every
// endpoint it was sent to.
func (c *Connections) CancelPayload(id payload.ID) Status {
	c.mu.Lock()
	eps := c.endpoints
	recipients := c.payloadRecipients[id]
	c.mu.Unlock()
	if eps == nil {
		return StatusOutOfOrderAPICall
	}
	if len(recipients) == 0 {
		return StatusPayloadUnknown
	}
	for _, endpointID := range recipients {
		_ = eps.CancelPayload(endpointID, id)
	}
	return StatusOK
}
