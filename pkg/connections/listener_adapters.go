package connections

import (
	"context"
	"os"

	"github.com/google/nearby-sub023/internal/endpoint"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/payload"
)

// pcpListenerAdapter bridges internal/pcp's Listener to the
// application-facing connections.Listener, translating the internal error
// values into Status and driving metrics and the auto-upgrade handoff.
type pcpListenerAdapter struct {
	c        *Connections
	listener Listener
}

func (a *pcpListenerAdapter) OnConnectionInitiated(endpointID string, endpointInfo []byte) {
	if a.listener != nil {
		a.listener.OnConnectionInitiated(endpointID, endpointInfo)
	}
}

func (a *pcpListenerAdapter) OnConnectionResult(endpointID string, err error) {
	status := statusFromPCPError(err)
	if err == nil {
		medium := frame.MediumUnknown
		if ch := a.c.channels.Lookup(endpointID); ch != nil {
			medium = ch.Medium()
		}
		a.c.metrics.ObserveConnectionEstablished(a.c.strategy, medium)
		a.c.updateActiveEndpoints()
		a.c.onEstablished(endpointID)
	} else {
		a.c.metrics.ObserveConnectionFailure(a.c.strategy, status.String())
	}
	if a.listener != nil {
		a.listener.OnConnectionResult(endpointID, status)
	}
}

// onEstablished starts the automatic bandwidth-upgrade attempt when the
// session's options request it, once a connection reaches ESTABLISHED.
func (c *Connections) onEstablished(endpointID string) {
	c.mu.Lock()
	auto := c.opts.AutoUpgradeBandwidth
	bwuMgr := c.bwuMgr
	c.mu.Unlock()
	if !auto || bwuMgr == nil {
		return
	}
	go func() {
		c.metrics.ObserveBWUAttempt(frame.MediumUnknown)
		if err := bwuMgr.Upgrade(context.Background(), endpointID); err == nil {
			medium := frame.MediumUnknown
			if ch := c.channels.Lookup(endpointID); ch != nil {
				medium = ch.Medium()
			}
			c.metrics.ObserveBWUSuccess(medium)
		}
	}()
}

func (c *Connections) updateActiveEndpoints() {
	c.mu.Lock()
	strategy := c.strategy
	c.mu.Unlock()
	c.metrics.SetActiveEndpoints(strategy, c.channels.Len())
}

// endpointListenerAdapter bridges internal/endpoint's Listener, forwarding
// payload/disconnection events to the application and BANDWIDTH_UPGRADE
// frames to the BWU manager (the negotiation runs over the same channel
// the endpoint manager's reader loop owns).
type endpointListenerAdapter struct {
	c        *Connections
	listener Listener
}

func (a *endpointListenerAdapter) OnPayloadReceived(endpointID string, p *payload.Payload) {
	a.c.rememberPayloadType(p.ID(), p.Type())
	if a.listener != nil {
		a.listener.OnPayloadReceived(endpointID, p)
	}
}

func (a *endpointListenerAdapter) OnPayloadTransferUpdate(endpointID string, id payload.ID, status payload.Status, bytesTransferred, total int64) {
	typ := a.c.payloadTypeOf(id)
	a.c.metrics.ObservePayloadBytes(typ, int(bytesTransferred))
	if status != payload.StatusInProgress {
		a.c.metrics.ObservePayloadCompleted(typ, statusName(status))
	}
	if a.listener != nil {
		a.listener.OnPayloadProgress(endpointID, id, status, bytesTransferred, total)
	}
}

func statusName(s payload.Status) string {
	switch s {
	case payload.StatusSuccess:
		return "SUCCESS"
	case payload.StatusCanceled:
		return "CANCELED"
	case payload.StatusFailure:
		return "FAILURE"
	default:
		return "IN_PROGRESS"
	}
}

func (a *endpointListenerAdapter) OnDisconnected(endpointID string, reason endpoint.DisconnectReason) {
	a.c.metrics.ObserveDisconnection(reason.String())
	if a.c.pcpMgr != nil {
		a.c.pcpMgr.OnEndpointDisconnected(endpointID)
	}
	a.c.forgetEndpoint(endpointID)
	a.c.updateActiveEndpoints()
	if a.listener != nil {
		a.listener.OnDisconnected(endpointID)
	}
}

func (a *endpointListenerAdapter) OnBandwidthUpgrade(endpointID string, bwuFrame *frame.BandwidthUpgrade) {
	if a.c.bwuMgr != nil {
		a.c.bwuMgr.HandleFrame(endpointID, bwuFrame)
	}
}

// fileDestination records the destination an application registered for an
// incoming FILE payload via RegisterFileDestination, consumed exactly once
// by resolveFileDestination.
type fileDestination struct {
	file *os.File
}

// resolveFileDestination implements endpoint.FileDestinationResolver: it
// looks up a destination the application registered ahead of time (naming a
// receive destination is entirely up to the application, since the wire
// protocol carries no file path).
func (c *Connections) resolveFileDestination(endpointID string, id payload.ID, totalSize int64) (*os.File, error) {
	c.mu.Lock()
	dst, ok := c.pendingDestinations[id]
	if ok {
		delete(c.pendingDestinations, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil, errNoFileDestination
	}
	return dst.file, nil
}

// RegisterFileDestination records the writable file an incoming FILE
// payload with the given id should be written to. It must be called before
// the sender's PAYLOAD_TRANSFER header for that id arrives; an application
// typically learns the id out of band (e.g. via its own higher-level
// protocol) or accepts any FILE payload into a fixed download directory
// keyed by a self-chosen id scheme.
func (c *Connections) RegisterFileDestination(id payload.ID, dst *os.File) {
	c.mu.Lock()
	c.pendingDestinations[id] = &fileDestination{file: dst}
	c.mu.Unlock()
}

func (c *Connections) forgetEndpoint(endpointID string) {
	c.mu.Lock()
	c.clientProxy.Forget(endpointID)
	delete(c.discoveredSeen, endpointID)
	c.mu.Unlock()
}

func (c *Connections) rememberPayloadType(id payload.ID, typ payload.Type) {
	c.mu.Lock()
	c.payloadTypes[id] = typ.String()
	c.mu.Unlock()
}

func (c *Connections) payloadTypeOf(id payload.ID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.payloadTypes[id]; ok {
		return t
	}
	return "UNKNOWN"
}
