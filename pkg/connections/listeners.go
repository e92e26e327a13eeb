package connections

import "github.com/google/nearby-sub023/internal/payload"

// DiscoveryListener receives endpoint-found/lost callbacks for one active
// Discover session.
type DiscoveryListener interface {
	OnEndpointFound(endpointID string, endpointInfo []byte)
	OnEndpointLost(endpointID string)
}

// ConnectionListener receives the connection lifecycle callbacks shared by
// advertising and discovery: a peer asking to connect, and the
// eventual accept/reject/timeout outcome.
type ConnectionListener interface {
	OnConnectionInitiated(endpointID string, endpointInfo []byte)
	OnConnectionResult(endpointID string, status Status)
	OnDisconnected(endpointID string)
}

// PayloadListener receives payload data and progress for established
// endpoints.
type PayloadListener interface {
	OnPayloadReceived(endpointID string, p *payload.Payload)
	OnPayloadProgress(endpointID string, id payload.ID, status payload.Status, bytesTransferred, total int64)
}

// Listener bundles every callback group an Advertise/Discover call needs.
// An application that only cares about a subset of events can embed
// NopListener and override the methods it wants.
type Listener interface {
	DiscoveryListener
	ConnectionListener
	PayloadListener
}

// NopListener is a Listener with every method a no-op; embed it to implement
// only the callbacks an application cares about.
type NopListener struct{}

func (NopListener) OnEndpointFound(string, []byte)                                    {}
func (NopListener) OnEndpointLost(string)                                             {}
func (NopListener) OnConnectionInitiated(string, []byte)                              {}
func (NopListener) OnConnectionResult(string, Status)                                 {}
func (NopListener) OnDisconnected(string)                                             {}
func (NopListener) OnPayloadReceived(string, *payload.Payload)                        {}
func (NopListener) OnPayloadProgress(string, payload.ID, payload.Status, int64, int64) {}
