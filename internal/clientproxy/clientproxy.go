// Package clientproxy implements the per-session ClientProxy: the
// application-facing record of discovered endpoints and the nonce generator
// used to detect replayed CONNECTION_REQUEST frames during authentication.
package clientproxy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/nearby-sub023/internal/frame"
)

// DiscoveredEndpoint is one entry the application's discovery callback has
// been told about and may still request a connection to.
type DiscoveredEndpoint struct {
	ID      string
	Info    []byte
	Mediums []frame.Medium

	// Params carries how to reach this endpoint on each of Mediums, the
	// same per-medium connection parameters a BANDWIDTH_UPGRADE_NEGOTIATION
	// PATH_AVAILABLE frame carries -- an initial connection
	// dials out the same way an upgrade does, just against the advertiser's
	// service rather than a freshly-brought-up upgrade Server.
	Params map[frame.Medium]frame.BWUPathAvailable
}

// ClientProxy owns one advertising/discovery session's endpoint bookkeeping.
type ClientProxy struct {
	mu         sync.Mutex
	discovered map[string]DiscoveredEndpoint
	seenNonces map[int32]struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns an empty ClientProxy.
func New() *ClientProxy {
	return &ClientProxy{
		discovered: make(map[string]DiscoveredEndpoint),
		seenNonces: make(map[int32]struct{}),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GenerateNonce returns a fresh random nonce for an outgoing
// CONNECTION_REQUEST.
func (c *ClientProxy) GenerateNonce() int32 {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.Int31()
}

// RegisterNonce records an observed nonce and reports whether it had already
// been seen -- a repeat indicates a replayed CONNECTION_REQUEST and must be
// rejected by the caller.
func (c *ClientProxy) RegisterNonce(nonce int32) (firstSeen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.seenNonces[nonce]; seen {
		return false
	}
	c.seenNonces[nonce] = struct{}{}
	return true
}

// RegisterDiscoveredEndpoint records an endpoint surfaced by a discovery
// callback, making it a valid target for RequestConnection.
func (c *ClientProxy) RegisterDiscoveredEndpoint(e DiscoveredEndpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discovered[e.ID] = e
}

// Lookup returns the discovered endpoint record for id, if any.
func (c *ClientProxy) Lookup(id string) (DiscoveredEndpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.discovered[id]
	return e, ok
}

// Forget removes a discovered endpoint, e.g. once connected or lost.
func (c *ClientProxy) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.discovered, id)
}

// DiscoveredEndpoints returns a snapshot of all currently discovered
// endpoints.
func (c *ClientProxy) DiscoveredEndpoints() []DiscoveredEndpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DiscoveredEndpoint, 0, len(c.discovered))
	for _, e := range c.discovered {
		out = append(out, e)
	}
	return out
}
