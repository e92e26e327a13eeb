// Package mediums defines the capability every physical transport driver
// must expose to the Bandwidth Upgrade manager and the PCP handler's initial
// connection attempt, and a registry selecting a driver by Medium: one
// small interface plus concrete implementations (wsmedium, webrtcmedium,
// loopback) chosen by config rather than compiled-in per deployment.
package mediums

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/frame"
)

// Server is a listening endpoint for one upgrade attempt: Params describes
// how a peer reaches it (SSID/password/port, a WebRTC offer, an mDNS name --
// whatever the driver needs), and Accept blocks for the first (only) inbound
// connection.
type Server interface {
	Params() frame.BWUPathAvailable
	Accept(ctx context.Context) (channel.Socket, error)
	Close() error
}

// Upgrader is one medium driver: it can bring up a Server that a remote peer
// dials into, or Dial out to a peer's published Server params. Every
// implementation is a leaf adapter over one real transport (websocket,
// WebRTC data channel, in-process pipe); none of them know about frames,
// channels beyond Socket, or the BWU protocol.
type Upgrader interface {
	Medium() frame.Medium
	StartServer(ctx context.Context) (Server, error)
	Dial(ctx context.Context, params frame.BWUPathAvailable) (channel.Socket, error)
}

// Registry maps a Medium to the Upgrader that implements it. Drivers do not
// register themselves: whoever builds the Registry constructs each driver and
// passes it to Register (cmd/nearbyctl's buildRegistry, for one); the BWU manager and PCP handler only ever depend on this interface, never
// on a concrete driver package.
type Registry struct {
	mu       sync.RWMutex
	upgraders map[frame.Medium]Upgrader
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{upgraders: make(map[frame.Medium]Upgrader)}
}

// Register installs u under its own Medium(), overwriting any previous
// registration for that medium.
func (r *Registry) Register(u Upgrader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upgraders[u.Medium()] = u
}

// ErrUnsupportedMedium is returned by Get for a medium with no registered
// driver.
type ErrUnsupportedMedium struct{ Medium frame.Medium }

func (e *ErrUnsupportedMedium) Error() string {
	return fmt.Sprintf("mediums: no driver registered for %s", e.Medium)
}

// Get returns the Upgrader for m, or ErrUnsupportedMedium.
func (r *Registry) Get(m frame.Medium) (Upgrader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.upgraders[m]
	if !ok {
		return nil, &ErrUnsupportedMedium{Medium: m}
	}
	return u, nil
}

// Available reports every medium with a registered driver, in no particular
// order; callers that need priority order should intersect this with
// frame.InitialPriority() or a strategy-specific upgrade order.
func (r *Registry) Available() []frame.Medium {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]frame.Medium, 0, len(r.upgraders))
	for m := range r.upgraders {
		out = append(out, m)
	}
	return out
}
