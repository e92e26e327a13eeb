// Package channelmgr implements the EndpointChannelManager: the
// registry mapping an endpoint id to its current EndpointChannel, with an
// atomic swap operation BWU uses to migrate an endpoint to a new medium
// without the endpoint manager ever observing more than one channel at a
// time.
package channelmgr

import (
	"fmt"
	"sync"

	"github.com/google/nearby-sub023/internal/channel"
)

// AlreadyRegisteredError is returned by RegisterChannel when the endpoint
// already has a channel installed.
type AlreadyRegisteredError struct {
	EndpointID string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("channelmgr: endpoint %q already has a registered channel", e.EndpointID)
}

// NotRegisteredError is returned by operations on an endpoint with no
// current channel.
type NotRegisteredError struct {
	EndpointID string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("channelmgr: endpoint %q has no registered channel", e.EndpointID)
}

// Manager maps endpoint id to its current channel. The invariant "at most
// one established channel per endpoint" holds for every observer
// at every instant: mutations happen under a single mutex and are O(1).
type Manager struct {
	mu       sync.Mutex
	channels map[string]*channel.Channel
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{channels: make(map[string]*channel.Channel)}
}

// RegisterChannel installs the first channel for endpointID. It fails if one
// is already registered.
func (m *Manager) RegisterChannel(endpointID string, ch *channel.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[endpointID]; exists {
		return &AlreadyRegisteredError{EndpointID: endpointID}
	}
	m.channels[endpointID] = ch
	return nil
}

// Lookup returns the endpoint's current channel, or nil if none is
// registered. Safe to call concurrently with ReplaceChannel: callers always
// observe either the old or the new channel, never neither.
func (m *Manager) Lookup(endpointID string) *channel.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[endpointID]
}

// ReplaceChannel atomically swaps endpointID's channel for newChannel and
// returns the previous one. The caller (BWU) is responsible for closing the
// old channel once the handoff protocol (LAST_WRITE/SAFE_TO_CLOSE) completes
// -- ReplaceChannel itself never closes anything, so in-flight readers that
// already hold a reference to the old channel may keep draining it.
func (m *Manager) ReplaceChannel(endpointID string, newChannel *channel.Channel) (*channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, exists := m.channels[endpointID]
	if !exists {
		return nil, &NotRegisteredError{EndpointID: endpointID}
	}
	m.channels[endpointID] = newChannel
	return old, nil
}

// Unregister removes and closes endpointID's channel. It is a no-op if the
// endpoint has no registered channel.
func (m *Manager) Unregister(endpointID string) {
	m.mu.Lock()
	ch, exists := m.channels[endpointID]
	if exists {
		delete(m.channels, endpointID)
	}
	m.mu.Unlock()
	if exists {
		_ = ch.Close()
	}
}

// EndpointIDs returns a snapshot of every endpoint id with a registered
// channel.
func (m *Manager) EndpointIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for id := range m.channels {
		out = append(out, id)
	}
	return out
}

// Len reports how many endpoints currently have a registered channel.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}
