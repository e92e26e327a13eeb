// Package bwu implements the Bandwidth Upgrade Manager: after an
// endpoint is established on its initial medium, negotiate and transparently
// migrate it to a higher-bandwidth one: a background task dials a better
// path, verifies it, and atomically swaps it in while the original channel
// keeps serving traffic.
package bwu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/channelmgr"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/mediums"
)

// Config tunes retry and timeout behavior: backoff starts at 3s, doubles,
// and caps at 300s, with 3 attempts per medium by default.
type Config struct {
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffFactor        float64
	MaxAttemptsPerMedium int
	AcceptTimeout        time.Duration
	HandoffTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 3 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 300 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.MaxAttemptsPerMedium <= 0 {
		c.MaxAttemptsPerMedium = 3
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = 10 * time.Second
	}
	if c.HandoffTimeout <= 0 {
		c.HandoffTimeout = 10 * time.Second
	}
	return c
}

// session is the per-endpoint handoff state shared between the initiator
// goroutine running Upgrade and the responder-side frames arriving through
// HandleFrame.
type session struct {
	mu           sync.Mutex
	newChannel   *channel.Channel
	safeToCloseC chan struct{}
}

// Manager runs BWU negotiation for every endpoint of one ClientProxy
// session. It never reads or writes payload data directly: it only
// manipulates channels, leaving payload.offset mutation to the endpoint
// reader/writer loops.
type Manager struct {
	strategy frame.Strategy
	localID  string
	channels *channelmgr.Manager
	registry *mediums.Registry
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*session
}

// New returns a Manager for one ClientProxy session's strategy.
func New(strategy frame.Strategy, localID string, channels *channelmgr.Manager, registry *mediums.Registry, cfg Config) *Manager {
	return &Manager{
		strategy: strategy,
		localID:  localID,
		channels: channels,
		registry: registry,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*session),
	}
}

func (m *Manager) sessionFor(endpointID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[endpointID]
	if !ok {
		s = &session{safeToCloseC: make(chan struct{}, 1)}
		m.sessions[endpointID] = s
	}
	return s
}

func (m *Manager) dropSession(endpointID string) {
	m.mu.Lock()
	delete(m.sessions, endpointID)
	m.mu.Unlock()
}

// Upgrade runs the initiator side of the protocol for endpointID: it tries
// each candidate medium in strategy order, with exponential backoff between
// attempts on the same medium, until one succeeds or every medium exhausts
// its retry budget. The endpoint remains ESTABLISHED on its original channel
// throughout -- a failure here is never surfaced past the
// caller's log line.
func (m *Manager) Upgrade(ctx context.Context, endpointID string) error {
	chA := m.channels.Lookup(endpointID)
	if chA == nil {
		return ErrNoActiveChannel
	}

	for _, medium := range UpgradeOrderFor(m.strategy) {
		upgrader, err := m.registry.Get(medium)
		if err != nil {
			continue
		}
		backoff := m.cfg.InitialBackoff
		for attempt := 0; attempt < m.cfg.MaxAttemptsPerMedium; attempt++ {
			chB, err := m.attemptOne(ctx, endpointID, chA, upgrader, medium)
			if err == nil {
				return m.completeHandoff(endpointID, chA, chB)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * m.cfg.BackoffFactor)
			if backoff > m.cfg.MaxBackoff {
				backoff = m.cfg.MaxBackoff
			}
		}
	}
	return ErrNoMediumSucceeded
}

// attemptOne runs one PATH_AVAILABLE round for one medium: bring up a
// server, advertise its params on the current channel, and wait (bounded by
// AcceptTimeout) for the responder to dial in and identify itself with
// INTRODUCTION. A bounded Accept is also how a responder-side dial failure
// is observed here -- the wire protocol defines no explicit failure
// message, so the timeout itself is the failure signal.
func (m *Manager) attemptOne(ctx context.Context, endpointID string, chA *channel.Channel, upgrader mediums.Upgrader, medium frame.Medium) (*channel.Channel, error) {
	server, err := upgrader.StartServer(ctx)
	if err != nil {
		return nil, err
	}
	defer server.Close()

	params := server.Params()
	params.Medium = medium
	if err := m.sendBWU(chA, frame.BWUKindPathAvailable, &params, nil); err != nil {
		return nil, err
	}

	acceptCtx, cancel := context.WithTimeout(ctx, m.cfg.AcceptTimeout)
	defer cancel()
	sock, err := server.Accept(acceptCtx)
	if err != nil {
		return nil, err
	}

	chB := channel.New(endpointID+"-upgrade", medium, sock)
	raw, err := readFrameCtx(acceptCtx, chB)
	if err != nil {
		_ = chB.Close()
		return nil, err
	}
	f, err := frame.Decode(raw)
	if err != nil || f.Type != frame.FrameBandwidthUpgrade || f.BWU == nil || f.BWU.Kind != frame.BWUKindIntroduction {
		_ = chB.Close()
		return nil, fmt.Errorf("bwu: expected INTRODUCTION on upgraded channel, got %v", f)
	}
	return chB, nil
}

// completeHandoff runs the initiator's half of the LAST_WRITE/SAFE_TO_CLOSE
// drain: announce LAST_WRITE, pause the old channel's
// writer, wait for the responder's SAFE_TO_CLOSE acknowledgment, then
// atomically swap the channel manager's entry to the new channel and close
// the old one.
func (m *Manager) completeHandoff(endpointID string, chA, chB *channel.Channel) error {
	defer m.dropSession(endpointID)
	sess := m.sessionFor(endpointID)

	// The control frame must go out before Pause freezes the writer --
	// Pause blocks every subsequent WriteFrame, this call included.
	if err := m.sendBWU(chA, frame.BWUKindLastWrite, nil, nil); err != nil {
		_ = chB.Close()
		return err
	}
	chA.Pause()

	select {
	case <-sess.safeToCloseC:
	case <-time.After(m.cfg.HandoffTimeout):
		chA.Resume()
		_ = chB.Close()
		return fmt.Errorf("bwu: timed out waiting for peer SAFE_TO_CLOSE")
	}

	old, err := m.channels.ReplaceChannel(endpointID, chB)
	if err != nil {
		_ = chB.Close()
		return err
	}
	_ = old.Close()
	return nil
}

// HandleFrame is the responder-side entry point: the application wires this
// as (or behind) the endpoint manager's Listener.OnBandwidthUpgrade so every
// BANDWIDTH_UPGRADE_NEGOTIATION frame received on an endpoint's current
// channel reaches the BWU manager for that endpoint.
func (m *Manager) HandleFrame(endpointID string, bwu *frame.BandwidthUpgrade) {
	if bwu == nil {
		return
	}
	switch bwu.Kind {
	case frame.BWUKindPathAvailable:
		if bwu.PathAvail != nil {
			go m.respondToPathAvailable(endpointID, *bwu.PathAvail)
		}
	case frame.BWUKindLastWrite:
		go m.onPeerLastWrite(endpointID)
	case frame.BWUKindSafeToClose:
		m.onPeerSafeToClose(endpointID)
	case frame.BWUKindIntroduction:
		// Consumed directly off the new channel inside attemptOne; a copy
		// arriving here (it never should) is ignored.
	}
}

// respondToPathAvailable is the responder's reaction to an initiator's
// PATH_AVAILABLE: dial out to the advertised params, and on success open the
// new channel and identify itself with INTRODUCTION.
func (m *Manager) respondToPathAvailable(endpointID string, params frame.BWUPathAvailable) {
	upgrader, err := m.registry.Get(params.Medium)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AcceptTimeout)
	defer cancel()
	sock, err := upgrader.Dial(ctx, params)
	if err != nil {
		return
	}

	chB := channel.New(endpointID+"-upgrade", params.Medium, sock)
	if err := m.sendBWU(chB, frame.BWUKindIntroduction, nil, &frame.BWUIntroduction{EndpointID: m.localID}); err != nil {
		_ = chB.Close()
		return
	}

	sess := m.sessionFor(endpointID)
	sess.mu.Lock()
	sess.newChannel = chB
	sess.mu.Unlock()
}

// onPeerLastWrite reacts to the initiator's LAST_WRITE: pause the old
// channel, acknowledge with SAFE_TO_CLOSE, and perform this side's own
// swap into the already-established new channel.
func (m *Manager) onPeerLastWrite(endpointID string) {
	defer m.dropSession(endpointID)
	chA := m.channels.Lookup(endpointID)
	sess := m.sessionFor(endpointID)
	sess.mu.Lock()
	chB := sess.newChannel
	sess.mu.Unlock()
	if chA == nil || chB == nil {
		return
	}

	_ = m.sendBWU(chA, frame.BWUKindSafeToClose, nil, nil)
	chA.Pause()

	old, err := m.channels.ReplaceChannel(endpointID, chB)
	if err != nil {
		return
	}
	_ = old.Close()
}

func (m *Manager) onPeerSafeToClose(endpointID string) {
	sess := m.sessionFor(endpointID)
	select {
	case sess.safeToCloseC <- struct{}{}:
	default:
	}
}

func (m *Manager) sendBWU(ch *channel.Channel, kind frame.BWUKind, pathAvail *frame.BWUPathAvailable, intro *frame.BWUIntroduction) error {
	f := &frame.OfflineFrame{
		Version: frame.CurrentVersion,
		Type:    frame.FrameBandwidthUpgrade,
		BWU:     &frame.BandwidthUpgrade{Kind: kind, PathAvail: pathAvail, Introduction: intro},
	}
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	return ch.WriteFrame(data)
}

// readFrameCtx reads one frame from ch, unblocking early by closing ch if
// ctx is done -- the same idiom internal/pcp.readFrameCtx uses, duplicated
// here rather than exported across packages since neither side of the
// handoff needs the other's internals.
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
