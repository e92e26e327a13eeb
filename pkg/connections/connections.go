package connections

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/nearby-sub023/internal/bwu"
	"github.com/google/nearby-sub023/internal/channelmgr"
	"github.com/google/nearby-sub023/internal/clientproxy"
	"github.com/google/nearby-sub023/internal/config"
	"github.com/google/nearby-sub023/internal/endpoint"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/mediums"
	"github.com/google/nearby-sub023/internal/metrics"
	"github.com/google/nearby-sub023/internal/payload"
	"github.com/google/nearby-sub023/internal/pcp"
	"github.com/google/nearby-sub023/internal/wire"
)

// Connections is one ClientProxy session: at most one active
// strategy, one set of discovered endpoints, and the established endpoints
// it currently owns. Construct one per advertise/discover session an
// application runs concurrently.
type Connections struct {
	localID  string
	registry *mediums.Registry
	metrics  *metrics.Registry
	bwuCfg   bwu.Config

	clientProxy *clientproxy.ClientProxy
	channels    *channelmgr.Manager

	mu          sync.Mutex
	strategySet bool
	strategy    frame.Strategy
	opts        config.SessionOptions
	advertising bool
	discovering bool
	serviceID   string

	endpoints *endpoint.Manager
	pcpMgr    *pcp.Manager
	bwuMgr    *bwu.Manager

	pendingDestinations map[payload.ID]*fileDestination
	payloadRecipients   map[payload.ID][]string
	payloadTypes        map[payload.ID]string

	advertiseCancel context.CancelFunc
	discoverCancel  context.CancelFunc
	discoveredSeen  map[string]bool
}

// New returns an empty session using registry for medium drivers and m for
// metrics (pass metrics.New() disabled, or an enabled one shared across
// sessions). localID is this device's 4-char endpoint id for the session;
// an empty string generates a random one.
func New(registry *mediums.Registry, m *metrics.Registry, localID string) *Connections {
	if localID == "" {
		localID = newEndpointID()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Connections{
		localID:             localID,
		registry:            registry,
		metrics:             m,
		bwuCfg:              bwu.Config{},
		clientProxy:         clientproxy.New(),
		channels:            channelmgr.New(),
		pendingDestinations: make(map[payload.ID]*fileDestination),
		payloadRecipients:   make(map[payload.ID][]string),
		payloadTypes:        make(map[payload.ID]string),
		discoveredSeen:      make(map[string]bool),
	}
}

// errNoFileDestination is returned by resolveFileDestination when no
// application-registered destination exists for an incoming FILE payload's
// id (the wire protocol has no field an application could use to name one
// itself).
var errNoFileDestination = errors.New("connections: no destination registered for incoming FILE payload")

// SetBWUConfig overrides the bandwidth-upgrade manager's retry/timeout
// tuning. Must be called before the first Advertise/Discover.
func (c *Connections) SetBWUConfig(cfg config.BWUConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bwuCfg = bwu.Config{
		InitialBackoff:       cfg.InitialBackoff,
		MaxBackoff:           cfg.MaxBackoff,
		BackoffFactor:        cfg.BackoffFactor,
		MaxAttemptsPerMedium: cfg.MaxAttemptsPerMedium,
		AcceptTimeout:        cfg.AcceptTimeout,
		HandoffTimeout:       cfg.HandoffTimeout,
	}
}

// LocalID returns this session's local endpoint id.
func (c *Connections) LocalID() string { return c.localID }

// ensureSession binds the session to strategy on first use and builds the
// endpoint/PCP/BWU managers; later calls under a different strategy fail
// with ALREADY_HAVE_ACTIVE_STRATEGY.
func (c *Connections) ensureSession(strategy frame.Strategy, opts config.SessionOptions, listener Listener) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.strategySet {
		if c.strategy != strategy {
			return StatusAlreadyHaveActiveStrategy
		}
		return StatusOK
	}
	c.strategy = strategy
	c.strategySet = true
	c.opts = opts
	c.endpoints = endpoint.New(c.channels, &endpointListenerAdapter{c: c, listener: listener}, endpoint.Config{
		KeepAliveInterval:      opts.KeepAliveInterval(),
		KeepAliveTimeout:       opts.KeepAliveTimeout(),
		ResolveFileDestination: c.resolveFileDestination,
	})
	c.pcpMgr = pcp.New(strategy, c.localID, nil, c.clientProxy, c.channels, c.endpoints, &pcpListenerAdapter{c: c, listener: listener})
	c.bwuMgr = bwu.New(strategy, c.localID, c.channels, c.registry, c.bwuCfg)
	return StatusOK
}

// Advertise implements advertise: binds the session's strategy if
// unset, brings up a listening Server per allowed medium via the registry,
// and publishes the resulting dial parameters to the in-process discovery
// directory under serviceID.
func (c *Connections) Advertise(serviceID string, info []byte, opts config.AdvertisingOptions, listener Listener) Status {
	if len(info) > frame.MaxEndpointInfoBytes {
		return StatusError
	}
	strategy := opts.Strategy.ToFrame()
	if st := c.ensureSession(strategy, opts, listener); st != StatusOK {
		return st
	}

	c.mu.Lock()
	if c.advertising {
		c.mu.Unlock()
		return StatusAlreadyAdvertising
	}
	if c.discovering {
		c.mu.Unlock()
		return StatusOutOfOrderAPICall
	}
	c.mu.Unlock()

	if err := c.pcpMgr.StartAdvertising(); err != nil {
		return statusFromPCPError(err)
	}
	c.pcpMgr.SetLocalInfo(info)

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.advertising = true
	c.serviceID = serviceID
	c.advertiseCancel = cancel
	c.mu.Unlock()

	// Bring up one listening Server per allowed medium. ready gates only on
	// each server being up with its dial params collected; the accept loops
	// keep running for as long as advertising is active.
	mediumsToOpen := opts.AllowedMediums.ToSet()
	params := make(map[frame.Medium]frame.BWUPathAvailable)
	var paramsMu sync.Mutex
	var ready sync.WaitGroup
	for _, med := range mediumsToOpen {
		upgrader, err := c.registry.Get(med)
		if err != nil {
			continue
		}
		ready.Add(1)
		go func(med frame.Medium, upgrader mediums.Upgrader) {
			server, err := upgrader.StartServer(ctx)
			if err != nil {
				ready.Done()
				return
			}
			paramsMu.Lock()
			params[med] = server.Params()
			paramsMu.Unlock()
			ready.Done()
			c.acceptLoop(ctx, med, server)
		}(med, upgrader)
	}
	ready.Wait()

	packed, err := wire.Pack(wire.BLEAdvertisement{
		Pcp:          strategy,
		EndpointID:   c.localID,
		ServiceHash:  wire.ServiceIDHash(serviceID),
		EndpointInfo: info,
	})
	if err == nil {
		globalDirectory.publish(serviceID, advertisement{endpointID: c.localID, packed: packed, params: params})
	}
	return StatusOK
}

// acceptLoop repeatedly brings up a fresh Server for medium and hands each
// accepted socket to the PCP handler's incoming path, so advertising keeps
// accepting new joiners instead of the one-shot accept a BWU Server
// models.
func (c *Connections) acceptLoop(ctx context.Context, medium frame.Medium, first mediums.Server) {
	server := first
	for {
		sock, err := server.Accept(ctx)
		server.Close()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
		} else {
			go func() {
				_ = c.pcpMgr.HandleIncomingConnection(context.Background(), medium, sock)
			}()
		}
		if ctx.Err() != nil {
			return
		}
		upgrader, err := c.registry.Get(medium)
		if err != nil {
			return
		}
		server, err = upgrader.StartServer(ctx)
		if err != nil {
			return
		}
	}
}

// StopAdvertising implements stop_advertising; idempotent.
func (c *Connections) StopAdvertising() {
	c.mu.Lock()
	if !c.advertising {
		c.mu.Unlock()
		return
	}
	c.advertising = false
	cancel := c.advertiseCancel
	serviceID := c.serviceID
	localID := c.localID
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if c.pcpMgr != nil {
		c.pcpMgr.StopAdvertising()
	}
	globalDirectory.unpublish(serviceID, localID)
}

// discoveryPollInterval is how often Discover re-reads the in-process
// directory for new/gone advertisements -- the stand-in for a platform
// scan's on_found/on_lost callbacks.
const discoveryPollInterval = 200 * time.Millisecond

// Discover implements discover: binds the session's strategy if
// unset and starts polling the in-process directory for serviceID,
// surfacing OnEndpointFound/OnEndpointLost as entries appear and disappear.
func (c *Connections) Discover(serviceID string, opts config.DiscoveryOptions, listener Listener) Status {
	strategy := opts.Strategy.ToFrame()
	if st := c.ensureSession(strategy, opts, listener); st != StatusOK {
		return st
	}

	c.mu.Lock()
	if c.discovering {
		c.mu.Unlock()
		return StatusAlreadyDiscovering
	}
	if c.advertising {
		c.mu.Unlock()
		return StatusOutOfOrderAPICall
	}
	c.mu.Unlock()

	if err := c.pcpMgr.StartDiscovery(); err != nil {
		return statusFromPCPError(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.discovering = true
	c.serviceID = serviceID
	c.discoverCancel = cancel
	c.mu.Unlock()

	go c.pollDirectory(ctx, serviceID, listener)
	return StatusOK
}

func (c *Connections) pollDirectory(ctx context.Context, serviceID string, listener Listener) {
	ticker := time.NewTicker(discoveryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seen := map[string]bool{}
		for _, adv := range globalDirectory.snapshot(serviceID) {
			if adv.endpointID == c.localID {
				continue
			}
			seen[adv.endpointID] = true
			decoded, err := adv.decode()
			if err != nil {
				continue
			}
			c.mu.Lock()
			alreadySeen := c.discoveredSeen[adv.endpointID]
			c.discoveredSeen[adv.endpointID] = true
			c.mu.Unlock()
			c.clientProxy.RegisterDiscoveredEndpoint(clientproxy.DiscoveredEndpoint{
				ID:      adv.endpointID,
				Info:    decoded.EndpointInfo,
				Mediums: mediumsOf(adv.params),
				Params:  adv.params,
			})
			if !alreadySeen && listener != nil {
				listener.OnEndpointFound(adv.endpointID, decoded.EndpointInfo)
			}
		}
		c.mu.Lock()
		var lost []string
		for id := range c.discoveredSeen {
			if !seen[id] {
				delete(c.discoveredSeen, id)
				lost = append(lost, id)
			}
		}
		c.mu.Unlock()
		for _, id := range lost {
			c.clientProxy.Forget(id)
			if listener != nil {
				listener.OnEndpointLost(id)
			}
		}
	}
}

func mediumsOf(params map[frame.Medium]frame.BWUPathAvailable) []frame.Medium {
	out := make([]frame.Medium, 0, len(params))
	for m := range params {
		out = append(out, m)
	}
	return out
}

// StopDiscovery implements stop_discovery; idempotent.
func (c *Connections) StopDiscovery() {
	c.mu.Lock()
	if !c.discovering {
		c.mu.Unlock()
		return
	}
	c.discovering = false
	cancel := c.discoverCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if c.pcpMgr != nil {
		c.pcpMgr.StopDiscovery()
	}
}
