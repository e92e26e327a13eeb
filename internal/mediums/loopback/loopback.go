// Package loopback implements a net.Pipe-backed mediums.Upgrader for use as
// a stand-in BLUETOOTH/BLE/WIFI_LAN driver where no real radio is present:
// an in-process dialer alongside the network-backed drivers, for tests and
// local development.
package loopback

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/mediums"
)

// Upgrader implements mediums.Upgrader entirely in-process: StartServer
// registers its server in this Upgrader's own table under the host label
// given to New, and Dial looks the label up in that same table rather than
// touching any network stack.
type Upgrader struct {
	medium frame.Medium
	host   string

	mu      sync.Mutex
	waiting map[string]chan net.Conn
}

// New returns an Upgrader for medium, identified to dialers by host (an
// arbitrary label standing in for the address a real radio would expose).
func New(medium frame.Medium, host string) *Upgrader {
	return &Upgrader{medium: medium, host: host, waiting: make(map[string]chan net.Conn)}
}

func (u *Upgrader) Medium() frame.Medium { return u.medium }

type server struct {
	u      *Upgrader
	connCh chan net.Conn
	params frame.BWUPathAvailable
}

func (u *Upgrader) StartServer(ctx context.Context) (mediums.Server, error) {
	s := &server{u: u, connCh: make(chan net.Conn, 1)}
	u.mu.Lock()
	u.waiting[u.host] = s.connCh
	u.mu.Unlock()
	s.params = frame.BWUPathAvailable{Medium: u.medium, SSID: u.host}
	return s, nil
}

func (s *server) Params() frame.BWUPathAvailable { return s.params }

func (s *server) Accept(ctx context.Context) (channel.Socket, error) {
	select {
	case conn := <-s.connCh:
		return &socket{conn: conn}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *server) Close() error {
	s.u.mu.Lock()
	delete(s.u.waiting, s.u.host)
	s.u.mu.Unlock()
	return nil
}

// Dial connects to the server this same Upgrader instance most recently
// started under params.SSID (this driver's stand-in for a dialable address);
// servers started on other Upgrader instances are not found.
func (u *Upgrader) Dial(ctx context.Context, params frame.BWUPathAvailable) (channel.Socket, error) {
	u.mu.Lock()
	connCh, ok := u.waiting[params.SSID]
	u.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("loopback: no server registered under %q", params.SSID)
	}

	local, remote := net.Pipe()
	select {
	case connCh <- remote:
		return &socket{conn: local}, nil
	case <-ctx.Done():
		_ = local.Close()
		_ = remote.Close()
		return nil, ctx.Err()
	}
}

// socket adapts a net.Conn (either half of a net.Pipe) to channel.Socket.
type socket struct {
	conn net.Conn
}

func (s *socket) InputStream() io.Reader  { return s.conn }
func (s *socket) OutputStream() io.Writer { return s.conn }
func (s *socket) Close() error            { return s.conn.Close() }

// MaxTransmissionUnit is unbounded for an in-process pipe; this matches the
// size channel.Channel itself already chunks writes to.
func (s *socket) MaxTransmissionUnit() int { return 1 << 20 }
