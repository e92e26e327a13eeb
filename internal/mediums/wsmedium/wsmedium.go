// Package wsmedium implements a websocket-backed mediums.Upgrader standing
// in for the WIFI_HOTSPOT medium (and, by the same mechanism, any other
// medium whose "connection parameters" boil down to a host/port a peer can
// dial): the advertiser brings up a one-shot HTTP+websocket server and
// publishes its port, the joiner dials in. The accept path frames over
// github.com/gorilla/websocket; the dial path uses nhooyr.io/websocket.
package wsmedium

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	gorillaws "github.com/gorilla/websocket"
	"nhooyr.io/websocket"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/mediums"
)

// Upgrader implements mediums.Upgrader over one websocket-reachable medium.
// advertiseHost is the address the joiner is told to dial; in a real
// deployment this would be the device's Wi-Fi Direct/hotspot IP, discovered
// by the platform layer -- here it is supplied by the caller, since
// obtaining connection parameters is a platform concern this engine does
// not implement.
type Upgrader struct {
	medium        frame.Medium
	advertiseHost string
	path          string
	wsUpgrader    gorillaws.Upgrader
}

// New returns an Upgrader for medium, advertising advertiseHost to joiners
// (e.g. "192.168.49.1" for a real Wi-Fi Direct group owner, "127.0.0.1" in
// tests).
func New(medium frame.Medium, advertiseHost string) *Upgrader {
	return &Upgrader{
		medium:        medium,
		advertiseHost: advertiseHost,
		path:          "/nearby-bwu",
		wsUpgrader:    gorillaws.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

func (u *Upgrader) Medium() frame.Medium { return u.medium }

// server is the advertiser side: one HTTP listener accepting exactly the
// websocket upgrades the joiner's Dial produces.
type server struct {
	ln      net.Listener
	httpSrv *http.Server
	connCh  chan *gorillaws.Conn
	params  frame.BWUPathAvailable
}

func (u *Upgrader) StartServer(ctx context.Context) (mediums.Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("wsmedium: listen: %w", err)
	}

	s := &server{ln: ln, connCh: make(chan *gorillaws.Conn, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc(u.path, func(w http.ResponseWriter, r *http.Request) {
		c, err := u.wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case s.connCh <- c:
		default:
			_ = c.Close()
		}
	})
	s.httpSrv = &http.Server{Handler: mux}
	go s.httpSrv.Serve(ln)

	port := ln.Addr().(*net.TCPAddr).Port
	s.params = frame.BWUPathAvailable{Medium: u.medium, SSID: u.advertiseHost, Port: int32(port)}
	return s, nil
}

func (s *server) Params() frame.BWUPathAvailable { return s.params }

func (s *server) Accept(ctx context.Context) (channel.Socket, error) {
	select {
	case c := <-s.connCh:
		return &gorillaSocket{conn: c}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *server) Close() error {
	_ = s.httpSrv.Close()
	return s.ln.Close()
}

// Dial joins the advertiser's server described by params.
func (u *Upgrader) Dial(ctx context.Context, params frame.BWUPathAvailable) (channel.Socket, error) {
	url := fmt.Sprintf("ws://%s:%d%s", params.SSID, params.Port, u.path)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsmedium: dial: %w", err)
	}
	return &nhooyrSocket{conn: conn}, nil
}

// gorillaSocket adapts a server-accepted *gorillaws.Conn to channel.Socket:
// buffer the current message's io.Reader, fall through to the next message
// on EOF.
type gorillaSocket struct {
	conn   *gorillaws.Conn
	reader io.Reader
	mu     sync.Mutex
}

func (s *gorillaSocket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.reader == nil {
			typ, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if typ != gorillaws.BinaryMessage {
				continue
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			continue
		}
		return n, err
	}
}

func (s *gorillaSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(gorillaws.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *gorillaSocket) InputStream() io.Reader  { return s }
func (s *gorillaSocket) OutputStream() io.Writer { return s }
func (s *gorillaSocket) Close() error            { return s.conn.Close() }

// MaxTransmissionUnit is a conservative single-websocket-message budget;
// gorilla/nhooyr both happily carry larger messages, but the codec's chunk
// sizing (channel.Channel.MaxWriteSize) should stay well clear of typical
// intermediary buffer limits.
func (s *gorillaSocket) MaxTransmissionUnit() int { return 65536 }

// nhooyrSocket adapts a client-dialed *websocket.Conn (nhooyr.io/websocket)
// to channel.Socket. nhooyr's Read returns one whole message per call
// rather than an io.Reader, so a short leftover buffer plays the role
// gorillaSocket's NextReader-based loop plays above.
type nhooyrSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
	buf  []byte
}

func (s *nhooyrSocket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 {
		typ, data, err := s.conn.Read(context.Background())
		if err != nil {
			return 0, err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		s.buf = data
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *nhooyrSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Write(context.Background(), websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *nhooyrSocket) InputStream() io.Reader  { return s }
func (s *nhooyrSocket) OutputStream() io.Writer { return s }
func (s *nhooyrSocket) Close() error            { return s.conn.Close(websocket.StatusNormalClosure, "bwu: closing") }
func (s *nhooyrSocket) MaxTransmissionUnit() int { return 65536 }
