package main

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/nearby-sub023/internal/payload"
	"github.com/google/nearby-sub023/pkg/connections"
)

// cliListener implements connections.Listener by logging every lifecycle
// event to stderr and printing received BYTES payloads to stdout.
type cliListener struct {
	connections.NopListener
	c             *connections.Connections
	autoAccept    bool
	requestOnFind bool
	localInfo     []byte
	requestOnce   sync.Once
	connected     chan string
	done          chan struct{}
}

func newCLIListener(c *connections.Connections, autoAccept bool) *cliListener {
	return &cliListener{c: c, autoAccept: autoAccept, connected: make(chan string, 1), done: make(chan struct{}, 8)}
}

func (l *cliListener) OnEndpointFound(endpointID string, endpointInfo []byte) {
	log.Printf("endpoint found: %s (%q)", endpointID, endpointInfo)
	if l.requestOnFind {
		l.requestOnce.Do(func() {
			if st := l.c.RequestConnection(endpointID, l.localInfo, l); st != connections.StatusOK {
				log.Printf("request_connection(%s): %s", endpointID, st)
			}
		})
	}
}

func (l *cliListener) OnEndpointLost(endpointID string) {
	log.Printf("endpoint lost: %s", endpointID)
}

func (l *cliListener) OnConnectionInitiated(endpointID string, endpointInfo []byte) {
	log.Printf("connection initiated by %s (%q)", endpointID, endpointInfo)
	if l.autoAccept {
		if st := l.c.AcceptConnection(endpointID); st != connections.StatusOK {
			log.Printf("accept_connection(%s): %s", endpointID, st)
		}
	}
}

func (l *cliListener) OnConnectionResult(endpointID string, status connections.Status) {
	log.Printf("connection result for %s: %s", endpointID, status)
	if status == connections.StatusOK {
		select {
		case l.connected <- endpointID:
		default:
		}
	}
}

func (l *cliListener) OnDisconnected(endpointID string) {
	log.Printf("disconnected: %s", endpointID)
}

func (l *cliListener) OnPayloadReceived(endpointID string, p *payload.Payload) {
	switch p.Type() {
	case payload.TypeBytes:
		data, _ := p.AsBytes()
		fmt.Printf("[%s] %s\n", endpointID, string(data))
	case payload.TypeFile:
		log.Printf("[%s] received file payload %d (%d bytes)", endpointID, p.ID(), p.TotalSize())
	case payload.TypeStream:
		log.Printf("[%s] received stream payload %d", endpointID, p.ID())
	}
}

func (l *cliListener) OnPayloadProgress(endpointID string, id payload.ID, status payload.Status, bytesTransferred, total int64) {
	log.Printf("[%s] payload %d: %s (%d/%d)", endpointID, id, payloadStatusName(status), bytesTransferred, total)
	switch status {
	case payload.StatusSuccess, payload.StatusCanceled, payload.StatusFailure:
		select {
		case l.done <- struct{}{}:
		default:
		}
	}
}

func payloadStatusName(s payload.Status) string {
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
