// Package webrtcmedium implements the WEB_RTC mediums.Upgrader using
// github.com/pion/webrtc/v4, with a reliable, ordered DataChannel (pion's
// defaults) as the transport socket.
//
// SDP offer/answer exchange has no dedicated wire message in this engine's
// BWU protocol (it only defines PATH_AVAILABLE/INTRODUCTION/
// LAST_WRITE/SAFE_TO_CLOSE, and PATH_AVAILABLE is one-way, advertiser to
// joiner); a real deployment would relay the answer back through an
// external signaling rendezvous this engine does not define. This driver
// instead uses a small in-process broker keyed by a session id carried in
// BWUPathAvailable.WebRTCPath, correct for same-host use (same posture as
// internal/mediums/loopback).
package webrtcmedium

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/mediums"
)

var broker sync.Map // sessionID string -> chan webrtc.SessionDescription

// Upgrader implements mediums.Upgrader for frame.MediumWebRTC.
type Upgrader struct {
	config webrtc.Configuration
}

// New returns a WebRTC Upgrader using the public Google STUN server for ICE
// gathering.
func New() *Upgrader {
	return &Upgrader{config: webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}}
}

func (u *Upgrader) Medium() frame.Medium { return frame.MediumWebRTC }

type server struct {
	pc        *webrtc.PeerConnection
	sessionID string
	dcOpenC   chan *webrtc.DataChannel
	params    frame.BWUPathAvailable
}

// StartServer creates an offerer PeerConnection and a single DataChannel,
// waits for non-trickle ICE gathering to finish, and publishes the full
// offer (plus a broker session id) as the advertiser's connection params.
func (u *Upgrader) StartServer(ctx context.Context) (mediums.Server, error) {
	pc, err := webrtc.NewPeerConnection(u.config)
	if err != nil {
		return nil, fmt.Errorf("webrtcmedium: new peer connection: %w", err)
	}

	s := &server{pc: pc, sessionID: uuid.NewString(), dcOpenC: make(chan *webrtc.DataChannel, 1)}

	dc, err := pc.CreateDataChannel("nearby-bwu", nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcmedium: create data channel: %w", err)
	}
	dc.OnOpen(func() {
		select {
		case s.dcOpenC <- dc:
		default:
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcmedium: create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcmedium: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	answerC := make(chan webrtc.SessionDescription, 1)
	broker.Store(s.sessionID, answerC)
	go func() {
		select {
		case answer := <-answerC:
			_ = pc.SetRemoteDescription(answer)
		case <-ctx.Done():
		}
	}()

	offerJSON, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	s.params = frame.BWUPathAvailable{Medium: frame.MediumWebRTC, WebRTCPath: s.sessionID + "|" + string(offerJSON)}
	return s, nil
}

func (s *server) Params() frame.BWUPathAvailable { return s.params }

func (s *server) Accept(ctx context.Context) (channel.Socket, error) {
	select {
	case dc := <-s.dcOpenC:
		return newDataChannelSocket(dc), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *server) Close() error {
	broker.Delete(s.sessionID)
	return s.pc.Close()
}

// Dial answers the advertiser's offer: it unpacks the session id and offer
// from params.WebRTCPath, creates the answerer PeerConnection, and posts the
// answer back through the broker once ICE gathering completes.
func (u *Upgrader) Dial(ctx context.Context, params frame.BWUPathAvailable) (channel.Socket, error) {
	sessionID, offerJSON, ok := splitWebRTCPath(params.WebRTCPath)
	if !ok {
		return nil, fmt.Errorf("webrtcmedium: malformed WebRTCPath")
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offerJSON), &offer); err != nil {
		return nil, fmt.Errorf("webrtcmedium: decode offer: %w", err)
	}

	pc, err := webrtc.NewPeerConnection(u.config)
	if err != nil {
		return nil, fmt.Errorf("webrtcmedium: new peer connection: %w", err)
	}

	sockC := make(chan channel.Socket, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			select {
			case sockC <- newDataChannelSocket(dc):
			default:
			}
		})
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcmedium: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcmedium: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcmedium: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	if v, ok := broker.Load(sessionID); ok {
		if answerC, ok := v.(chan webrtc.SessionDescription); ok {
			select {
			case answerC <- *pc.LocalDescription():
			default:
			}
		}
	}

	select {
	case sock := <-sockC:
		return sock, nil
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}
}

func splitWebRTCPath(path string) (sessionID, offerJSON string, ok bool) {
	idx := strings.IndexByte(path, '|')
	if idx < 0 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}

// dataChannelSocket adapts a pion DataChannel's callback-based OnMessage
// into a blocking io.Reader via an io.Pipe, the same message-to-stream
// bridge gorillaSocket/nhooyrSocket use for their own framed transports.
type dataChannelSocket struct {
	dc *webrtc.DataChannel
	pr *io.PipeReader
	pw *io.PipeWriter
}

func newDataChannelSocket(dc *webrtc.DataChannel) *dataChannelSocket {
	pr, pw := io.Pipe()
	s := &dataChannelSocket{dc: dc, pr: pr, pw: pw}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		_, _ = pw.Write(msg.Data)
	})
	dc.OnClose(func() { _ = pw.Close() })
	return s
}

func (s *dataChannelSocket) InputStream() io.Reader  { return s.pr }
func (s *dataChannelSocket) OutputStream() io.Writer { return dcWriter{s.dc} }

func (s *dataChannelSocket) Close() error {
	_ = s.pw.Close()
	return s.dc.Close()
}

// MaxTransmissionUnit stays comfortably under the ~16KiB SCTP message
// ceiling pion's default DataChannel configuration allows.
func (s *dataChannelSocket) MaxTransmissionUnit() int { return 16000 }

type dcWriter struct{ dc *webrtc.DataChannel }

func (w dcWriter) Write(p []byte) (int, error) {
	if err := w.dc.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
