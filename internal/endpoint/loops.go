package endpoint

import (
	"fmt"
	"time"

	"github.com/google/nearby-sub023/internal/channel"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/payload"
)

func (m *Manager) readLoop(es *endpointState) {
	defer es.wg.Done()
	for {
		if es.isStopped() {
			return
		}
		ch := m.channels.Lookup(es.id)
		if ch == nil {
			return
		}
		raw, err := ch.ReadFrame()
		if err != nil {
			// A bandwidth upgrade may have swapped the endpoint's channel
			// and closed the one this loop was draining; re-acquire and
			// keep going on the replacement.
			if next := m.channels.Lookup(es.id); next != nil && next != ch {
				continue
			}
			m.teardown(es, ReasonIOError)
			return
		}
		es.markAlive()

		f, err := frame.Decode(raw)
		if err != nil {
			m.teardown(es, ReasonProtocol)
			return
		}
		if stop := m.dispatch(es, f); stop {
			return
		}
	}
}

// dispatch handles one decoded frame, returning true if the reader loop
// should stop (the endpoint was torn down as a result).
func (m *Manager) dispatch(es *endpointState, f *frame.OfflineFrame) bool {
	switch f.Type {
	case frame.FrameKeepAlive:
		return false
	case frame.FrameDisconnection:
		m.teardown(es, ReasonRemote)
		return true
	case frame.FramePayloadTransfer:
		if err := m.handlePayloadTransfer(es, f.Payload); err != nil {
			m.teardown(es, ReasonProtocol)
			return true
		}
		return false
	case frame.FrameBandwidthUpgrade:
		// Bandwidth-upgrade negotiation is owned by the BWU component; the
		// endpoint manager only keeps the reader alive while it runs and
		// forwards the frame to whoever is negotiating the upgrade.
		if f.BWU != nil && m.listener != nil {
			m.listener.OnBandwidthUpgrade(es.id, f.BWU)
		}
		return false
	case frame.FrameConnectionResponse:
		// A CONNECTION_RESPONSE arriving here belongs to the PCP phase, not
		// an already-established endpoint.
		m.teardown(es, ReasonProtocol)
		return true
	default:
		m.teardown(es, ReasonProtocol)
		return true
	}
}

func (m *Manager) handlePayloadTransfer(es *endpointState, pt *frame.PayloadTransfer) error {
	if pt == nil {
		return &ProtocolError{Reason: "empty payload transfer"}
	}
	switch pt.Kind {
	case frame.TransferData:
		return m.handleDataChunk(es, pt)
	case frame.TransferControl:
		return m.handleControl(es, pt.Control)
	default:
		return &ProtocolError{Reason: "unknown payload transfer kind"}
	}
}

func (m *Manager) handleDataChunk(es *endpointState, pt *frame.PayloadTransfer) error {
	if pt.Chunk == nil {
		return &ProtocolError{Reason: "DATA transfer missing chunk"}
	}
	id := payload.ID(pt.Chunk.PayloadID)

	es.inMu.Lock()
	p, exists := es.incoming[id]
	if !exists {
		if pt.Header == nil {
			es.inMu.Unlock()
			return &ProtocolError{Reason: "first chunk of unknown payload missing header"}
		}
		if payload.ID(pt.Header.PayloadID) != id {
			es.inMu.Unlock()
			return &ProtocolError{Reason: "chunk payload id disagrees with header"}
		}
		switch pt.Header.Type {
		case frame.PayloadKindBytes:
			p = payload.NewIncomingBytes(id, pt.Header.TotalSize)
		case frame.PayloadKindStream:
			p = payload.NewIncomingStream(id, pt.Header.TotalSize)
		case frame.PayloadKindFile:
			es.inMu.Unlock()
			if m.cfg.ResolveFileDestination == nil {
				return &ProtocolError{Reason: "incoming FILE payload requires an application-provided destination"}
			}
			dst, err := m.cfg.ResolveFileDestination(es.id, id, pt.Header.TotalSize)
			if err != nil {
				return &ProtocolError{Reason: fmt.Sprintf("resolving FILE destination: %v", err)}
			}
			p = payload.NewIncomingFile(id, pt.Header.TotalSize, dst)
			es.inMu.Lock()
		default:
			es.inMu.Unlock()
			return &ProtocolError{Reason: "unknown payload kind in header"}
		}
		es.incoming[id] = p
		es.inMu.Unlock()
		if m.listener != nil {
			m.listener.OnPayloadTransferUpdate(es.id, id, payload.StatusInProgress, 0, pt.Header.TotalSize)
		}
	} else {
		es.inMu.Unlock()
		if pt.Header != nil {
			return &ProtocolError{Reason: "duplicate payload id"}
		}
	}

	chunk := payload.Chunk{Offset: pt.Chunk.Offset, Body: pt.Chunk.Body, Last: pt.Chunk.IsLast()}
	if err := p.AttachChunk(chunk); err != nil {
		return err
	}

	if chunk.Last {
		es.inMu.Lock()
		delete(es.incoming, id)
		es.inMu.Unlock()
		if m.listener != nil {
			m.listener.OnPayloadReceived(es.id, p)
			m.listener.OnPayloadTransferUpdate(es.id, id, payload.StatusSuccess, p.Offset(), p.TotalSize())
		}
	}
	return nil
}

func (m *Manager) handleControl(es *endpointState, c *frame.ControlMessage) error {
	if c == nil {
		return &ProtocolError{Reason: "CONTROL transfer missing message"}
	}
	id := payload.ID(c.PayloadID)
	switch c.Kind {
	case frame.ControlPayloadCanceled:
		es.inMu.Lock()
		p, exists := es.incoming[id]
		es.inMu.Unlock()
		offset := int64(0)
		total := int64(-1)
		if exists {
			p.Cancel()
			offset, total = p.Offset(), p.TotalSize()
		}
		if m.listener != nil {
			m.listener.OnPayloadTransferUpdate(es.id, id, payload.StatusCanceled, offset, total)
		}
	case frame.ControlPayloadReceivedAck, frame.ControlPayloadError:
		// Surfaced to the application as a status update; no state change
		// on this side is required.
		status := payload.StatusInProgress
		if c.Kind == frame.ControlPayloadError {
			status = payload.StatusFailure
		}
		if m.listener != nil {
			m.listener.OnPayloadTransferUpdate(es.id, id, status, c.Offset, -1)
		}
	default:
		return &ProtocolError{Reason: "unknown control kind"}
	}
	return nil
}

// writeLoop drains the outgoing payload queue round-robin, one chunk per
// payload per pass, so a large file never starves a small message.
func (m *Manager) writeLoop(es *endpointState) {
	defer es.wg.Done()
	for {
		if es.isStopped() {
			return
		}

		es.outMu.Lock()
		if len(es.outQueue) == 0 {
			es.outMu.Unlock()
			select {
			case <-es.stop:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		id := es.outQueue[0]
		es.outQueue = es.outQueue[1:]
		p := es.outPayloads[id]
		es.outMu.Unlock()

		if p == nil {
			continue
		}

		ch := m.channels.Lookup(es.id)
		if ch == nil {
			return
		}

		maxBody := ch.MaxWriteSize()
		chunk, err := p.DetachNextChunk(maxBody)
		if err != nil {
			// Canceled or a stream producer error: stop sending further
			// chunks of this payload without tearing down the channel.
			es.outMu.Lock()
			delete(es.outPayloads, id)
			delete(es.headerSent, id)
			es.outMu.Unlock()
			status := payload.StatusCanceled
			if !p.IsCanceled() {
				status = payload.StatusFailure
			}
			if m.listener != nil {
				m.listener.OnPayloadTransferUpdate(es.id, id, status, p.Offset(), p.TotalSize())
			}
			continue
		}

		pt := &frame.PayloadTransfer{
			Kind: frame.TransferData,
			Chunk: &frame.PayloadChunk{
				PayloadID: int64(id),
				Offset:    chunk.Offset,
				Body:      chunk.Body,
			},
		}
		if chunk.Last {
			pt.Chunk.Flags |= frame.ChunkLastFlag
		}

		es.outMu.Lock()
		firstChunk := !es.headerSent[id]
		if firstChunk {
			pt.Header = &frame.PayloadHeader{PayloadID: int64(id), Type: payloadKindOf(p.Type()), TotalSize: p.TotalSize()}
			es.headerSent[id] = true
		}
		es.outMu.Unlock()
		if firstChunk && m.listener != nil {
			m.listener.OnPayloadTransferUpdate(es.id, id, payload.StatusInProgress, 0, p.TotalSize())
		}

		data, err := frame.Encode(&frame.OfflineFrame{Version: frame.CurrentVersion, Type: frame.FramePayloadTransfer, Payload: pt})
		if err != nil {
			m.teardown(es, ReasonProtocol)
			return
		}
		if err := m.writeOnCurrent(es, ch, data); err != nil {
			m.teardown(es, ReasonIOError)
			return
		}

		if chunk.Last {
			es.outMu.Lock()
			delete(es.outPayloads, id)
			delete(es.headerSent, id)
			es.outMu.Unlock()
			if m.listener != nil {
				m.listener.OnPayloadTransferUpdate(es.id, id, payload.StatusSuccess, p.Offset(), p.TotalSize())
			}
		} else {
			es.outMu.Lock()
			es.outQueue = append(es.outQueue, id)
			es.outMu.Unlock()
		}
	}
}

// writeOnCurrent writes data on ch, retrying on the endpoint's current
// channel when ch fails because a concurrent bandwidth upgrade swapped and
// closed it. A paused channel never loses the frame (WriteFrame parks, then
// fails on close without having sent anything), so retrying the whole frame
// on the replacement preserves chunk ordering and offsets.
func (m *Manager) writeOnCurrent(es *endpointState, ch *channel.Channel, data []byte) error {
	err := ch.WriteFrame(data)
	for err != nil {
		next := m.channels.Lookup(es.id)
		if next == nil || next == ch {
			return err
		}
		ch = next
		err = ch.WriteFrame(data)
	}
	return nil
}

func payloadKindOf(t payload.Type) frame.PayloadKind {
	switch t {
	case payload.TypeBytes:
		return frame.PayloadKindBytes
	case payload.TypeFile:
		return frame.PayloadKindFile
	case payload.TypeStream:
		return frame.PayloadKindStream
	default:
		return frame.PayloadKindUnknown
	}
}

func (m *Manager) keepAliveLoop(es *endpointState) {
	defer es.wg.Done()
	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-es.stop:
			return
		case <-ticker.C:
			if es.sinceLastRecv() > m.cfg.KeepAliveTimeout {
				m.teardown(es, ReasonTimeout)
				return
			}
			ch := m.channels.Lookup(es.id)
			if ch == nil {
				return
			}
			data, err := frame.Encode(&frame.OfflineFrame{Version: frame.CurrentVersion, Type: frame.FrameKeepAlive})
			if err != nil {
				continue
			}
			if err := m.writeOnCurrent(es, ch, data); err != nil {
				m.teardown(es, ReasonIOError)
				return
			}
		}
	}
}
