package frame

import (
	"bytes"
	"encoding/binary"
	"io"
)

// MaxFrameBytes bounds a single length-prefixed blob (post-encryption, if
// any). It is generous enough for any Wi-Fi/Bluetooth chunk size while
// still rejecting a corrupt/adversarial length prefix outright.
const MaxFrameBytes = 16 * 1024 * 1024

// WriteLengthPrefixed writes the wire envelope: a big-endian u32 length
// followed by payload. It performs a single Write call so that concurrent
// writers serialized upstream (EndpointChannel) produce atomic frames on the
// wire.
func WriteLengthPrefixed(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadLengthPrefixed reads one wire envelope and returns its payload bytes.
func ReadLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return nil, malformed("length %d exceeds max frame size %d", n, MaxFrameBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Encode serializes an OfflineFrame to its wire representation.
func Encode(f *OfflineFrame) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(CurrentVersion)
	buf.WriteByte(byte(f.Type))

	switch f.Type {
	case FrameConnectionRequest:
		if err := encodeConnectionRequest(&buf, f.ConnReq); err != nil {
			return nil, err
		}
	case FrameConnectionResponse:
		putInt32(&buf, int32(f.ConnResp.Status))
	case FramePayloadTransfer:
		if err := encodePayloadTransfer(&buf, f.Payload); err != nil {
			return nil, err
		}
	case FrameBandwidthUpgrade:
		if err := encodeBandwidthUpgrade(&buf, f.BWU); err != nil {
			return nil, err
		}
	case FrameKeepAlive, FrameDisconnection:
		// no body
	default:
		return nil, malformed("unknown frame type %d", f.Type)
	}
	return buf.Bytes(), nil
}

// Decode parses an OfflineFrame from wire bytes.
func Decode(data []byte) (*OfflineFrame, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, malformed("empty frame")
	}
	if version > CurrentVersion {
		return nil, &UnsupportedVersionError{Version: version}
	}
	typByte, err := r.ReadByte()
	if err != nil {
		return nil, malformed("missing frame type byte")
	}
	f := &OfflineFrame{Version: version, Type: FrameType(typByte)}

	switch f.Type {
	case FrameConnectionRequest:
		cr, err := decodeConnectionRequest(r)
		if err != nil {
			return nil, err
		}
		f.ConnReq = cr
	case FrameConnectionResponse:
		status, err := getInt32(r)
		if err != nil {
			return nil, malformed("connection response: %v", err)
		}
		f.ConnResp = &ConnectionResponse{Status: ConnectionStatus(status)}
	case FramePayloadTransfer:
		pt, err := decodePayloadTransfer(r)
		if err != nil {
			return nil, err
		}
		f.Payload = pt
	case FrameBandwidthUpgrade:
		bwu, err := decodeBandwidthUpgrade(r)
		if err != nil {
			return nil, err
		}
		f.BWU = bwu
	case FrameKeepAlive, FrameDisconnection:
		// no body
	default:
		return nil, malformed("unknown frame type %d", f.Type)
	}

	if r.Len() != 0 {
		return nil, malformed("%d trailing bytes after frame body", r.Len())
	}
	return f, nil
}

// --- primitive helpers -----------------------------------------------------

func putInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func getInt32(r *bytes.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func putInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func getInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// putBytes writes a u32-length-prefixed byte string (chunk bodies can exceed 64KiB).
func putBytes(buf *bytes.Buffer, p []byte) {
	var lenB [4]byte
	binary.BigEndian.PutUint32(lenB[:], uint32(len(p)))
	buf.Write(lenB[:])
	buf.Write(p)
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	var lenB [4]byte
	if _, err := io.ReadFull(r, lenB[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenB[:])
	if int(n) > r.Len() {
		return nil, malformed("declared body size %d exceeds remaining frame bytes %d", n, r.Len())
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, err
	}
	return p, nil
}

// putString writes a u16-length-prefixed string, sufficient for endpoint ids,
// SSIDs, and passwords (never a bulk payload body).
func putString(buf *bytes.Buffer, s string) {
	var lenB [2]byte
	binary.BigEndian.PutUint16(lenB[:], uint16(len(s)))
	buf.Write(lenB[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var lenB [2]byte
	if _, err := io.ReadFull(r, lenB[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(lenB[:])
	if int(n) > r.Len() {
		return "", malformed("declared string length %d exceeds remaining frame bytes %d", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// --- per-variant encode/decode ---------------------------------------------

func encodeConnectionRequest(buf *bytes.Buffer, cr *ConnectionRequest) error {
	if len(cr.EndpointInfo) > MaxEndpointInfoBytes {
		return malformed("endpoint info %d bytes exceeds max %d", len(cr.EndpointInfo), MaxEndpointInfoBytes)
	}
	putString(buf, cr.EndpointID)
	putBytes(buf, cr.EndpointInfo)
	putInt32(buf, cr.Nonce)
	buf.WriteByte(byte(len(cr.Mediums)))
	for _, m := range cr.Mediums {
		buf.WriteByte(byte(m))
	}
	return nil
}

func decodeConnectionRequest(r *bytes.Reader) (*ConnectionRequest, error) {
	id, err := getString(r)
	if err != nil {
		return nil, malformed("connection request endpoint id: %v", err)
	}
	info, err := getBytes(r)
	if err != nil {
		return nil, malformed("connection request endpoint info: %v", err)
	}
	if len(info) > MaxEndpointInfoBytes {
		return nil, malformed("endpoint info %d bytes exceeds max %d", len(info), MaxEndpointInfoBytes)
	}
	nonce, err := getInt32(r)
	if err != nil {
		return nil, malformed("connection request nonce: %v", err)
	}
	count, err := r.ReadByte()
	if err != nil {
		return nil, malformed("connection request medium count: %v", err)
	}
	mediums := make([]Medium, 0, count)
	for i := 0; i < int(count); i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, malformed("connection request medium %d: %v", i, err)
		}
		mediums = append(mediums, Medium(b))
	}
	return &ConnectionRequest{EndpointID: id, EndpointInfo: info, Nonce: nonce, Mediums: mediums}, nil
}

func encodePayloadTransfer(buf *bytes.Buffer, pt *PayloadTransfer) error {
	buf.WriteByte(byte(pt.Kind))
	switch pt.Kind {
	case TransferData:
		if pt.Chunk == nil {
			return malformed("DATA payload transfer missing chunk")
		}
		hasHeader := pt.Header != nil
		if hasHeader {
			buf.WriteByte(1)
			putInt64(buf, pt.Header.PayloadID)
			buf.WriteByte(byte(pt.Header.Type))
			putInt64(buf, pt.Header.TotalSize)
		} else {
			buf.WriteByte(0)
		}
		putInt64(buf, pt.Chunk.PayloadID)
		putInt64(buf, pt.Chunk.Offset)
		buf.WriteByte(pt.Chunk.Flags)
		putBytes(buf, pt.Chunk.Body)
	case TransferControl:
		if pt.Control == nil {
			return malformed("CONTROL payload transfer missing control message")
		}
		buf.WriteByte(byte(pt.Control.Kind))
		putInt64(buf, pt.Control.PayloadID)
		putInt64(buf, pt.Control.Offset)
	default:
		return malformed("unknown payload transfer kind %d", pt.Kind)
	}
	return nil
}

func decodePayloadTransfer(r *bytes.Reader) (*PayloadTransfer, error) {
	kindB, err := r.ReadByte()
	if err != nil {
		return nil, malformed("payload transfer kind: %v", err)
	}
	pt := &PayloadTransfer{Kind: PayloadTransferKind(kindB)}
	switch pt.Kind {
	case TransferData:
		hasHeader, err := r.ReadByte()
		if err != nil {
			return nil, malformed("payload transfer header flag: %v", err)
		}
		if hasHeader == 1 {
			id, err := getInt64(r)
			if err != nil {
				return nil, malformed("payload header id: %v", err)
			}
			typB, err := r.ReadByte()
			if err != nil {
				return nil, malformed("payload header type: %v", err)
			}
			total, err := getInt64(r)
			if err != nil {
				return nil, malformed("payload header total size: %v", err)
			}
			pt.Header = &PayloadHeader{PayloadID: id, Type: PayloadKind(typB), TotalSize: total}
		}
		chunkID, err := getInt64(r)
		if err != nil {
			return nil, malformed("chunk payload id: %v", err)
		}
		offset, err := getInt64(r)
		if err != nil {
			return nil, malformed("chunk offset: %v", err)
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, malformed("chunk flags: %v", err)
		}
		body, err := getBytes(r)
		if err != nil {
			return nil, malformed("chunk body: %v", err)
		}
		pt.Chunk = &PayloadChunk{PayloadID: chunkID, Offset: offset, Flags: flags, Body: body}
	case TransferControl:
		kindB, err := r.ReadByte()
		if err != nil {
			return nil, malformed("control kind: %v", err)
		}
		id, err := getInt64(r)
		if err != nil {
			return nil, malformed("control payload id: %v", err)
		}
		offset, err := getInt64(r)
		if err != nil {
			return nil, malformed("control offset: %v", err)
		}
		pt.Control = &ControlMessage{Kind: ControlKind(kindB), PayloadID: id, Offset: offset}
	default:
		return nil, malformed("unknown payload transfer kind %d", pt.Kind)
	}
	return pt, nil
}

func encodeBandwidthUpgrade(buf *bytes.Buffer, bwu *BandwidthUpgrade) error {
	buf.WriteByte(byte(bwu.Kind))
	switch bwu.Kind {
	case BWUKindPathAvailable:
		p := bwu.PathAvail
		if p == nil {
			return malformed("PATH_AVAILABLE missing body")
		}
		buf.WriteByte(byte(p.Medium))
		putString(buf, p.SSID)
		putString(buf, p.Password)
		putInt32(buf, p.Port)
		putString(buf, p.WebRTCPath)
	case BWUKindIntroduction:
		if bwu.Introduction == nil {
			return malformed("INTRODUCTION missing body")
		}
		putString(buf, bwu.Introduction.EndpointID)
	case BWUKindLastWrite, BWUKindSafeToClose:
		// no body
	default:
		return malformed("unknown bwu kind %d", bwu.Kind)
	}
	return nil
}

func decodeBandwidthUpgrade(r *bytes.Reader) (*BandwidthUpgrade, error) {
	kindB, err := r.ReadByte()
	if err != nil {
		return nil, malformed("bwu kind: %v", err)
	}
	bwu := &BandwidthUpgrade{Kind: BWUKind(kindB)}
	switch bwu.Kind {
	case BWUKindPathAvailable:
		mediumB, err := r.ReadByte()
		if err != nil {
			return nil, malformed("bwu path medium: %v", err)
		}
		ssid, err := getString(r)
		if err != nil {
			return nil, malformed("bwu path ssid: %v", err)
		}
		pass, err := getString(r)
		if err != nil {
			return nil, malformed("bwu path password: %v", err)
		}
		port, err := getInt32(r)
		if err != nil {
			return nil, malformed("bwu path port: %v", err)
		}
		rtcPath, err := getString(r)
		if err != nil {
			return nil, malformed("bwu path webrtc path: %v", err)
		}
		bwu.PathAvail = &BWUPathAvailable{Medium: Medium(mediumB), SSID: ssid, Password: pass, Port: port, WebRTCPath: rtcPath}
	case BWUKindIntroduction:
		id, err := getString(r)
		if err != nil {
			return nil, malformed("bwu introduction endpoint id: %v", err)
		}
		bwu.Introduction = &BWUIntroduction{EndpointID: id}
	case BWUKindLastWrite, BWUKindSafeToClose:
		// no body
	default:
		return nil, malformed("unknown bwu kind %d", bwu.Kind)
	}
	return bwu, nil
}
