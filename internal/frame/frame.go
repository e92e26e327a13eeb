package frame

// FrameType tags the OfflineFrame union.
type FrameType uint8

const (
	FrameUnknown FrameType = iota
	FrameConnectionRequest
	FrameConnectionResponse
	FramePayloadTransfer
	FrameBandwidthUpgrade
	FrameKeepAlive
	FrameDisconnection
)

// CurrentVersion is the only wire version this codec emits. Decode
// rejects any version byte greater than this with UnsupportedVersionError.
const CurrentVersion uint8 = 1

// MaxEndpointInfoBytes bounds ConnectionRequest.EndpointInfo: 131 bytes is
// accepted, 132 is rejected pre-send.
const MaxEndpointInfoBytes = 131

// PayloadKind tags the three payload shapes a transfer can carry.
type PayloadKind uint8

const (
	PayloadKindUnknown PayloadKind = iota
	PayloadKindBytes
	PayloadKindFile
	PayloadKindStream
)

// PayloadTransferKind distinguishes a DATA chunk from an out-of-band CONTROL
// message within a PAYLOAD_TRANSFER frame.
type PayloadTransferKind uint8

const (
	TransferData PayloadTransferKind = iota
	TransferControl
)

// ControlKind enumerates the ControlMessage variants.
type ControlKind uint8

const (
	ControlUnknown ControlKind = iota
	ControlPayloadReceivedAck
	ControlPayloadCanceled
	ControlPayloadError
)

// ChunkLastFlag marks the final chunk of a payload.
const ChunkLastFlag uint8 = 1 << 0

// BWUKind enumerates the BANDWIDTH_UPGRADE_NEGOTIATION sub-messages.
type BWUKind uint8

const (
	BWUKindUnknown BWUKind = iota
	BWUKindPathAvailable
	BWUKindLastWrite
	BWUKindSafeToClose
	BWUKindIntroduction
)

// ConnectionStatus is the payload of a CONNECTION_RESPONSE frame.
type ConnectionStatus int32

const (
	ConnectionAccepted ConnectionStatus = 0
	ConnectionRejected ConnectionStatus = 1
)

// ConnectionRequest is the first message an initiator sends on a freshly
// opened EndpointChannel.
type ConnectionRequest struct {
	EndpointID   string
	EndpointInfo []byte
	Nonce        int32
	Mediums      []Medium
}

// ConnectionResponse answers a ConnectionRequest.
type ConnectionResponse struct {
	Status ConnectionStatus
}

// PayloadHeader identifies the payload a chunk belongs to, with its type and
// total size. It is carried on the first DATA chunk of a payload only;
// CONTROL messages name their payload through ControlMessage.PayloadID.
type PayloadHeader struct {
	PayloadID int64
	Type      PayloadKind
	TotalSize int64 // -1 for STREAM
}

// PayloadChunk is the unit of in-flight segmentation. PayloadID is
// carried on every chunk, not only the first, because the writer
// round-robins across payloads: a receiver demultiplexing
// interleaved DATA frames needs the id on each one, not just the one chunk
// that also carries the PayloadHeader.
type PayloadChunk struct {
	PayloadID int64
	Offset    int64
	Flags     uint8
	Body      []byte
}

// IsLast reports whether this is the final chunk of its payload.
func (c PayloadChunk) IsLast() bool { return c.Flags&ChunkLastFlag != 0 }

// ControlMessage carries an out-of-band per-payload event.
type ControlMessage struct {
	Kind      ControlKind
	PayloadID int64
	Offset    int64
}

// PayloadTransfer is the PAYLOAD_TRANSFER frame body: either a DATA chunk
// (with its header, present only on the first chunk of a payload) or a
// CONTROL message.
type PayloadTransfer struct {
	Kind    PayloadTransferKind
	Header  *PayloadHeader // non-nil only on the first DATA chunk of a payload
	Chunk   *PayloadChunk  // set when Kind == TransferData
	Control *ControlMessage
}

// BWUPathAvailable describes how to reach the upgraded medium.
// Only the fields relevant to Medium are populated.
type BWUPathAvailable struct {
	Medium     Medium
	SSID       string
	Password   string
	Port       int32
	WebRTCPath string
}

// BWUIntroduction lets the responder identify itself on the new channel.
type BWUIntroduction struct {
	EndpointID string
}

// BandwidthUpgrade is the BANDWIDTH_UPGRADE_NEGOTIATION frame body.
type BandwidthUpgrade struct {
	Kind         BWUKind
	PathAvail    *BWUPathAvailable
	Introduction *BWUIntroduction
}

// OfflineFrame is the tagged union carried by every EndpointChannel frame
//. Exactly one of the typed fields matching Type is populated.
type OfflineFrame struct {
	Version  uint8
	Type     FrameType
	ConnReq  *ConnectionRequest
	ConnResp *ConnectionResponse
	Payload  *PayloadTransfer
	BWU      *BandwidthUpgrade
	// KEEP_ALIVE and DISCONNECTION carry no body.
}
