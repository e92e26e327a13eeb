package frame

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, f *OfflineFrame) *OfflineFrame {
	t.Helper()
	encoded, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return decoded
}

func TestConnectionRequestRoundTrip(t *testing.T) {
	f := &OfflineFrame{
		Type: FrameConnectionRequest,
		ConnReq: &ConnectionRequest{
			EndpointID:   "E0AB",
			EndpointInfo: []byte("deviceA"),
			Nonce:        42,
			Mediums:      []Medium{MediumWifiLAN, MediumBluetooth},
		},
	}
	got := roundTrip(t, f)
	if got.ConnReq.EndpointID != "E0AB" || string(got.ConnReq.EndpointInfo) != "deviceA" || got.ConnReq.Nonce != 42 {
		t.Fatalf("mismatch: %+v", got.ConnReq)
	}
	if len(got.ConnReq.Mediums) != 2 || got.ConnReq.Mediums[0] != MediumWifiLAN {
		t.Fatalf("mediums mismatch: %+v", got.ConnReq.Mediums)
	}
}

func TestConnectionRequestEndpointInfoBoundary(t *testing.T) {
	ok := &ConnectionRequest{EndpointID: "E0AB", EndpointInfo: bytes.Repeat([]byte{1}, MaxEndpointInfoBytes)}
	if _, err := Encode(&OfflineFrame{Type: FrameConnectionRequest, ConnReq: ok}); err != nil {
		t.Fatalf("131 bytes should be accepted: %v", err)
	}
	tooBig := &ConnectionRequest{EndpointID: "E0AB", EndpointInfo: bytes.Repeat([]byte{1}, MaxEndpointInfoBytes+1)}
	if _, err := Encode(&OfflineFrame{Type: FrameConnectionRequest, ConnReq: tooBig}); err == nil {
		t.Fatalf("132 bytes should be rejected")
	}
}

func TestConnectionResponseRoundTrip(t *testing.T) {
	f := &OfflineFrame{Type: FrameConnectionResponse, ConnResp: &ConnectionResponse{Status: ConnectionRejected}}
	got := roundTrip(t, f)
	if got.ConnResp.Status != ConnectionRejected {
		t.Fatalf("status mismatch: %+v", got.ConnResp)
	}
}

func TestPayloadTransferDataRoundTrip(t *testing.T) {
	f := &OfflineFrame{
		Type: FramePayloadTransfer,
		Payload: &PayloadTransfer{
			Kind:   TransferData,
			Header: &PayloadHeader{PayloadID: 123456789, Type: PayloadKindBytes, TotalSize: 2},
			Chunk:  &PayloadChunk{PayloadID: 123456789, Offset: 0, Flags: ChunkLastFlag, Body: []byte("hi")},
		},
	}
	got := roundTrip(t, f)
	if got.Payload.Header.PayloadID != 123456789 || got.Payload.Header.TotalSize != 2 {
		t.Fatalf("header mismatch: %+v", got.Payload.Header)
	}
	if got.Payload.Chunk.PayloadID != 123456789 {
		t.Fatalf("chunk payload id mismatch: %+v", got.Payload.Chunk)
	}
	if !bytes.Equal(got.Payload.Chunk.Body, []byte("hi")) || !got.Payload.Chunk.IsLast() {
		t.Fatalf("chunk mismatch: %+v", got.Payload.Chunk)
	}
}

func TestPayloadTransferZeroLengthChunk(t *testing.T) {
	f := &OfflineFrame{
		Type: FramePayloadTransfer,
		Payload: &PayloadTransfer{
			Kind:   TransferData,
			Header: &PayloadHeader{PayloadID: 1, Type: PayloadKindBytes, TotalSize: 0},
			Chunk:  &PayloadChunk{Offset: 0, Flags: ChunkLastFlag, Body: nil},
		},
	}
	got := roundTrip(t, f)
	if len(got.Payload.Chunk.Body) != 0 || !got.Payload.Chunk.IsLast() {
		t.Fatalf("zero length chunk mismatch: %+v", got.Payload.Chunk)
	}
}

func TestPayloadTransferControlRoundTrip(t *testing.T) {
	f := &OfflineFrame{
		Type: FramePayloadTransfer,
		Payload: &PayloadTransfer{
			Kind:    TransferControl,
			Control: &ControlMessage{Kind: ControlPayloadCanceled, PayloadID: 55, Offset: 4096},
		},
	}
	got := roundTrip(t, f)
	if got.Payload.Control.Kind != ControlPayloadCanceled || got.Payload.Control.Offset != 4096 {
		t.Fatalf("control mismatch: %+v", got.Payload.Control)
	}
}

func TestBandwidthUpgradeRoundTrip(t *testing.T) {
	cases := []*BandwidthUpgrade{
		{Kind: BWUKindPathAvailable, PathAvail: &BWUPathAvailable{Medium: MediumWifiHotspot, SSID: "hot", Password: "pw", Port: 9090}},
		{Kind: BWUKindLastWrite},
		{Kind: BWUKindSafeToClose},
		{Kind: BWUKindIntroduction, Introduction: &BWUIntroduction{EndpointID: "E0AB"}},
	}
	for _, c := range cases {
		got := roundTrip(t, &OfflineFrame{Type: FrameBandwidthUpgrade, BWU: c})
		if got.BWU.Kind != c.Kind {
			t.Fatalf("kind mismatch: got %v want %v", got.BWU.Kind, c.Kind)
		}
	}
}

func TestKeepAliveAndDisconnectionRoundTrip(t *testing.T) {
	for _, typ := range []FrameType{FrameKeepAlive, FrameDisconnection} {
		got := roundTrip(t, &OfflineFrame{Type: typ})
		if got.Type != typ {
			t.Fatalf("type mismatch: got %v want %v", got.Type, typ)
		}
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	f := &OfflineFrame{Type: FrameKeepAlive}
	encoded, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	encoded[0] = CurrentVersion + 1
	_, err = Decode(encoded)
	var verErr *UnsupportedVersionError
	if err == nil {
		t.Fatal("expected error")
	}
	if !errorsAs(err, &verErr) {
		t.Fatalf("expected UnsupportedVersionError, got %T: %v", err, err)
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected malformed frame error for empty input")
	}
	if _, err := Decode([]byte{CurrentVersion}); err == nil {
		t.Fatal("expected malformed frame error for missing type byte")
	}
}

func TestDecodeRejectsTruncatedChunkBody(t *testing.T) {
	f := &OfflineFrame{
		Type: FramePayloadTransfer,
		Payload: &PayloadTransfer{
			Kind:  TransferData,
			Chunk: &PayloadChunk{Offset: 0, Flags: ChunkLastFlag, Body: []byte("hello")},
		},
	}
	encoded, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Decode(encoded[:len(encoded)-3])
	if err == nil {
		t.Fatal("expected malformed frame error for truncated body")
	}
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("some frame bytes")
	if err := WriteLengthPrefixed(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := ReadLengthPrefixed(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestReadLengthPrefixedRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var lenB [4]byte
	lenB[0] = 0xff // absurdly large length
	buf.Write(lenB[:])
	if _, err := ReadLengthPrefixed(&buf); err == nil {
		t.Fatal("expected error for oversized length prefix")
	}
}

// errorsAs avoids importing "errors" just for As in this file's single use.
func errorsAs(err error, target **UnsupportedVersionError) bool {
	if e, ok := err.(*UnsupportedVersionError); ok {
		*target = e
		return true
	}
	return false
}
