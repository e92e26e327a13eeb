// Package wire packs and unpacks the bit-exact, radio-specific advertisement
// payloads: the BLE advertisement, the Bluetooth Classic
// device name encoding, and the Wi-Fi LAN (Bonjour) service instance name.
// These are produced by pkg/connections' Advertise and decoded by its
// discovery poll; the actual radio transmission is a driver
// concern (internal/mediums).
package wire

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/nearby-sub023/internal/frame"
)

// EndpointIDLength is the fixed ASCII length of an endpoint id.
const EndpointIDLength = 4

// ServiceIDHashLength is the number of leading SHA-256 bytes of the
// service id carried in an advertisement.
const ServiceIDHashLength = 3

// MaxEndpointInfoBytes mirrors frame.MaxEndpointInfoBytes; duplicated as a
// named constant here because it bounds the BLE advertisement independently
// of the frame codec.
const MaxEndpointInfoBytes = frame.MaxEndpointInfoBytes

// ServiceIDHash returns the leading bytes of SHA-256(serviceID), used both in
// the BLE advertisement and in the Wi-Fi LAN `_{hex}._tcp.` service type
// string.
func ServiceIDHash(serviceID string) [ServiceIDHashLength]byte {
	sum := sha256.Sum256([]byte(serviceID))
	var out [ServiceIDHashLength]byte
	copy(out[:], sum[:ServiceIDHashLength])
	return out
}

// BLEAdvertisement is the decoded form of the packed BLE advertisement
// payload: version (3 bits), PCP id (5 bits), 4-byte endpoint id,
// 3-byte service-id hash, and endpoint-info (≤131 bytes).
type BLEAdvertisement struct {
	Version      uint8
	Pcp          frame.Strategy
	EndpointID   string
	ServiceHash  [ServiceIDHashLength]byte
	EndpointInfo []byte
}

// bleAdvertisementVersion is the only version this codec emits.
const bleAdvertisementVersion uint8 = 0

// Pack encodes a BLEAdvertisement into its wire bytes: one header byte
// (3-bit version | 5-bit pcp id), 4 bytes endpoint id, 3 bytes service hash,
// then endpoint info verbatim.
func Pack(a BLEAdvertisement) ([]byte, error) {
	if len(a.EndpointID) != EndpointIDLength {
		return nil, fmt.Errorf("wire: endpoint id must be %d ASCII chars, got %q", EndpointIDLength, a.EndpointID)
	}
	pcpID := a.Pcp.PcpID()
	if pcpID > 31 {
		return nil, fmt.Errorf("wire: pcp id %d does not fit in 5 bits", pcpID)
	}
	if len(a.EndpointInfo) > MaxEndpointInfoBytes {
		return nil, fmt.Errorf("wire: endpoint info %d bytes exceeds max %d", len(a.EndpointInfo), MaxEndpointInfoBytes)
	}

	out := make([]byte, 0, 1+EndpointIDLength+ServiceIDHashLength+len(a.EndpointInfo))
	header := (bleAdvertisementVersion&0x7)<<5 | (pcpID & 0x1f)
	out = append(out, header)
	out = append(out, []byte(a.EndpointID)...)
	out = append(out, a.ServiceHash[:]...)
	out = append(out, a.EndpointInfo...)
	return out, nil
}

// Unpack decodes bytes produced by Pack.
func Unpack(data []byte) (BLEAdvertisement, error) {
	minLen := 1 + EndpointIDLength + ServiceIDHashLength
	if len(data) < minLen {
		return BLEAdvertisement{}, fmt.Errorf("wire: advertisement too short (%d bytes, need at least %d)", len(data), minLen)
	}
	header := data[0]
	version := header >> 5
	pcpID := header & 0x1f

	var pcp frame.Strategy
	switch pcpID {
	case 1:
		pcp = frame.StrategyStar
	case 2:
		pcp = frame.StrategyCluster
	case 3:
		pcp = frame.StrategyPointToPoint
	default:
		return BLEAdvertisement{}, fmt.Errorf("wire: unknown pcp id %d", pcpID)
	}

	endpointID := string(data[1 : 1+EndpointIDLength])
	var hash [ServiceIDHashLength]byte
	copy(hash[:], data[1+EndpointIDLength:1+EndpointIDLength+ServiceIDHashLength])
	info := append([]byte(nil), data[minLen:]...)
	if len(info) > MaxEndpointInfoBytes {
		return BLEAdvertisement{}, fmt.Errorf("wire: endpoint info %d bytes exceeds max %d", len(info), MaxEndpointInfoBytes)
	}

	return BLEAdvertisement{
		Version:      version,
		Pcp:          pcp,
		EndpointID:   endpointID,
		ServiceHash:  hash,
		EndpointInfo: info,
	}, nil
}
