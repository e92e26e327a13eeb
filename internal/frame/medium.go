// Package frame implements the OfflineFrame wire codec: the tagged union of
// control messages exchanged on every EndpointChannel, and the length-prefixed
// byte framing that carries them.
package frame

// Medium identifies a physical wireless transport. Values are stable on the
// wire (they appear inside CONNECTION_REQUEST and BANDWIDTH_UPGRADE frames)
// and must never be renumbered.
type Medium uint8

const (
	MediumUnknown Medium = iota
	MediumBluetooth
	MediumBLE
	MediumWifiLAN
	MediumWifiHotspot
	MediumWifiDirect
	MediumWebRTC
)

func (m Medium) String() string {
	switch m {
	case MediumBluetooth:
		return "BLUETOOTH"
	case MediumBLE:
		return "BLE"
	case MediumWifiLAN:
		return "WIFI_LAN"
	case MediumWifiHotspot:
		return "WIFI_HOTSPOT"
	case MediumWifiDirect:
		return "WIFI_DIRECT"
	case MediumWebRTC:
		return "WEB_RTC"
	default:
		return "UNKNOWN"
	}
}

// InitialPriority is the default medium ordering used for the first
// connection attempt: WIFI_LAN first, BLE last. Strategy-specific handlers
// may reorder this.
func InitialPriority() []Medium {
	return []Medium{MediumWifiLAN, MediumWebRTC, MediumWifiDirect, MediumBluetooth, MediumBLE}
}

// Strategy is the topology a ClientProxy advertises or discovers under.
// Immutable once advertising/discovery starts.
type Strategy uint8

const (
	StrategyUnknown Strategy = iota
	StrategyCluster
	StrategyStar
	StrategyPointToPoint
)

func (s Strategy) String() string {
	switch s {
	case StrategyCluster:
		return "P2P_CLUSTER"
	case StrategyStar:
		return "P2P_STAR"
	case StrategyPointToPoint:
		return "P2P_POINT_TO_POINT"
	default:
		return "UNKNOWN"
	}
}

// PcpID is the 5-bit (≤31 values) strategy identifier packed into BLE
// advertisements. The numbering is fixed on the wire:
// P2P_STAR=1, P2P_CLUSTER=2, P2P_POINT_TO_POINT=3.
func (s Strategy) PcpID() uint8 {
	switch s {
	case StrategyStar:
		return 1
	case StrategyCluster:
		return 2
	case StrategyPointToPoint:
		return 3
	default:
		return 0
	}
}
