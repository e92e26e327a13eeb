// Package connections is the application-facing facade over the offline
// connection engine: it wires internal/clientproxy, internal/pcp,
// internal/endpoint, internal/bwu, internal/mediums and internal/metrics
// into the advertise/discover/request/accept/send_payload surface an
// application calls directly: a thin public package backed entirely by
// internal/.
package connections

import (
	"errors"

	"github.com/google/nearby-sub023/internal/channelmgr"
	"github.com/google/nearby-sub023/internal/mediums"
	"github.com/google/nearby-sub023/internal/pcp"
)

// Status is the application-observable exit code of every API call.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusOutOfOrderAPICall
	StatusAlreadyHaveActiveStrategy
	StatusAlreadyAdvertising
	StatusAlreadyDiscovering
	StatusEndpointIOError
	StatusEndpointUnknown
	StatusConnectionRejected
	StatusAlreadyConnectedToEndpoint
	StatusNotConnectedToEndpoint
	StatusBluetoothError
	StatusBLEError
	StatusWifiLANError
	StatusPayloadUnknown
	StatusReset
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusOutOfOrderAPICall:
		return "OUT_OF_ORDER_API_CALL"
	case StatusAlreadyHaveActiveStrategy:
		return "ALREADY_HAVE_ACTIVE_STRATEGY"
	case StatusAlreadyAdvertising:
		return "ALREADY_ADVERTISING"
	case StatusAlreadyDiscovering:
		return "ALREADY_DISCOVERING"
	case StatusEndpointIOError:
		return "ENDPOINT_IO_ERROR"
	case StatusEndpointUnknown:
		return "ENDPOINT_UNKNOWN"
	case StatusConnectionRejected:
		return "CONNECTION_REJECTED"
	case StatusAlreadyConnectedToEndpoint:
		return "ALREADY_CONNECTED_TO_ENDPOINT"
	case StatusNotConnectedToEndpoint:
		return "NOT_CONNECTED_TO_ENDPOINT"
	case StatusBluetoothError:
		return "BLUETOOTH_ERROR"
	case StatusBLEError:
		return "BLE_ERROR"
	case StatusWifiLANError:
		return "WIFI_LAN_ERROR"
	case StatusPayloadUnknown:
		return "PAYLOAD_UNKNOWN"
	case StatusReset:
		return "RESET"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "ERROR"
	}
}

// statusFromPCPError maps a pcp.Manager error to the application Status it
// corresponds to.
func statusFromPCPError(err error) Status {
	if err == nil {
		return StatusOK
	}
	switch {
	case errors.Is(err, pcp.ErrAlreadyAdvertising):
		return StatusAlreadyAdvertising
	case errors.Is(err, pcp.ErrAlreadyDiscovering):
		return StatusAlreadyDiscovering
	case errors.Is(err, pcp.ErrOutOfOrderAPICall):
		return StatusOutOfOrderAPICall
	case errors.Is(err, pcp.ErrAlreadyConnected):
		return StatusAlreadyConnectedToEndpoint
	case errors.Is(err, pcp.ErrConnectionTimeout):
		return StatusTimeout
	case errors.Is(err, pcp.ErrConnectionRejected):
		return StatusConnectionRejected
	case errors.Is(err, pcp.ErrUnknownEndpoint):
		return StatusEndpointUnknown
	case errors.Is(err, pcp.ErrEndpointIOError), errors.Is(err, pcp.ErrNoMediumSucceeded), errors.Is(err, pcp.ErrUnexpectedFrame), errors.Is(err, pcp.ErrAuthenticationFailed):
		return StatusEndpointIOError
	default:
		var unsupported *mediums.ErrUnsupportedMedium
		if errors.As(err, &unsupported) {
			return StatusEndpointIOError
		}
		var notReg *channelmgr.NotRegisteredError
		if errors.As(err, &notReg) {
			return StatusNotConnectedToEndpoint
		}
		return StatusError
	}
}

// errAlreadyHaveActiveStrategy names the ALREADY_HAVE_ACTIVE_STRATEGY case,
// which has no pcp.Err* counterpart in statusFromPCPError. ensureSession
// reports that case as StatusAlreadyHaveActiveStrategy directly and does
// not return this value.
var errAlreadyHaveActiveStrategy = errors.New("connections: a different strategy is already active on this session")
