package connections

import (
	"sync"

	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/wire"
)

// advertisement is one advertiser's published presence under one service id,
// as an on-medium discoverer would observe it: the packed BLE-style
// advertisement bytes (decoded by a discoverer the way a real scan would
// decode a GATT/mDNS TXT record) plus the per-medium dial parameters a
// joiner needs to actually reach it. The core's own scope stops at "the
// platform radio drivers ... are out of scope"; this in-process
// directory stands in for that scan/GATT layer, the same posture
// internal/mediums/loopback and internal/mediums/webrtcmedium's SDP broker
// already take for same-host use.
type advertisement struct {
	endpointID string
	packed     []byte
	params     map[frame.Medium]frame.BWUPathAvailable
}

// directory is a process-wide registry of active advertisements keyed by
// service id, then endpoint id. A real deployment replaces this with however
// each medium driver's start_discovery/on_found plugs into the platform scan
// API; nothing in internal/pcp or internal/mediums depends on it existing.
type directory struct {
	mu       sync.Mutex
	services map[string]map[string]advertisement
}

var globalDirectory = &directory{services: make(map[string]map[string]advertisement)}

func (d *directory) publish(serviceID string, adv advertisement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.services[serviceID]
	if !ok {
		s = make(map[string]advertisement)
		d.services[serviceID] = s
	}
	s[adv.endpointID] = adv
}

func (d *directory) unpublish(serviceID, endpointID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.services[serviceID]; ok {
		delete(s, endpointID)
		if len(s) == 0 {
			delete(d.services, serviceID)
		}
	}
}

func (d *directory) snapshot(serviceID string) []advertisement {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.services[serviceID]
	out := make([]advertisement, 0, len(s))
	for _, adv := range s {
		out = append(out, adv)
	}
	return out
}

// decode unpacks the BLE-style advertisement bytes, exercising the same
// wire.Unpack path a real BLE/Wi-Fi LAN discoverer would run over its scan
// result.
func (a advertisement) decode() (wire.BLEAdvertisement, error) {
	return wire.Unpack(a.packed)
}
