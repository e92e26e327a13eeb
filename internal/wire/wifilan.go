package wire

import (
	"encoding/hex"
	"fmt"
)

// WifiLANServiceType returns the Bonjour/mDNS service type string for a
// service id: `_{6 hex chars of service-id hash}._tcp.`.
func WifiLANServiceType(serviceID string) string {
	hash := ServiceIDHash(serviceID)
	return fmt.Sprintf("_%s._tcp.", hex.EncodeToString(hash[:]))
}

// PackWifiLANInstanceName encodes the advertisement fields into the Bonjour
// service instance name, reusing the same printable encoding as the
// Bluetooth Classic device name.
func PackWifiLANInstanceName(a BLEAdvertisement) (string, error) {
	return PackBluetoothName(a)
}

// UnpackWifiLANInstanceName reverses PackWifiLANInstanceName.
func UnpackWifiLANInstanceName(name string) (BLEAdvertisement, error) {
	return UnpackBluetoothName(name)
}
