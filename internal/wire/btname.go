package wire

import (
	"encoding/base64"
	"fmt"
)

// MaxBluetoothNameChars bounds the packed, printable-character encoding used
// for Bluetooth Classic discovery.
const MaxBluetoothNameChars = 147

// btNameEncoding is an unpadded, URL-safe base64 alphabet: every character it
// produces is printable ASCII, which is what a Bluetooth Classic device name
// field requires.
var btNameEncoding = base64.RawURLEncoding

// PackBluetoothName encodes the same advertisement fields as Pack
// into a printable-character Bluetooth Classic device name.
func PackBluetoothName(a BLEAdvertisement) (string, error) {
	packed, err := Pack(a)
	if err != nil {
		return "", err
	}
	name := btNameEncoding.EncodeToString(packed)
	if len(name) > MaxBluetoothNameChars {
		return "", fmt.Errorf("wire: bluetooth device name %d chars exceeds max %d", len(name), MaxBluetoothNameChars)
	}
	return name, nil
}

// UnpackBluetoothName reverses PackBluetoothName.
func UnpackBluetoothName(name string) (BLEAdvertisement, error) {
	if len(name) > MaxBluetoothNameChars {
		return BLEAdvertisement{}, fmt.Errorf("wire: bluetooth device name %d chars exceeds max %d", len(name), MaxBluetoothNameChars)
	}
	packed, err := btNameEncoding.DecodeString(name)
	if err != nil {
		return BLEAdvertisement{}, fmt.Errorf("wire: invalid bluetooth device name encoding: %w", err)
	}
	return Unpack(packed)
}
