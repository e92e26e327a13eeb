// Package config models the application-facing tuning knobs
// (AdvertisingOptions/DiscoveryOptions) plus the process-wide
// settings a long-running advertiser/discoverer needs (medium driver
// addresses, metrics endpoint): plain nested structs with `yaml:"..."` tags
// and a loader that fills in defaults after unmarshaling, not struct-tag
// defaults.
package config

import (
	"time"

	"github.com/google/nearby-sub023/internal/frame"
)

// Strategy mirrors frame.Strategy in the YAML-friendly string form an
// operator writes in a config file.
type Strategy string

const (
	StrategyCluster      Strategy = "P2P_CLUSTER"
	StrategyStar         Strategy = "P2P_STAR"
	StrategyPointToPoint Strategy = "P2P_POINT_TO_POINT"
)

// ToFrame converts to the wire/runtime Strategy enum, defaulting unknown or
// empty values to P2P_CLUSTER (the least restrictive topology).
func (s Strategy) ToFrame() frame.Strategy {
	switch s {
	case StrategyStar:
		return frame.StrategyStar
	case StrategyPointToPoint:
		return frame.StrategyPointToPoint
	default:
		return frame.StrategyCluster
	}
}

// AllowedMediums is the per-medium boolean allow-set. An all-false (zero
// value) set is normalized to "all allowed" by ToSet: unspecified means
// every medium.
type AllowedMediums struct {
	Bluetooth   bool `yaml:"bluetooth"`
	BLE         bool `yaml:"ble"`
	WifiLAN     bool `yaml:"wifi_lan"`
	WifiHotspot bool `yaml:"wifi_hotspot"`
	WifiDirect  bool `yaml:"wifi_direct"`
	WebRTC      bool `yaml:"web_rtc"`
}

// IsEmpty reports whether every medium is unset.
func (a AllowedMediums) IsEmpty() bool {
	return !a.Bluetooth && !a.BLE && !a.WifiLAN && !a.WifiHotspot && !a.WifiDirect && !a.WebRTC
}

// ToSet returns the allowed mediums as a frame.Medium slice, in connection
// priority order (frame.InitialPriority). An empty set returns every
// medium.
func (a AllowedMediums) ToSet() []frame.Medium {
	if a.IsEmpty() {
		return append(frame.InitialPriority(), frame.MediumWifiHotspot)
	}
	allowed := map[frame.Medium]bool{
		frame.MediumBluetooth:   a.Bluetooth,
		frame.MediumBLE:         a.BLE,
		frame.MediumWifiLAN:     a.WifiLAN,
		frame.MediumWifiHotspot: a.WifiHotspot,
		frame.MediumWifiDirect:  a.WifiDirect,
		frame.MediumWebRTC:      a.WebRTC,
	}
	candidates := append(frame.InitialPriority(), frame.MediumWifiHotspot)
	out := make([]frame.Medium, 0, len(candidates))
	seen := make(map[frame.Medium]bool, len(candidates))
	for _, m := range candidates {
		if allowed[m] && !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	return out
}

// SessionOptions carries the knobs AdvertisingOptions and DiscoveryOptions
// have in common; both type aliases below share this one struct.
type SessionOptions struct {
	Strategy                   Strategy       `yaml:"strategy"`
	AllowedMediums             AllowedMediums `yaml:"allowed_mediums"`
	AutoUpgradeBandwidth       bool           `yaml:"auto_upgrade_bandwidth"`
	EnforceTopologyConstraints *bool          `yaml:"enforce_topology_constraints"`
	LowPower                   bool           `yaml:"low_power"`
	KeepAliveIntervalMS        int            `yaml:"keep_alive_interval_ms"`
	KeepAliveTimeoutMS         int            `yaml:"keep_alive_timeout_ms"`
	RemoteBluetoothMAC         string         `yaml:"remote_bluetooth_mac_address"`
	FastAdvertisementUUID      string         `yaml:"fast_advertisement_service_uuid"`
}

// AdvertisingOptions is the advertiser-side session configuration.
type AdvertisingOptions = SessionOptions

// DiscoveryOptions is the discoverer-side session configuration.
type DiscoveryOptions = SessionOptions

// EnforcesTopology reports the effective enforce_topology_constraints value,
// defaulting to true
func (o SessionOptions) EnforcesTopology() bool {
	return o.EnforceTopologyConstraints == nil || *o.EnforceTopologyConstraints
}

// KeepAliveInterval/KeepAliveTimeout convert the YAML millisecond fields to
// time.Duration, defaulting to 5000/30000 ms when unset.
func (o SessionOptions) KeepAliveInterval() time.Duration {
	return msOrDefault(o.KeepAliveIntervalMS, 5000)
}

func (o SessionOptions) KeepAliveTimeout() time.Duration {
	return msOrDefault(o.KeepAliveTimeoutMS, 30000)
}

func msOrDefault(ms int, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

// BWUConfig mirrors internal/bwu.Config's YAML-settable fields: the
// initial-3s, doubling, capped-300s backoff knobs.
type BWUConfig struct {
	InitialBackoff       time.Duration `yaml:"initial_backoff"`
	MaxBackoff           time.Duration `yaml:"max_backoff"`
	BackoffFactor        float64       `yaml:"backoff_factor"`
	MaxAttemptsPerMedium int           `yaml:"max_attempts_per_medium"`
	AcceptTimeout        time.Duration `yaml:"accept_timeout"`
	HandoffTimeout       time.Duration `yaml:"handoff_timeout"`
}

// MediumDrivers is process-wide addressing for the medium drivers this
// module ships (internal/mediums/wsmedium, webrtcmedium, loopback): where
// the WIFI_HOTSPOT-simulating websocket server should advertise itself.
type MediumDrivers struct {
	WSAdvertiseHost string `yaml:"ws_advertise_host"`
	LoopbackHost    string `yaml:"loopback_host"`
}

// GlobalConfig is the process-wide configuration file shape: a metrics
// listen address plus the pieces every ClientProxy session shares.
type GlobalConfig struct {
	MetricsListen string        `yaml:"metrics_listen"` // "" disables the metrics server
	Drivers       MediumDrivers `yaml:"drivers"`
	BWU           BWUConfig     `yaml:"bwu"`
}
