package bwu

import "github.com/google/nearby-sub023/internal/frame"

// UpgradeOrderFor returns the candidate upgrade mediums for strategy, most
// preferred first. STAR's default upgrade target is WIFI_HOTSPOT; CLUSTER
// and POINT_TO_POINT try WIFI_DIRECT, then WEB_RTC, then WIFI_HOTSPOT (an
// upgrade-only order, distinct from frame.InitialPriority).
func UpgradeOrderFor(strategy frame.Strategy) []frame.Medium {
	switch strategy {
	case frame.StrategyStar:
		return []frame.Medium{frame.MediumWifiHotspot, frame.MediumWebRTC, frame.MediumWifiDirect}
	default:
		return []frame.Medium{frame.MediumWifiDirect, frame.MediumWebRTC, frame.MediumWifiHotspot}
	}
}
