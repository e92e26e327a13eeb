package main

import (
	"context"
	"log"

	"github.com/google/nearby-sub023/internal/config"
	"github.com/google/nearby-sub023/internal/frame"
	"github.com/google/nearby-sub023/internal/mediums"
	"github.com/google/nearby-sub023/internal/mediums/loopback"
	"github.com/google/nearby-sub023/internal/mediums/webrtcmedium"
	"github.com/google/nearby-sub023/internal/mediums/wsmedium"
	"github.com/google/nearby-sub023/internal/metrics"
)

// buildRegistry wires one mediums.Registry with every driver this module
// ships: wsmedium standing in for WIFI_LAN/WIFI_HOTSPOT (real TCP sockets,
// so two separate nearbyctl processes on the same host can actually reach
// each other), webrtcmedium for WEB_RTC, and loopback for BLUETOOTH/BLE
// (in-process only -- useful when both sides of a demo run in the same
// binary, not across the two nearbyctl invocations this CLI drives).
func buildRegistry(drivers config.MediumDrivers) *mediums.Registry {
	wsHost := drivers.WSAdvertiseHost
	if wsHost == "" {
		wsHost = "127.0.0.1"
	}
	loHost := drivers.LoopbackHost
	if loHost == "" {
		loHost = "nearbyctl"
	}

	reg := mediums.NewRegistry()
	reg.Register(wsmedium.New(frame.MediumWifiLAN, wsHost))
	reg.Register(wsmedium.New(frame.MediumWifiHotspot, wsHost))
	reg.Register(webrtcmedium.New())
	reg.Register(loopback.New(frame.MediumBluetooth, loHost))
	reg.Register(loopback.New(frame.MediumBLE, loHost))
	return reg
}

// maybeStartMetrics enables and serves the Prometheus endpoint when an
// address was given on the command line or in the config file, returning a
// disabled-but-usable registry otherwise (every Observe* call is then a
// cheap no-op, per internal/metrics's enabled-flag guard).
func maybeStartMetrics(ctx context.Context, flagAddr string, cfg *config.GlobalConfig) *metrics.Registry {
	addr := flagAddr
	if addr == "" && cfg != nil {
		addr = cfg.MetricsListen
	}
	m := metrics.New()
	if addr == "" {
		return m
	}
	m.Enable()
	go func() {
		if err := m.ServeHTTP(ctx, addr); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
	log.Printf("prometheus metrics listening on %s", addr)
	return m
}
