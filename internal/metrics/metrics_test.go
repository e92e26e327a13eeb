package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/nearby-sub023/internal/frame"
)

func TestDisabledRegistryServesUnavailable(t *testing.T) {
	r := New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.handler(rec, req)
	if rec.Code != 503 {
		t.Fatalf("expected 503 when disabled, got %d", rec.Code)
	}
}

func TestEnabledRegistryRecordsAndRenders(t *testing.T) {
	r := New()
	r.Enable()
	r.Enable() // idempotent

	r.ObserveConnectionEstablished(frame.StrategyStar, frame.MediumWifiLAN)
	r.ObserveConnectionFailure(frame.StrategyStar, "TIMEOUT")
	r.ObserveDisconnection("ENDPOINT_IO_ERROR")
	r.ObserveBWUAttempt(frame.MediumWifiHotspot)
	r.ObserveBWUSuccess(frame.MediumWifiHotspot)
	r.ObservePayloadBytes("BYTES", 1024)
	r.ObservePayloadCompleted("BYTES", "SUCCESS")
	r.SetActiveEndpoints(frame.StrategyStar, 3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.handler(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"nearby_connections_established_total{",
		`strategy="P2P_STAR"`,
		"nearby_bwu_successes_total{",
		"nearby_active_endpoints{",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %q, got:\n%s", want, body)
		}
	}
}

func TestDisabledRegistryIgnoresObservations(t *testing.T) {
	r := New()
	r.ObserveConnectionEstablished(frame.StrategyCluster, frame.MediumBLE)
	if r.connectionsEstablished != nil {
		t.Fatal("expected no allocation while disabled")
	}
}
