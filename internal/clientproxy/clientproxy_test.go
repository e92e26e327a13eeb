package clientproxy

import (
	"testing"

	"github.com/google/nearby-sub023/internal/frame"
)

func TestDiscoveredEndpointLifecycle(t *testing.T) {
	cp := New()
	if _, ok := cp.Lookup("E1"); ok {
		t.Fatal("expected no endpoint registered yet")
	}
	cp.RegisterDiscoveredEndpoint(DiscoveredEndpoint{ID: "E1", Info: []byte("info"), Mediums: []frame.Medium{frame.MediumBLE}})
	got, ok := cp.Lookup("E1")
	if !ok || string(got.Info) != "info" {
		t.Fatalf("lookup mismatch: %+v", got)
	}
	if len(cp.DiscoveredEndpoints()) != 1 {
		t.Fatal("expected one discovered endpoint")
	}
	cp.Forget("E1")
	if _, ok := cp.Lookup("E1"); ok {
		t.Fatal("expected endpoint forgotten")
	}
}

func TestNonceReplayDetection(t *testing.T) {
	cp := New()
	n := cp.GenerateNonce()
	if !cp.RegisterNonce(n) {
		t.Fatal("expected first registration to succeed")
	}
	if cp.RegisterNonce(n) {
		t.Fatal("expected replayed nonce to be rejected")
	}
}

func TestGenerateNonceVaries(t *testing.T) {
	cp := New()
	seen := map[int32]bool{}
	for i := 0; i < 50; i++ {
		seen[cp.GenerateNonce()] = true
	}
	if len(seen) < 40 {
		t.Fatalf("expected mostly-unique nonces, got %d unique of 50", len(seen))
	}
}
