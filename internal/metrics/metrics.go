// Package metrics exposes a Prometheus text-format endpoint for the
// connection engine's own counters and gauges (endpoints selected per
// medium, connection failures by reason, BWU attempts and successes per
// medium, payload throughput): an
// enabled-flag-guarded, mutex-protected map of label strings to values with
// a hand-rolled text-format writer.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/nearby-sub023/internal/frame"
)

// Registry accumulates counters/gauges for one process. The zero value is
// disabled (all Observe* calls are no-ops) until Enable is called.
type Registry struct {
	mu      sync.RWMutex
	enabled bool

	connectionsEstablished map[string]uint64
	connectionFailures     map[string]uint64
	disconnections         map[string]uint64
	bwuAttempts            map[string]uint64
	bwuSuccesses           map[string]uint64
	payloadBytes           map[string]uint64
	payloadsCompleted      map[string]uint64
	activeEndpoints        map[string]float64
}

// New returns a disabled Registry; call Enable to start collecting.
func New() *Registry {
	return &Registry{}
}

// Enable allocates the counter maps and starts accepting Observe* calls. It
// is idempotent.
func (r *Registry) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		return
	}
	r.connectionsEstablished = make(map[string]uint64)
	r.connectionFailures = make(map[string]uint64)
	r.disconnections = make(map[string]uint64)
	r.bwuAttempts = make(map[string]uint64)
	r.bwuSuccesses = make(map[string]uint64)
	r.payloadBytes = make(map[string]uint64)
	r.payloadsCompleted = make(map[string]uint64)
	r.activeEndpoints = make(map[string]float64)
	r.enabled = true
}

// ServeHTTP mounts /metrics on mux and blocks serving on addr until ctx is
// canceled, then shuts the server down gracefully.
func (r *Registry) ServeHTTP(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("metrics: empty listen address")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", r.handler)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// ObserveConnectionEstablished records one endpoint reaching ESTABLISHED
// over medium under strategy.
func (r *Registry) ObserveConnectionEstablished(strategy frame.Strategy, medium frame.Medium) {
	r.bump(func() { r.connectionsEstablished[labelsStrategyMedium(strategy, medium)]++ })
}

// ObserveConnectionFailure records a failed connection attempt with its
// status reason (TIMEOUT, ENDPOINT_IO_ERROR, ...).
func (r *Registry) ObserveConnectionFailure(strategy frame.Strategy, reason string) {
	r.bump(func() {
		r.connectionFailures[fmt.Sprintf("strategy=%s,reason=%s", strategy, reason)]++
	})
}

// ObserveDisconnection records an endpoint teardown by its DisconnectReason
// string (internal/endpoint.DisconnectReason.String()).
func (r *Registry) ObserveDisconnection(reason string) {
	r.bump(func() { r.disconnections[fmt.Sprintf("reason=%s", reason)]++ })
}

// ObserveBWUAttempt/ObserveBWUSuccess record one bandwidth-upgrade attempt
// and, separately, one that completed the handoff.
func (r *Registry) ObserveBWUAttempt(medium frame.Medium) {
	r.bump(func() { r.bwuAttempts[fmt.Sprintf("medium=%s", medium)]++ })
}

func (r *Registry) ObserveBWUSuccess(medium frame.Medium) {
	r.bump(func() { r.bwuSuccesses[fmt.Sprintf("medium=%s", medium)]++ })
}

// ObservePayloadBytes/ObservePayloadCompleted track payload throughput by
// type (BYTES/STREAM/FILE) and terminal status (SUCCESS/CANCELED/FAILURE).
func (r *Registry) ObservePayloadBytes(payloadType string, n int) {
	r.bump(func() { r.payloadBytes[fmt.Sprintf("type=%s", payloadType)] += uint64(n) })
}

func (r *Registry) ObservePayloadCompleted(payloadType, status string) {
	r.bump(func() {
		r.payloadsCompleted[fmt.Sprintf("type=%s,status=%s", payloadType, status)]++
	})
}

// SetActiveEndpoints reports the current connected-endpoint count for a
// strategy, a gauge rather than a counter since it can go down.
func (r *Registry) SetActiveEndpoints(strategy frame.Strategy, n int) {
	r.bump(func() { r.activeEndpoints[fmt.Sprintf("strategy=%s", strategy)] = float64(n) })
}

func (r *Registry) bump(f func()) {
	r.mu.RLock()
	if !r.enabled {
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	f()
}

func labelsStrategyMedium(s frame.Strategy, m frame.Medium) string {
	return fmt.Sprintf("strategy=%s,medium=%s", s, m)
}

func (r *Registry) handler(w http.ResponseWriter, _ *http.Request) {
	r.mu.RLock()
	enabled := r.enabled
	r.mu.RUnlock()
	if !enabled {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("# metrics disabled\n"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	r.mu.RLock()
	defer r.mu.RUnlock()
	writeCounterVec(w, "nearby_connections_established_total", r.connectionsEstablished)
	writeCounterVec(w, "nearby_connection_failures_total", r.connectionFailures)
	writeCounterVec(w, "nearby_disconnections_total", r.disconnections)
	writeCounterVec(w, "nearby_bwu_attempts_total", r.bwuAttempts)
	writeCounterVec(w, "nearby_bwu_successes_total", r.bwuSuccesses)
	writeCounterVec(w, "nearby_payload_bytes_total", r.payloadBytes)
	writeCounterVec(w, "nearby_payloads_completed_total", r.payloadsCompleted)
	writeGaugeVec(w, "nearby_active_endpoints", r.activeEndpoints)
}

func writeCounterVec(w http.ResponseWriter, name string, data map[string]uint64) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s} %d\n", name, toPromLabels(k), data[k])
	}
}

func writeGaugeVec(w http.ResponseWriter, name string, data map[string]float64) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s} %.0f\n", name, toPromLabels(k), data[k])
	}
}

func toPromLabels(s string) string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		parts[i] = fmt.Sprintf("%s=%q", kv[0], kv[1])
	}
	return strings.Join(parts, ",")
}
