package connections

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/nearby-sub023/internal/wire"
)

const endpointIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	idRandMu sync.Mutex
	idRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// newEndpointID returns a random 4-char ASCII endpoint id
// (wire.EndpointIDLength).
func newEndpointID() string {
	idRandMu.Lock()
	defer idRandMu.Unlock()
	b := make([]byte, wire.EndpointIDLength)
	for i := range b {
		b[i] = endpointIDAlphabet[idRand.Intn(len(endpointIDAlphabet))]
	}
	return string(b)
}
