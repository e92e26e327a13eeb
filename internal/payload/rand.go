package payload

import (
	"math/rand"
	"sync"
	"time"
)

// A single mutex-guarded source rather than one rand.Rand per call site.
var (
	idMu  sync.Mutex
	idRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// GenerateID returns a random, likely-unique payload id.
func GenerateID() ID {
	idMu.Lock()
	defer idMu.Unlock()
	v := idRng.Int63()
	if v == 0 {
		v = 1
	}
	return ID(v)
}
