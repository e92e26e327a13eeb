package wire

import (
	"github.com/google/uuid"
)

// nearbyNamespace is the namespace UUID mixed into every name-based
// (version-3) UUID this module derives. It is arbitrary but fixed:
// changing it would change every derived UUID.
var nearbyNamespace = uuid.MustParse("e1dc3e48-0b8e-3f0a-9a1e-6f2f6b2c9f10")

// ServiceUUID derives the canonical 128-bit version-3 UUID for a service id,
// in the textual form `xxxxxxxx-xxxx-3xxx-yxxx-xxxxxxxxxxxx`.
// uuid.NewMD5 is RFC 4122's version-3 (name-based, MD5) construction.
func ServiceUUID(serviceID string) uuid.UUID {
	return uuid.NewMD5(nearbyNamespace, []byte(serviceID))
}
