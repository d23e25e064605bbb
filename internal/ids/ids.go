// Package ids generates identifiers for persisted records and for the
// per-grant watermark tokens embedded in delivered artifacts.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a random UUID string for record primary keys.
func New() string {
	return uuid.NewString()
}

// Watermark returns a new watermark identifier. ULIDs sort by issue time,
// which keeps forensic lookups ordered, and the random part comes from
// crypto/rand so identifiers cannot be predicted from earlier ones.
func Watermark() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// IsWatermark reports whether s is a well-formed watermark identifier.
func IsWatermark(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
