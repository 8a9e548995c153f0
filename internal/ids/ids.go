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

// ULID returns a lexicographically sortable identifier stamped with t.
// Identifiers generated within the same millisecond are strictly increasing.
func ULID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// RequestID returns a random UUIDv4 for correlating a request across logs
// and audit entries.
func RequestID() string {
	return uuid.NewString()
}
