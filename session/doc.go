// Package session resolves inbound credentials to live sessions.
//
// # Carriers
//
// A [Carrier] exposes request cookies and headers by name. The [Extractor]
// walks a configured, ordered list of keys and takes the first non-empty
// value; optional HMAC suffixes and JWT bearers are handled there so that
// legacy cookie names and the current format share one code path.
//
// # Storage
//
// Sessions are keyed by [TokenID], a hash of the opaque token. [RedisStore]
// keeps a compact binary record per session with a TTL equal to the
// remaining lifetime plus a per-principal index for logout-all.
//
// # What this package must NOT do
//
//   - Treat a store error as an absent or valid session; callers fail closed.
//   - Import the root authcore package.
package session
