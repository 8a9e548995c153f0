// Package totp implements RFC 6238 time-based one-time passwords, the RFC 4648
// base32 codec used for shared secrets, and single-use backup code material.
//
// # Codes
//
// Codes are HMAC-SHA1 over the big-endian time-step counter, dynamically
// truncated to [Params.Digits] digits. [Verify] accepts any step inside the
// configured skew window and reports the matched counter so callers can
// reject replays.
//
// # What this package must NOT do
//
//   - Persist secrets or backup codes.
//   - Decide whether a principal is enrolled; that is the Engine's job.
package totp
