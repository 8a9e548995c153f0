// Package password implements password hashing, legacy hash verification and
// the password policy engine.
//
// # Output format
//
// New hashes are Argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Verifier] also accepts bcrypt hashes and reports them through
// [Verifier.NeedsRehash] so callers can upgrade on the next successful login.
//
// # Policy
//
// [PolicyEngine.Validate] evaluates length, composition, forbidden terms and
// reuse against the last N hashes, in that order. History is written once, when
// a candidate is accepted, through [HistoryStore.AppendPasswordHash].
//
// # What this package must NOT do
//
//   - Log plaintext passwords or hashes.
//   - Import any other authcore package.
package password
