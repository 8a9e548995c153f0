// Package authcore is the authentication and request-authorization core of a
// multi-tenant healthcare platform: password policy with reuse history, TOTP
// second factor with single-use backup codes, opaque server-side sessions,
// tenant scoping, role authorization and an append-only audit ledger.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build]. All shared mutable state lives in
// the injected stores.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the store interfaces and value types. Subpackages hold the reusable
// mechanisms: totp, password, session, tenant, permission and pipeline.
// Rate limiting and audit dispatch live under internal/ and are never
// exported directly.
//
// # Request pipeline
//
// [Engine.RunPipeline] guards a privileged operation with the fixed stage
// order rate_limit, authenticate, tenant, authorize, handler. The first
// failing stage aborts the rest and exactly one audit entry is written per
// invocation, including cancelled ones.
//
// # Errors
//
// Every error matches one kind sentinel ([ErrAuthentication],
// [ErrAuthorization], [ErrValidation], [ErrRateLimited], [ErrConfiguration],
// [ErrUnavailable]) with errors.Is and carries a machine-readable reason
// available through [ReasonOf]. Backend failures never authenticate.
//
// # What this package must NOT do
//
//   - Expose Redis clients, SQL handles or encoding details in its API.
//   - Store plaintext passwords, TOTP codes or backup codes.
//   - Import any sub-package that re-imports authcore (no import cycles).
package authcore
