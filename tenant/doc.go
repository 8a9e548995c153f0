// Package tenant resolves the organization scope and role a principal acts
// under.
//
// Precedence is fixed: a match on [AdminIdentityPolicy] yields an unscoped
// global-admin [Context] even when memberships exist; otherwise the
// earliest-joined active [Membership] wins; otherwise the context is
// unscoped with no role.
package tenant
