// Package jwt issues and verifies short-lived bearer tokens that reference a
// server-side session. Bearers never replace the session lookup; they only
// let API clients carry the session ID in an Authorization header.
package jwt
