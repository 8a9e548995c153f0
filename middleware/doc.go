// Package middleware adapts authcore.Engine to net/http.
//
// # Guards
//
//   - [Guard] runs an arbitrary Operation through the request pipeline.
//   - [RequireSession] authenticates only.
//   - [RequireCapabilities] demands a tenant scope and capabilities.
//
// Each guard builds a [Carrier] over cookies and headers, copies client IP,
// user agent and request ID into the context, and calls Engine.RunPipeline.
// The wrapped handler runs as the pipeline's handler stage and can read the
// resolved request with [RequestFromContext].
//
// # What this package must NOT do
//
//   - Decide anything itself: every pass/reject comes from the engine.
//   - Write audit entries; the pipeline records one per request.
package middleware
