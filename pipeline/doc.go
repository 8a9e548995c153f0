// Package pipeline provides a small generic ordered middleware chain.
//
// A [Chain] is a tagged list of [Stage] values run strictly in order over a
// shared state value. The first error aborts the remaining stages; the
// [Finalizer] runs in every case, including cancellation and panics, which
// is where callers write their audit record. Each stage runs in its own
// OpenTelemetry span.
package pipeline
