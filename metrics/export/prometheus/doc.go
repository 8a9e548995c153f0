// Package prometheus exposes engine metrics through client_golang.
//
// [Collector] reads [authcore.Engine.MetricsSnapshot] on every scrape and
// emits const metrics, so nothing is double counted and the engine keeps
// its lock-free counters. Counter names are authcore_*_total; the pipeline
// latency histogram is authcore_pipeline_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global default registry. Use [Handler] or register
//     the collector yourself.
//   - Mutate engine state.
package prometheus
