// Package otel mirrors engine metrics into an OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and,
// for the pipeline latency histogram, a bucket gauge carrying an le
// attribute plus a count gauge. A single callback reads
// [authcore.Engine.MetricsSnapshot] on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
