// Package internaldefs holds the metric names and bucket layout shared by
// the Prometheus and OpenTelemetry exporters, so that both expose the same
// series for the same engine counters.
package internaldefs
