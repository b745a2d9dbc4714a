// Package otel binds gqlAuth metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers observable counters for the event counters,
// cumulative bucket gauges for the latency histogram and float gauges for the
// published key set (loaded, key count, seconds of freshness left, stale).
// Callers own the MeterProvider and pass in a Meter.
package otel
