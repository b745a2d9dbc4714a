// Package prometheus exposes gqlAuth counters through client_golang.
//
// [PrometheusExporter] implements prometheus.Collector. Mount [PrometheusExporter.Handler]
// for a standalone /metrics endpoint, or call [PrometheusExporter.Register] to
// add the series to an existing registry. Counters are named gqlauth_*_total
// the latency histogram is gqlauth_authorize_latency_seconds and the
// published key set is described by the gqlauth_keyset_* gauges.
package prometheus
