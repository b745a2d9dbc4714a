// Package internaldefs holds the metric names, help strings and bucket
// boundaries shared by the Prometheus and OTel exporters, and the [Read]
// step both run per scrape, so the two expose identical series.
package internaldefs
