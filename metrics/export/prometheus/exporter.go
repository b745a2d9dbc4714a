package prometheus

import (
	"net/http"
	"time"

	gqlAuth "github.com/MrEthical07/gqlAuth"
	"github.com/MrEthical07/gqlAuth/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter is a prometheus.Collector over the extension's
// in-process counters and key set state. Values are read on every scrape.
type PrometheusExporter struct {
	source       internaldefs.Source
	now          func() time.Time
	counters     []*prometheus.Desc
	histograms   []*prometheus.Desc
	gauges       []*prometheus.Desc
	auditDropped *prometheus.Desc
}

// NewPrometheusExporter creates an exporter reading from ext.
func NewPrometheusExporter(ext *gqlAuth.Extension) *PrometheusExporter {
	return NewPrometheusExporterFromSource(ext)
}

// NewPrometheusExporterFromSource creates an exporter from any
// internaldefs.Source.
func NewPrometheusExporterFromSource(source internaldefs.Source) *PrometheusExporter {
	p := &PrometheusExporter{
		source:       source,
		now:          time.Now,
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		p.counters = append(p.counters, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.HistogramDefs {
		p.histograms = append(p.histograms, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.GaugeDefs {
		p.gauges = append(p.gauges, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	return p
}

// Describe implements prometheus.Collector.
func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range p.counters {
		ch <- d
	}
	for _, d := range p.histograms {
		ch <- d
	}
	for _, d := range p.gauges {
		ch <- d
	}
	ch <- p.auditDropped
}

// Collect implements prometheus.Collector. Nothing is emitted while metrics
// are disabled and no audit event was dropped.
func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if p == nil || p.source == nil {
		return
	}

	r := internaldefs.Read(p.source, p.now())
	if r.Empty() {
		return
	}

	for i, d := range p.counters {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(r.Counters[i]))
	}

	for i, d := range p.histograms {
		cumulative := r.Histograms[i]
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for b, le := range internaldefs.HistogramBoundValues {
			buckets[le] = cumulative[b]
		}
		// Sum is not tracked by the core counters.
		ch <- prometheus.MustNewConstHistogram(d, cumulative[len(cumulative)-1], 0, buckets)
	}

	for i, d := range p.gauges {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, internaldefs.GaugeDefs[i].Value(r))
	}

	ch <- prometheus.MustNewConstMetric(p.auditDropped, prometheus.CounterValue, float64(r.AuditDropped))
}

// Register adds the exporter to reg.
func (p *PrometheusExporter) Register(reg prometheus.Registerer) error {
	return reg.Register(p)
}

// Handler serves the exporter from a private registry, leaving the global
// default registry untouched.
func (p *PrometheusExporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(p)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
