package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	gqlAuth "github.com/MrEthical07/gqlAuth"
	"github.com/MrEthical07/gqlAuth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter = errors.New("nil meter")
	// ErrNilSource is returned when no metrics source is supplied.
	ErrNilSource = errors.New("nil metrics source")
)

// intReading pairs an observable with the part of a Reading it reports.
type intReading struct {
	instrument metric.Int64Observable
	value      func(internaldefs.Reading) int64
}

type floatReading struct {
	instrument metric.Float64Observable
	value      func(internaldefs.Reading) float64
}

// OTelExporter publishes gqlAuth counters, latency buckets and key set state
// as observable instruments. One callback takes a Reading per collection.
type OTelExporter struct {
	source       internaldefs.Source
	now          func() time.Time
	ints         []intReading
	floats       []floatReading
	registration metric.Registration
}

// NewOTelExporter registers instruments on meter that read from ext.
func NewOTelExporter(meter metric.Meter, ext *gqlAuth.Extension) (*OTelExporter, error) {
	if ext == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, ext)
}

// NewOTelExporterFromSource registers instruments reading from source.
func NewOTelExporterFromSource(meter metric.Meter, source internaldefs.Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source, now: time.Now}
	if err := e.instrument(meter); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, 0, len(e.ints)+len(e.floats))
	for _, r := range e.ints {
		observables = append(observables, r.instrument)
	}
	for _, r := range e.floats {
		observables = append(observables, r.instrument)
	}

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) instrument(meter metric.Meter) error {
	for i, def := range internaldefs.CounterDefs {
		i := i
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help), metric.WithUnit("{event}"))
		if err != nil {
			return fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.ints = append(e.ints, intReading{ins, func(r internaldefs.Reading) int64 { return int64(r.Counters[i]) }})
	}

	// OTel has no asynchronous histogram; cumulative buckets become gauges.
	for h, def := range internaldefs.HistogramDefs {
		h := h
		for b, suffix := range internaldefs.HistogramBoundSuffix {
			b := b
			name := def.Name + "_bucket_le_" + suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Cumulative bucket."))
			if err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
			e.ints = append(e.ints, intReading{ins, func(r internaldefs.Reading) int64 { return int64(r.Histograms[h][b]) }})
		}
		name := def.Name + "_count"
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return fmt.Errorf("histogram count %s: %w", name, err)
		}
		last := len(internaldefs.HistogramBoundSuffix) - 1
		e.ints = append(e.ints, intReading{ins, func(r internaldefs.Reading) int64 { return int64(r.Histograms[h][last]) }})
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp), metric.WithUnit("{event}"))
	if err != nil {
		return fmt.Errorf("counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.ints = append(e.ints, intReading{dropped, func(r internaldefs.Reading) int64 { return int64(r.AuditDropped) }})

	for _, def := range internaldefs.GaugeDefs {
		ins, err := meter.Float64ObservableGauge(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return fmt.Errorf("gauge %s: %w", def.Name, err)
		}
		e.floats = append(e.floats, floatReading{ins, def.Value})
	}
	return nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	r := internaldefs.Read(e.source, e.now())
	if r.Empty() {
		return nil
	}
	for _, ir := range e.ints {
		o.ObserveInt64(ir.instrument, ir.value(r))
	}
	for _, fr := range e.floats {
		o.ObserveFloat64(fr.instrument, fr.value(r))
	}
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
