package internaldefs

import (
	"time"

	gqlAuth "github.com/MrEthical07/gqlAuth"
	"github.com/MrEthical07/gqlAuth/keyset"
)

// Source is what every exporter reads from. *gqlAuth.Extension implements it.
type Source interface {
	MetricsSnapshot() gqlAuth.MetricsSnapshot
	AuditDropped() uint64
	KeySet() *keyset.KeySet
}

// AuditDroppedName and AuditDroppedHelp describe the dispatcher drop counter.
const (
	AuditDroppedName = "gqlauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// KeySetState describes the published key set at scrape time.
type KeySetState struct {
	Loaded bool
	Keys   int
	// FreshFor is the time left before the set expires; negative once stale.
	FreshFor time.Duration
}

// Reading is one scrape of a Source. Counters and Histograms follow the
// order of CounterDefs and HistogramDefs.
type Reading struct {
	Counters     []uint64
	Histograms   [][8]uint64
	AuditDropped uint64
	KeySet       KeySetState
	enabled      bool
}

// Read takes a Reading from src at now.
func Read(src Source, now time.Time) Reading {
	snap := src.MetricsSnapshot()
	r := Reading{
		Counters:     make([]uint64, len(CounterDefs)),
		Histograms:   make([][8]uint64, len(HistogramDefs)),
		AuditDropped: src.AuditDropped(),
		enabled:      len(snap.Counters) > 0 || len(snap.Histograms) > 0,
	}
	for i, def := range CounterDefs {
		r.Counters[i] = snap.Counters[def.ID]
	}
	for i, def := range HistogramDefs {
		r.Histograms[i] = CumulativeBuckets(NormalizeBuckets(snap.Histograms[def.ID]))
	}
	if set := src.KeySet(); set != nil {
		r.KeySet = KeySetState{
			Loaded:   true,
			Keys:     set.Len(),
			FreshFor: set.Deadline().Sub(now),
		}
	}
	return r
}

// Empty reports whether there is nothing to export: metrics are disabled and
// no audit event was dropped.
func (r Reading) Empty() bool {
	return !r.enabled && r.AuditDropped == 0
}

// GaugeDef describes a point-in-time value derived from a Reading.
type GaugeDef struct {
	Name  string
	Help  string
	Value func(Reading) float64
}

// GaugeDefs lists the key set gauges.
var GaugeDefs = []GaugeDef{
	{
		Name:  "gqlauth_keyset_loaded",
		Help:  "1 once a key set has been published.",
		Value: func(r Reading) float64 { return boolValue(r.KeySet.Loaded) },
	},
	{
		Name:  "gqlauth_keyset_keys",
		Help:  "Keys in the published key set.",
		Value: func(r Reading) float64 { return float64(r.KeySet.Keys) },
	},
	{
		Name:  "gqlauth_keyset_fresh_seconds",
		Help:  "Seconds until the published key set expires; negative once stale.",
		Value: func(r Reading) float64 { return r.KeySet.FreshFor.Seconds() },
	},
	{
		Name:  "gqlauth_keyset_stale",
		Help:  "1 while the published key set is past its deadline.",
		Value: func(r Reading) float64 { return boolValue(r.KeySet.Loaded && r.KeySet.FreshFor <= 0) },
	},
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
