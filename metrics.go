package gqlAuth

import (
	"sync/atomic"
	"time"
)

// MetricID names one in-process counter.
type MetricID uint16

const (
	// MetricAuthorizeAllowed counts fields resolved with an allow decision.
	MetricAuthorizeAllowed MetricID = iota
	// MetricAuthorizeAnonymous counts optional fields resolved without a token.
	MetricAuthorizeAnonymous
	MetricTokenMissing
	MetricTokenMalformed
	MetricAlgorithmNotAllowed
	MetricUnsupportedAlgorithm
	MetricKeySetUnavailable
	MetricUnknownKeyID
	MetricKeyShapeMismatch
	MetricInvalidSignature
	MetricTokenExpired
	MetricTokenNotYetValid
	MetricIssuerMismatch
	MetricAudienceMismatch
	MetricClaimRequirementNotMet
	MetricInvalidDirective
	MetricInternalError
	// MetricKeySetRefreshSuccess counts successful key set fetches.
	MetricKeySetRefreshSuccess
	// MetricKeySetRefreshFailure counts failed key set fetches.
	MetricKeySetRefreshFailure
	// MetricKeySetStaleServed counts keys handed out from an expired set.
	MetricKeySetStaleServed
	// MetricAuthorizeLatency is the only histogram-backed metric.
	MetricAuthorizeLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricAuthorizeAllowed:       "authorize_allowed",
	MetricAuthorizeAnonymous:     "authorize_anonymous",
	MetricTokenMissing:           "token_missing",
	MetricTokenMalformed:         "token_malformed",
	MetricAlgorithmNotAllowed:    "algorithm_not_allowed",
	MetricUnsupportedAlgorithm:   "unsupported_algorithm",
	MetricKeySetUnavailable:      "keyset_unavailable",
	MetricUnknownKeyID:           "unknown_key_id",
	MetricKeyShapeMismatch:       "key_shape_mismatch",
	MetricInvalidSignature:       "invalid_signature",
	MetricTokenExpired:           "token_expired",
	MetricTokenNotYetValid:       "token_not_yet_valid",
	MetricIssuerMismatch:         "issuer_mismatch",
	MetricAudienceMismatch:       "audience_mismatch",
	MetricClaimRequirementNotMet: "claim_requirement_not_met",
	MetricInvalidDirective:       "invalid_directive",
	MetricInternalError:          "internal_error",
	MetricKeySetRefreshSuccess:   "keyset_refresh_success",
	MetricKeySetRefreshFailure:   "keyset_refresh_failure",
	MetricKeySetStaleServed:      "keyset_stale_served",
	MetricAuthorizeLatency:       "authorize_latency",
}

// String returns the snake_case metric name used by exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs returns every defined metric id in order.
func MetricIDs() []MetricID {
	out := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}

var denyMetric = map[ErrorKind]MetricID{
	KindMissingToken:           MetricTokenMissing,
	KindMalformedToken:         MetricTokenMalformed,
	KindAlgorithmNotAllowed:    MetricAlgorithmNotAllowed,
	KindUnsupportedAlgorithm:   MetricUnsupportedAlgorithm,
	KindKeySetUnavailable:      MetricKeySetUnavailable,
	KindUnknownKeyID:           MetricUnknownKeyID,
	KindKeyShapeMismatch:       MetricKeyShapeMismatch,
	KindInvalidSignature:       MetricInvalidSignature,
	KindTokenExpired:           MetricTokenExpired,
	KindTokenNotYetValid:       MetricTokenNotYetValid,
	KindIssuerMismatch:         MetricIssuerMismatch,
	KindAudienceMismatch:       MetricAudienceMismatch,
	KindClaimRequirementNotMet: MetricClaimRequirementNotMet,
	KindInvalidDirective:       MetricInvalidDirective,
}

func metricForKind(kind ErrorKind) MetricID {
	if id, ok := denyMetric[kind]; ok {
		return id
	}
	return MetricInternalError
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. A nil or disabled Metrics ignores writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the authorize latency histogram. Other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAuthorizeLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricAuthorizeLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthorizeLatency].buckets[i])
		}
		s.Histograms[MetricAuthorizeLatency] = buckets
	}

	return s
}

// Verification sits well under a millisecond on a warm key set; a cold
// fetch lands in the upper buckets.
func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 100:
		return 0
	case us <= 250:
		return 1
	case us <= 500:
		return 2
	case us <= 1000:
		return 3
	case us <= 5000:
		return 4
	case us <= 25000:
		return 5
	case us <= 100000:
		return 6
	default:
		return 7
	}
}

// keysetObserver feeds resolver refresh outcomes into the counters.
type keysetObserver struct {
	metrics *Metrics
}

func (o keysetObserver) RefreshSucceeded(int, time.Duration) {
	o.metrics.Inc(MetricKeySetRefreshSuccess)
}

func (o keysetObserver) RefreshFailed(error) {
	o.metrics.Inc(MetricKeySetRefreshFailure)
}

func (o keysetObserver) StaleServed() {
	o.metrics.Inc(MetricKeySetStaleServed)
}
