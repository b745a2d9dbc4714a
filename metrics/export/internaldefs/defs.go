package internaldefs

import (
	gqlAuth "github.com/MrEthical07/gqlAuth"
)

// CounterDef binds a counter id to its exported name and help text.
type CounterDef struct {
	ID   gqlAuth.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram id to its exported name and help text.
type HistogramDef struct {
	ID   gqlAuth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: gqlAuth.MetricAuthorizeAllowed, Name: "gqlauth_authorize_allowed_total", Help: "Fields resolved with an allow decision."},
	{ID: gqlAuth.MetricAuthorizeAnonymous, Name: "gqlauth_authorize_anonymous_total", Help: "Optional fields resolved without a bearer token."},
	{ID: gqlAuth.MetricTokenMissing, Name: "gqlauth_token_missing_total", Help: "Protected fields requested without a bearer token."},
	{ID: gqlAuth.MetricTokenMalformed, Name: "gqlauth_token_malformed_total", Help: "Tokens that could not be decoded."},
	{ID: gqlAuth.MetricAlgorithmNotAllowed, Name: "gqlauth_algorithm_not_allowed_total", Help: "Tokens signed with an algorithm outside the allow-list."},
	{ID: gqlAuth.MetricUnsupportedAlgorithm, Name: "gqlauth_unsupported_algorithm_total", Help: "Tokens naming an unknown algorithm."},
	{ID: gqlAuth.MetricKeySetUnavailable, Name: "gqlauth_keyset_unavailable_total", Help: "Requests denied because no key set could be loaded."},
	{ID: gqlAuth.MetricUnknownKeyID, Name: "gqlauth_unknown_key_id_total", Help: "Tokens whose kid is absent from the key set."},
	{ID: gqlAuth.MetricKeyShapeMismatch, Name: "gqlauth_key_shape_mismatch_total", Help: "Tokens whose algorithm does not fit the selected key."},
	{ID: gqlAuth.MetricInvalidSignature, Name: "gqlauth_invalid_signature_total", Help: "Tokens failing signature verification."},
	{ID: gqlAuth.MetricTokenExpired, Name: "gqlauth_token_expired_total", Help: "Expired tokens."},
	{ID: gqlAuth.MetricTokenNotYetValid, Name: "gqlauth_token_not_yet_valid_total", Help: "Tokens used before nbf."},
	{ID: gqlAuth.MetricIssuerMismatch, Name: "gqlauth_issuer_mismatch_total", Help: "Tokens from an unexpected issuer."},
	{ID: gqlAuth.MetricAudienceMismatch, Name: "gqlauth_audience_mismatch_total", Help: "Tokens for an unexpected audience."},
	{ID: gqlAuth.MetricClaimRequirementNotMet, Name: "gqlauth_claim_requirement_not_met_total", Help: "Verified tokens lacking the claims a directive requires."},
	{ID: gqlAuth.MetricInvalidDirective, Name: "gqlauth_invalid_directive_total", Help: "Requests to fields carrying an unparseable directive."},
	{ID: gqlAuth.MetricInternalError, Name: "gqlauth_internal_error_total", Help: "Unclassified failures."},
	{ID: gqlAuth.MetricKeySetRefreshSuccess, Name: "gqlauth_keyset_refresh_success_total", Help: "Successful key set fetches."},
	{ID: gqlAuth.MetricKeySetRefreshFailure, Name: "gqlauth_keyset_refresh_failure_total", Help: "Failed key set fetches."},
	{ID: gqlAuth.MetricKeySetStaleServed, Name: "gqlauth_keyset_stale_served_total", Help: "Key lookups answered from an expired key set."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: gqlAuth.MetricAuthorizeLatency, Name: "gqlauth_authorize_latency_seconds", Help: "Field authorization latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the core histogram buckets.
var HistogramBounds = []string{
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.005",
	"0.025",
	"0.1",
	"+Inf",
}

// HistogramBoundValues mirrors HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.025, 0.1}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_0001",
	"0_00025",
	"0_0005",
	"0_001",
	"0_005",
	"0_025",
	"0_1",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
