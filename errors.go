package gqlAuth

import (
	"errors"

	"github.com/MrEthical07/gqlAuth/jwt"
	"github.com/MrEthical07/gqlAuth/keyset"
	"github.com/MrEthical07/gqlAuth/policy"
)

var (
	// ErrInvalidConfiguration is returned by Build and NewConfig for any bad setting.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrTokenMissing is returned when a protected field is requested without a bearer token.
	ErrTokenMissing = errors.New("bearer token missing")
	// ErrExtensionClosed is returned by calls made after Close.
	ErrExtensionClosed = errors.New("extension closed")

	// ErrMalformedToken is re-exported from the jwt package.
	ErrMalformedToken = jwt.ErrMalformedToken
	// ErrAlgorithmNotAllowed is re-exported from the jwt package.
	ErrAlgorithmNotAllowed = jwt.ErrAlgorithmNotAllowed
	// ErrUnsupportedAlgorithm is re-exported from the jwt package.
	ErrUnsupportedAlgorithm = jwt.ErrUnsupportedAlgorithm
	// ErrInvalidSignature is re-exported from the jwt package.
	ErrInvalidSignature = jwt.ErrInvalidSignature
	// ErrTokenExpired is re-exported from the jwt package.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrTokenNotYetValid is re-exported from the jwt package.
	ErrTokenNotYetValid = jwt.ErrTokenNotYetValid
	// ErrIssuerMismatch is re-exported from the jwt package.
	ErrIssuerMismatch = jwt.ErrIssuerMismatch
	// ErrAudienceMismatch is re-exported from the jwt package.
	ErrAudienceMismatch = jwt.ErrAudienceMismatch

	// ErrKeySetUnavailable is re-exported from the keyset package.
	ErrKeySetUnavailable = keyset.ErrKeySetUnavailable
	// ErrUnknownKeyID is re-exported from the keyset package.
	ErrUnknownKeyID = keyset.ErrUnknownKeyID
	// ErrKeyShapeMismatch is re-exported from the keyset package.
	ErrKeyShapeMismatch = keyset.ErrKeyShapeMismatch

	// ErrClaimRequirementNotMet is re-exported from the policy package.
	ErrClaimRequirementNotMet = policy.ErrClaimRequirementNotMet
	// ErrInvalidDirective is re-exported from the policy package.
	ErrInvalidDirective = policy.ErrInvalidDirective
)

// ErrorKind is the stable name of a failure class. It is safe to show to
// clients and to use as a metric or log label.
type ErrorKind string

const (
	KindNone                   ErrorKind = ""
	KindInvalidConfiguration   ErrorKind = "InvalidConfiguration"
	KindInvalidDirective       ErrorKind = "InvalidDirective"
	KindMissingToken           ErrorKind = "MissingToken"
	KindMalformedToken         ErrorKind = "MalformedToken"
	KindAlgorithmNotAllowed    ErrorKind = "AlgorithmNotAllowed"
	KindUnsupportedAlgorithm   ErrorKind = "UnsupportedAlgorithm"
	KindKeySetUnavailable      ErrorKind = "KeySetUnavailable"
	KindUnknownKeyID           ErrorKind = "UnknownKeyId"
	KindKeyShapeMismatch       ErrorKind = "KeyShapeMismatch"
	KindInvalidSignature       ErrorKind = "InvalidSignature"
	KindTokenExpired           ErrorKind = "TokenExpired"
	KindTokenNotYetValid       ErrorKind = "TokenNotYetValid"
	KindIssuerMismatch         ErrorKind = "IssuerMismatch"
	KindAudienceMismatch       ErrorKind = "AudienceMismatch"
	KindClaimRequirementNotMet ErrorKind = "ClaimRequirementNotMet"
	KindInternal               ErrorKind = "Internal"
)

// First match wins.
var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidConfiguration, KindInvalidConfiguration},
	{ErrInvalidDirective, KindInvalidDirective},
	{ErrTokenMissing, KindMissingToken},
	{ErrAlgorithmNotAllowed, KindAlgorithmNotAllowed},
	{ErrUnsupportedAlgorithm, KindUnsupportedAlgorithm},
	{ErrMalformedToken, KindMalformedToken},
	{ErrUnknownKeyID, KindUnknownKeyID},
	{ErrKeySetUnavailable, KindKeySetUnavailable},
	{ErrKeyShapeMismatch, KindKeyShapeMismatch},
	{ErrInvalidSignature, KindInvalidSignature},
	{ErrTokenExpired, KindTokenExpired},
	{ErrTokenNotYetValid, KindTokenNotYetValid},
	{ErrIssuerMismatch, KindIssuerMismatch},
	{ErrAudienceMismatch, KindAudienceMismatch},
	{ErrClaimRequirementNotMet, KindClaimRequirementNotMet},
}

// KindOf classifies err. nil maps to KindNone and anything unrecognised to
// KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// Authentication reports whether the kind is a failure to establish identity,
// as opposed to an authorization failure on a verified identity.
func (k ErrorKind) Authentication() bool {
	switch k {
	case KindNone, KindClaimRequirementNotMet, KindInvalidDirective, KindInvalidConfiguration, KindInternal:
		return false
	}
	return true
}
