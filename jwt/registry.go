package jwt

import (
	"errors"
	"sort"

	"github.com/MrEthical07/gqlAuth/keyset"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnsupportedAlgorithm is returned for algorithm names outside the registry.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// Algorithm is one registered verification strategy.
type Algorithm struct {
	name   string
	method jwt.SigningMethod
	shape  func(keyset.Shape) bool
}

// Name returns the JOSE "alg" identifier.
func (a Algorithm) Name() string { return a.name }

// Accepts reports whether key material of shape s can verify this algorithm.
func (a Algorithm) Accepts(s keyset.Shape) bool { return a.shape(s) }

// Symmetric reports whether the algorithm uses a shared secret.
func (a Algorithm) Symmetric() bool { return a.shape(keyset.ShapeSymmetric) }

// Verify checks signature over message with key. It never panics on a key of
// the wrong type; such keys simply fail.
func (a Algorithm) Verify(message string, signature []byte, key any) bool {
	if !a.shape(keyset.ShapeOf(key)) {
		return false
	}
	return a.method.Verify(message, signature, key) == nil
}

func shapeIs(want keyset.Shape) func(keyset.Shape) bool {
	return func(s keyset.Shape) bool { return s == want }
}

// registry is fixed at build time. "none" is deliberately absent.
var registry = map[string]Algorithm{
	"RS256": {name: "RS256", method: jwt.SigningMethodRS256, shape: shapeIs(keyset.ShapeRSA)},
	"RS384": {name: "RS384", method: jwt.SigningMethodRS384, shape: shapeIs(keyset.ShapeRSA)},
	"RS512": {name: "RS512", method: jwt.SigningMethodRS512, shape: shapeIs(keyset.ShapeRSA)},
	"PS256": {name: "PS256", method: jwt.SigningMethodPS256, shape: shapeIs(keyset.ShapeRSA)},
	"PS384": {name: "PS384", method: jwt.SigningMethodPS384, shape: shapeIs(keyset.ShapeRSA)},
	"PS512": {name: "PS512", method: jwt.SigningMethodPS512, shape: shapeIs(keyset.ShapeRSA)},
	"ES256": {name: "ES256", method: jwt.SigningMethodES256, shape: shapeIs(keyset.ShapeECP256)},
	"ES384": {name: "ES384", method: jwt.SigningMethodES384, shape: shapeIs(keyset.ShapeECP384)},
	"ES512": {name: "ES512", method: jwt.SigningMethodES512, shape: shapeIs(keyset.ShapeECP521)},
	"EdDSA": {name: "EdDSA", method: jwt.SigningMethodEdDSA, shape: shapeIs(keyset.ShapeEd25519)},
	"HS256": {name: "HS256", method: jwt.SigningMethodHS256, shape: shapeIs(keyset.ShapeSymmetric)},
	"HS384": {name: "HS384", method: jwt.SigningMethodHS384, shape: shapeIs(keyset.ShapeSymmetric)},
	"HS512": {name: "HS512", method: jwt.SigningMethodHS512, shape: shapeIs(keyset.ShapeSymmetric)},
}

// Lookup returns the strategy registered for name.
func Lookup(name string) (Algorithm, error) {
	alg, ok := registry[name]
	if !ok {
		return Algorithm{}, ErrUnsupportedAlgorithm
	}
	return alg, nil
}

// Supported lists every registered algorithm name, sorted.
func Supported() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultAllowed lists the asymmetric algorithms, sorted.
func DefaultAllowed() []string {
	out := make([]string, 0, len(registry))
	for name, alg := range registry {
		if !alg.Symmetric() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
