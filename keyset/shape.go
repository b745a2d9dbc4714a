package keyset

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
)

// Shape identifies the kind of key material an algorithm needs.
type Shape uint8

const (
	// ShapeUnknown is reported for material no algorithm accepts.
	ShapeUnknown Shape = iota
	// ShapeRSA is an RSA public key.
	ShapeRSA
	// ShapeECP256 is an ECDSA public key on P-256.
	ShapeECP256
	// ShapeECP384 is an ECDSA public key on P-384.
	ShapeECP384
	// ShapeECP521 is an ECDSA public key on P-521.
	ShapeECP521
	// ShapeEd25519 is an Ed25519 public key.
	ShapeEd25519
	// ShapeSymmetric is a shared HMAC secret.
	ShapeSymmetric
)

func (s Shape) String() string {
	switch s {
	case ShapeRSA:
		return "RSA"
	case ShapeECP256:
		return "EC P-256"
	case ShapeECP384:
		return "EC P-384"
	case ShapeECP521:
		return "EC P-521"
	case ShapeEd25519:
		return "Ed25519"
	case ShapeSymmetric:
		return "symmetric"
	default:
		return "unknown"
	}
}

// ShapeOf classifies verification material.
func ShapeOf(material any) Shape {
	switch k := material.(type) {
	case *rsa.PublicKey:
		if k == nil || k.N == nil {
			return ShapeUnknown
		}
		return ShapeRSA
	case *ecdsa.PublicKey:
		if k == nil || k.Curve == nil {
			return ShapeUnknown
		}
		switch k.Curve.Params().Name {
		case "P-256":
			return ShapeECP256
		case "P-384":
			return ShapeECP384
		case "P-521":
			return ShapeECP521
		}
		return ShapeUnknown
	case ed25519.PublicKey:
		if len(k) != ed25519.PublicKeySize {
			return ShapeUnknown
		}
		return ShapeEd25519
	case []byte:
		if len(k) == 0 {
			return ShapeUnknown
		}
		return ShapeSymmetric
	default:
		return ShapeUnknown
	}
}
