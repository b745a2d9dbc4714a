package keyset

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// StaticKey is an operator-supplied key. Exactly one of JWK, PEM or Secret is set.
type StaticKey struct {
	KeyID     string
	Algorithm string
	JWK       string
	PEM       string
	Secret    []byte
}

// Entry converts the static key into verification material.
func (k StaticKey) Entry() (Entry, error) {
	set := 0
	if k.JWK != "" {
		set++
	}
	if k.PEM != "" {
		set++
	}
	if len(k.Secret) > 0 {
		set++
	}
	if set != 1 {
		return Entry{}, errors.New("static key needs exactly one of jwk, pem or secret")
	}

	switch {
	case k.JWK != "":
		key, err := jwk.ParseKey([]byte(k.JWK))
		if err != nil {
			return Entry{}, fmt.Errorf("parse static jwk: %w", err)
		}
		e, err := entryFromJWK(key)
		if err != nil {
			return Entry{}, err
		}
		if k.KeyID != "" {
			e.KeyID = k.KeyID
		}
		if k.Algorithm != "" {
			e.Algorithm = k.Algorithm
		}
		return e, nil
	case k.PEM != "":
		material, err := ParsePEM([]byte(k.PEM))
		if err != nil {
			return Entry{}, err
		}
		return Entry{KeyID: k.KeyID, Algorithm: k.Algorithm, Material: material}, nil
	default:
		secret := make([]byte, len(k.Secret))
		copy(secret, k.Secret)
		return Entry{KeyID: k.KeyID, Algorithm: k.Algorithm, Material: secret}, nil
	}
}

// ParseStatic converts all static keys, failing on the first bad one.
func ParseStatic(keys []StaticKey) ([]Entry, error) {
	if len(keys) == 0 {
		return nil, errors.New("no static keys configured")
	}
	out := make([]Entry, 0, len(keys))
	for i, k := range keys {
		e, err := k.Entry()
		if err != nil {
			return nil, fmt.Errorf("static key %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ParseJWKS decodes a JWKS document. Keys meant for encryption and keys of an
// unsupported type are skipped; a document with no usable key is an error.
func ParseJWKS(doc []byte) ([]Entry, error) {
	set, err := jwk.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}

	out := make([]Entry, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if key.KeyUsage() == "enc" {
			continue
		}
		e, err := entryFromJWK(key)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, errors.New("jwks holds no usable signing keys")
	}
	return out, nil
}

// ParsePEM reads an RSA, EC or Ed25519 public key or certificate.
func ParsePEM(data []byte) (any, error) {
	if k, err := jwtlib.ParseRSAPublicKeyFromPEM(data); err == nil {
		return k, nil
	}
	if k, err := jwtlib.ParseECPublicKeyFromPEM(data); err == nil {
		return k, nil
	}
	if k, err := jwtlib.ParseEdPublicKeyFromPEM(data); err == nil {
		if ed, ok := k.(ed25519.PublicKey); ok {
			return ed, nil
		}
	}
	return nil, errors.New("pem does not hold a supported public key")
}

func entryFromJWK(key jwk.Key) (Entry, error) {
	var raw any
	if err := key.Raw(&raw); err != nil {
		return Entry{}, fmt.Errorf("decode jwk: %w", err)
	}
	material := publicMaterial(raw)
	if ShapeOf(material) == ShapeUnknown {
		return Entry{}, errors.New("unsupported jwk key type")
	}

	alg := ""
	if a := key.Algorithm(); a != nil {
		alg = a.String()
	}
	return Entry{KeyID: key.KeyID(), Algorithm: alg, Material: material}, nil
}

func publicMaterial(raw any) any {
	switch k := raw.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	case ed25519.PrivateKey:
		pub, _ := k.Public().(ed25519.PublicKey)
		return pub
	case rsa.PublicKey:
		return &k
	case ecdsa.PublicKey:
		return &k
	default:
		return raw
	}
}
