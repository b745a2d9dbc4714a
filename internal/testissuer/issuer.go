// Package testissuer provides a throwaway token issuer for tests and the load
// tool: it holds one key per algorithm family, signs tokens with them and serves
// the public halves as a JWKS document over httptest.
//
//	iss, _ := testissuer.New()
//	defer iss.Close()
//	url := iss.JWKSURL()
//	tok, _ := iss.Sign("RS256", map[string]any{"sub": "u1"})
package testissuer

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/gqlAuth/keyset"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Key ids used for each family.
const (
	KeyRSA   = "rsa-1"
	KeyP256  = "ec256-1"
	KeyP384  = "ec384-1"
	KeyP521  = "ec521-1"
	KeyEd    = "ed-1"
	KeyHMAC  = "hmac-1"
	jwksPath = "/.well-known/jwks.json"
)

// Issuer signs tokens and serves its public keys.
type Issuer struct {
	rsa    *rsa.PrivateKey
	p256   *ecdsa.PrivateKey
	p384   *ecdsa.PrivateKey
	p521   *ecdsa.PrivateKey
	ed     ed25519.PrivateKey
	secret []byte

	server  *httptest.Server
	hits    atomic.Int64
	failing atomic.Bool

	mu   sync.RWMutex
	doc  []byte
	gate chan struct{}
}

// New generates fresh keys and starts the JWKS server.
func New() (*Issuer, error) {
	iss := &Issuer{}
	var err error
	if iss.rsa, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
		return nil, err
	}
	if iss.p256, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		return nil, err
	}
	if iss.p384, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader); err != nil {
		return nil, err
	}
	if iss.p521, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader); err != nil {
		return nil, err
	}
	if _, iss.ed, err = ed25519.GenerateKey(rand.Reader); err != nil {
		return nil, err
	}
	iss.secret = make([]byte, 64)
	if _, err = rand.Read(iss.secret); err != nil {
		return nil, err
	}

	iss.doc, err = iss.buildJWKS()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(jwksPath, iss.handleJWKS)
	iss.server = httptest.NewServer(mux)
	return iss, nil
}

// Close stops the JWKS server.
func (i *Issuer) Close() {
	if i.server != nil {
		i.server.Close()
	}
}

// JWKSURL returns the endpoint serving the public keys.
func (i *Issuer) JWKSURL() string { return i.server.URL + jwksPath }

// URL returns the server base URL, convenient as an issuer value.
func (i *Issuer) URL() string { return i.server.URL }

// Hits returns how many JWKS requests were served.
func (i *Issuer) Hits() int64 { return i.hits.Load() }

// SetFailing makes the endpoint answer 503 while on.
func (i *Issuer) SetFailing(on bool) { i.failing.Store(on) }

// Hold blocks JWKS responses until the returned release func is called.
func (i *Issuer) Hold() (release func()) {
	gate := make(chan struct{})
	i.mu.Lock()
	i.gate = gate
	i.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			i.gate = nil
			i.mu.Unlock()
			close(gate)
		})
	}
}

// KeyID returns the kid used when signing with alg.
func (i *Issuer) KeyID(alg string) string {
	switch alg {
	case "ES256":
		return KeyP256
	case "ES384":
		return KeyP384
	case "ES512":
		return KeyP521
	case "EdDSA":
		return KeyEd
	case "HS256", "HS384", "HS512":
		return KeyHMAC
	default:
		return KeyRSA
	}
}

// Sign mints a token with the default kid for alg.
func (i *Issuer) Sign(alg string, claims map[string]any) (string, error) {
	return i.SignWithKeyID(alg, i.KeyID(alg), claims)
}

// SignWithKeyID mints a token; an empty kid omits the header field.
func (i *Issuer) SignWithKeyID(alg, kid string, claims map[string]any) (string, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", fmt.Errorf("testissuer: unknown alg %q", alg)
	}
	tok := jwt.NewWithClaims(method, jwt.MapClaims(claims))
	if kid != "" {
		tok.Header["kid"] = kid
	}
	return tok.SignedString(i.signingKey(alg))
}

// Secret returns the HMAC secret.
func (i *Issuer) Secret() []byte {
	out := make([]byte, len(i.secret))
	copy(out, i.secret)
	return out
}

// StaticKeys returns the HMAC secret as a static key configuration.
func (i *Issuer) StaticKeys() []keyset.StaticKey {
	return []keyset.StaticKey{{KeyID: KeyHMAC, Secret: i.Secret()}}
}

// Document returns the served JWKS document.
func (i *Issuer) Document() []byte {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]byte, len(i.doc))
	copy(out, i.doc)
	return out
}

func (i *Issuer) signingKey(alg string) any {
	switch alg {
	case "ES256":
		return i.p256
	case "ES384":
		return i.p384
	case "ES512":
		return i.p521
	case "EdDSA":
		return i.ed
	case "HS256", "HS384", "HS512":
		return i.secret
	default:
		return i.rsa
	}
}

func (i *Issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	i.hits.Add(1)

	i.mu.RLock()
	gate := i.gate
	doc := i.doc
	i.mu.RUnlock()
	if gate != nil {
		<-gate
	}
	if i.failing.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

func (i *Issuer) buildJWKS() ([]byte, error) {
	set := jwk.NewSet()
	pairs := []struct {
		kid string
		pub any
	}{
		{KeyRSA, &i.rsa.PublicKey},
		{KeyP256, &i.p256.PublicKey},
		{KeyP384, &i.p384.PublicKey},
		{KeyP521, &i.p521.PublicKey},
		{KeyEd, i.ed.Public()},
	}
	for _, p := range pairs {
		k, err := jwk.FromRaw(p.pub)
		if err != nil {
			return nil, err
		}
		if err := k.Set(jwk.KeyIDKey, p.kid); err != nil {
			return nil, err
		}
		if err := set.AddKey(k); err != nil {
			return nil, err
		}
	}
	return json.Marshal(set)
}
