package jwt

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestClaimsLookupDottedPath(t *testing.T) {
	payload := `{"realm_access":{"roles":["admin"]},"a.b":"flat","n":12.5}`
	claims, err := decodeClaims([]byte(payload))
	if err != nil {
		t.Fatalf("decodeClaims: %v", err)
	}

	v, ok := claims.Lookup("realm_access.roles")
	if !ok {
		t.Fatal("nested path not found")
	}
	if roles, _ := v.([]any); len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("unexpected roles %#v", v)
	}
	if v, ok := claims.Lookup("a.b"); !ok || v != "flat" {
		t.Fatalf("literal dotted key should win, got %v %v", v, ok)
	}
	if _, ok := claims.Lookup("realm_access.missing"); ok {
		t.Fatal("missing leaf reported present")
	}
	if _, ok := claims.Lookup("n.x"); ok {
		t.Fatal("descending into a scalar must fail")
	}
}

func TestClaimsAudienceForms(t *testing.T) {
	single := Claims{"aud": "api"}
	if got := single.Audience(); len(got) != 1 || got[0] != "api" {
		t.Fatalf("single audience: %v", got)
	}
	multi := Claims{"aud": []any{"a", 7, "b"}}
	if got := multi.Audience(); len(got) != 2 || got[1] != "b" {
		t.Fatalf("array audience: %v", got)
	}
	if got := (Claims{}).Audience(); got != nil {
		t.Fatalf("absent audience: %v", got)
	}
}

func TestClaimsNumericDateFractional(t *testing.T) {
	claims, err := decodeClaims([]byte(`{"exp":1700000000.5}`))
	if err != nil {
		t.Fatal(err)
	}
	exp, ok, err := claims.ExpiresAt()
	if err != nil || !ok {
		t.Fatalf("ExpiresAt: ok=%v err=%v", ok, err)
	}
	if want := time.Unix(1700000000, 500_000_000); !exp.Equal(want) {
		t.Fatalf("got %v want %v", exp, want)
	}
	if _, ok, _ := claims.NotBefore(); ok {
		t.Fatal("nbf should be absent")
	}
}

func TestParseKeepsSigningInputVerbatim(t *testing.T) {
	// Header with unusual spacing must not be re-encoded.
	header := base64.RawURLEncoding.EncodeToString([]byte(`{ "alg" : "RS256" ,"kid":"k"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"x"}`))
	raw := header + "." + payload + ".c2ln"

	tok, err := Parse(raw, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tok.SigningInput() != header+"."+payload {
		t.Fatalf("signing input changed: %q", tok.SigningInput())
	}
	if tok.Header.KeyID != "k" || string(tok.signature) != "sig" {
		t.Fatalf("unexpected parse result %+v", tok.Header)
	}
}
