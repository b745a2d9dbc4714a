package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testIssuer = "https://issuer.test"
)

func writeSettings(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func jsonSettings(t *testing.T) string {
	return writeSettings(t, "gqlauth.json", `{
  "issuer": "`+testIssuer+`",
  "audience": "api",
  "static_keys": [{"kid": "k1", "alg": "HS256", "secret": "`+testSecret+`"}],
  "allowed_algorithms": ["HS256"]
}`)
}

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func validClaims(role string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   "api",
		"sub":   "user-1",
		"roles": []string{role},
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func TestVerifyPrintsClaims(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", jsonSettings(t), sign(t, validClaims("admin"))}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"sub": "user-1"`) {
		t.Fatalf("expected claims in output, got %s", stdout.String())
	}
	if !strings.Contains(stdout.String(), `"kid": "k1"`) {
		t.Fatalf("expected header in output, got %s", stdout.String())
	}
}

func TestVerifyReadsTokenFromStdin(t *testing.T) {
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader(sign(t, validClaims("admin")) + "\n")
	if code := run([]string{"-config", jsonSettings(t), "-"}, stdin, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", code, stderr.String())
	}
}

func TestVerifyDirectiveDenied(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := []string{"-config", jsonSettings(t), "-directive", `{"roles":["admin"]}`, sign(t, validClaims("user"))}
	if code := run(args, nil, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d (stderr: %s)", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "ClaimRequirementNotMet") || !strings.Contains(out, "UNAUTHORIZED") {
		t.Fatalf("expected claim failure, got %s", out)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	claims := validClaims("admin")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", jsonSettings(t), sign(t, claims)}, nil, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stdout.String(), "TokenExpired") {
		t.Fatalf("expected TokenExpired, got %s", stdout.String())
	}
}

func TestVerifyUsageErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"no config", []string{"token"}},
		{"missing file", []string{"-config", filepath.Join(t.TempDir(), "absent.toml"), "token"}},
		{"bad extension", []string{"-config", writeSettings(t, "gqlauth.yaml", "issuer: x"), "token"}},
		{"no token", []string{"-config", jsonSettings(t)}},
		{"bad directive", []string{"-config", jsonSettings(t), "-directive", `{"bogus":true}`, "token"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, nil, &stdout, &stderr); code != 2 {
				t.Fatalf("expected exit 2, got %d", code)
			}
		})
	}
}

func TestPrintConfigFromTOML(t *testing.T) {
	path := writeSettings(t, "gqlauth.toml", `
issuer = "`+testIssuer+`"
audience = ["api", "admin"]
allowed_algorithms = ["HS256"]
clock_tolerance = "10s"

[[static_keys]]
kid = "k1"
secret = "`+testSecret+`"
`)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", path, "-print-config"}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{testIssuer, "10s", "k1", "redacted"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, testSecret) {
		t.Fatalf("secret leaked into output:\n%s", out)
	}
}
