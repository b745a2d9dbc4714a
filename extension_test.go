package gqlAuth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/gqlAuth/internal/testissuer"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testEpoch = time.Unix(1_700_000_000, 0)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	ext   *Extension
	iss   *testissuer.Issuer
	clock *testClock
}

func newHarness(t testing.TB, mutate func(*Config, *Builder)) *harness {
	t.Helper()

	iss, err := testissuer.New()
	if err != nil {
		t.Fatalf("testissuer: %v", err)
	}
	t.Cleanup(iss.Close)

	clock := &testClock{now: testEpoch}
	cfg := DefaultConfig()
	cfg.Issuer = iss.URL()
	cfg.Audience = []string{"api"}
	cfg.JWKS.URL = iss.JWKSURL()

	b := New().WithClock(clock.Now)
	if mutate != nil {
		mutate(&cfg, b)
	}
	ext, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(ext.Close)

	return &harness{ext: ext, iss: iss, clock: clock}
}

func (h *harness) claims(extra map[string]any) map[string]any {
	now := h.clock.Now()
	c := map[string]any{
		"iss": h.iss.URL(),
		"aud": "api",
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		if v == nil {
			delete(c, k)
			continue
		}
		c[k] = v
	}
	return c
}

func (h *harness) token(t testing.TB, alg string, extra map[string]any) string {
	t.Helper()
	tok, err := h.iss.Sign(alg, h.claims(extra))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func adminField() FieldDefinition {
	return FieldDefinition{
		TypeName:  "Query",
		FieldName: "adminStats",
		Directive: &Directive{
			Name: "auth",
			Args: map[string]any{
				"claims": []any{map[string]any{"path": "role", "equals": "admin"}},
			},
		},
	}
}

func TestRoleAdminDirectiveEndToEnd(t *testing.T) {
	h := newHarness(t, func(_ *Config, b *Builder) { b.WithMetricsEnabled(true) })

	userCtx := WithBearerToken(context.Background(), h.token(t, "RS256", map[string]any{"role": "user"}))
	res := h.ext.ResolveField(userCtx, adminField())
	if res.Allowed {
		t.Fatal("role=user must be denied")
	}
	if res.Kind() != KindClaimRequirementNotMet || res.Error.Code != CodeUnauthorized {
		t.Fatalf("unexpected error %+v", res.Error)
	}
	if !errors.Is(res.Error, ErrClaimRequirementNotMet) {
		t.Fatal("FieldError must unwrap to ErrClaimRequirementNotMet")
	}

	adminCtx := WithBearerToken(context.Background(), h.token(t, "RS256", map[string]any{"role": "admin"}))
	res = h.ext.ResolveField(adminCtx, adminField())
	if !res.Allowed {
		t.Fatalf("role=admin must be allowed, got %+v", res.Error)
	}
	if res.Token == nil || res.Token.Claims.Subject() != "user-1" {
		t.Fatal("allowed result must carry the verified token")
	}

	snap := h.ext.MetricsSnapshot()
	if snap.Counters[MetricAuthorizeAllowed] != 1 || snap.Counters[MetricClaimRequirementNotMet] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	if snap.Counters[MetricKeySetRefreshSuccess] != 1 {
		t.Fatalf("expected one key set refresh, got %d", snap.Counters[MetricKeySetRefreshSuccess])
	}
}

func TestMissingTokenDeniesUnlessOptional(t *testing.T) {
	h := newHarness(t, nil)

	res := h.ext.ResolveField(context.Background(), adminField())
	if res.Allowed || res.Kind() != KindMissingToken || res.Error.Code != CodeUnauthenticated {
		t.Fatalf("expected MissingToken, got %+v", res)
	}

	optional, err := h.ext.Prepare(Directive{Name: "auth", Args: map[string]any{"optional": true}})
	if err != nil {
		t.Fatal(err)
	}
	res = h.ext.Authorize(context.Background(), optional)
	if !res.Allowed || res.Token != nil {
		t.Fatalf("optional field without token should be allowed anonymously, got %+v", res)
	}

	// a token that is present is still verified
	bad := WithBearerToken(context.Background(), "not.a.token")
	if res := h.ext.Authorize(bad, optional); res.Allowed || res.Kind() != KindMalformedToken {
		t.Fatalf("expected MalformedToken for optional field with garbage token, got %+v", res)
	}
}

func TestUnprotectedFieldAllowed(t *testing.T) {
	h := newHarness(t, nil)
	res := h.ext.ResolveField(context.Background(), FieldDefinition{TypeName: "Query", FieldName: "health"})
	if !res.Allowed {
		t.Fatal("field without directive must be allowed")
	}
	if h.iss.Hits() != 0 {
		t.Fatal("unprotected field must not fetch keys")
	}
}

func TestTokenFromHeaders(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.token(t, "ES256", nil)
	req, err := h.ext.Prepare(Directive{Name: "auth"})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		header string
		want   ErrorKind
	}{
		{"Bearer " + tok, KindNone},
		{"bearer " + tok, KindNone},
		{"Basic dXNlcjpwYXNz", KindMissingToken},
		{"", KindMissingToken},
		{"Bearer ", KindMissingToken},
	}
	for _, tc := range cases {
		hdr := http.Header{}
		if tc.header != "" {
			hdr.Set("Authorization", tc.header)
		}
		res := h.ext.Authorize(WithHeaders(context.Background(), hdr), req)
		if res.Kind() != tc.want {
			t.Errorf("header %q: got kind %q want %q", tc.header, res.Kind(), tc.want)
		}
	}
}

func TestCustomHeaderWithoutPrefix(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Builder) {
		c.Header = HeaderConfig{Name: "X-Access-Token", Prefix: ""}
	})
	hdr := http.Header{}
	hdr.Set("X-Access-Token", h.token(t, "EdDSA", nil))

	tok, err := h.ext.Authenticate(WithHeaders(context.Background(), hdr))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if tok.Header.Algorithm != "EdDSA" {
		t.Fatalf("alg %q", tok.Header.Algorithm)
	}
}

func TestAllowListAndDirectiveNarrowing(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Builder) {
		c.AllowedAlgorithms = []string{"RS256", "ES256"}
	})

	anyAuth, _ := h.ext.Prepare(Directive{Name: "auth"})
	esOnly, err := h.ext.Prepare(Directive{Name: "auth", Args: map[string]any{"algorithms": []any{"ES256"}}})
	if err != nil {
		t.Fatal(err)
	}
	widen, err := h.ext.Prepare(Directive{Name: "auth", Args: map[string]any{"algorithms": []any{"PS256"}}})
	if err != nil {
		t.Fatal(err)
	}

	ps := WithBearerToken(context.Background(), h.token(t, "PS256", nil))
	rs := WithBearerToken(context.Background(), h.token(t, "RS256", nil))
	es := WithBearerToken(context.Background(), h.token(t, "ES256", nil))

	if res := h.ext.Authorize(ps, anyAuth); res.Kind() != KindAlgorithmNotAllowed {
		t.Fatalf("PS256 outside allow-list: got %q", res.Kind())
	}
	if res := h.ext.Authorize(rs, esOnly); res.Kind() != KindAlgorithmNotAllowed {
		t.Fatalf("RS256 on ES256-only field: got %q", res.Kind())
	}
	if res := h.ext.Authorize(es, esOnly); !res.Allowed {
		t.Fatalf("ES256 on ES256-only field: got %q", res.Kind())
	}
	if res := h.ext.Authorize(ps, widen); res.Kind() != KindAlgorithmNotAllowed {
		t.Fatalf("directive must not widen the allow-list: got %q", res.Kind())
	}
}

func TestTemporalAndIssuerFailures(t *testing.T) {
	h := newHarness(t, nil)
	req, _ := h.ext.Prepare(Directive{Name: "auth"})
	now := h.clock.Now()

	cases := []struct {
		name  string
		extra map[string]any
		want  ErrorKind
	}{
		{"expired beyond tolerance", map[string]any{"exp": now.Add(-6 * time.Second).Unix()}, KindTokenExpired},
		{"expired within tolerance", map[string]any{"exp": now.Add(-4 * time.Second).Unix()}, KindNone},
		{"not yet valid", map[string]any{"nbf": now.Add(time.Minute).Unix()}, KindTokenNotYetValid},
		{"wrong issuer", map[string]any{"iss": "https://evil.test"}, KindIssuerMismatch},
		{"wrong audience", map[string]any{"aud": []string{"other"}}, KindAudienceMismatch},
		{"audience list intersects", map[string]any{"aud": []string{"other", "api"}}, KindNone},
	}
	for _, tc := range cases {
		ctx := WithBearerToken(context.Background(), h.token(t, "RS256", tc.extra))
		if got := h.ext.Authorize(ctx, req).Kind(); got != tc.want {
			t.Errorf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestDirectiveIssuerOverride(t *testing.T) {
	h := newHarness(t, nil)
	req, err := h.ext.Prepare(Directive{Name: "auth", Args: map[string]any{
		"issuer":   "https://partner.test",
		"audience": "partner-api",
	}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := WithBearerToken(context.Background(), h.token(t, "RS256", map[string]any{
		"iss": "https://partner.test",
		"aud": "partner-api",
	}))
	if res := h.ext.Authorize(ctx, req); !res.Allowed {
		t.Fatalf("override should accept partner token, got %q", res.Kind())
	}

	def, _ := h.ext.Prepare(Directive{Name: "auth"})
	if res := h.ext.Authorize(ctx, def); res.Kind() != KindIssuerMismatch {
		t.Fatalf("default field should reject partner token, got %q", res.Kind())
	}
}

func TestInvalidDirectiveReportedPerRequest(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := newHarness(t, func(_ *Config, b *Builder) {
		b.WithMetricsEnabled(true).WithLogger(zap.New(core))
	})
	field := FieldDefinition{
		TypeName:  "Query",
		FieldName: "broken",
		Directive: &Directive{Name: "auth", Args: map[string]any{"rolez": []any{"admin"}}},
	}

	for i := 0; i < 3; i++ {
		res := h.ext.ResolveField(context.Background(), field)
		if res.Kind() != KindInvalidDirective || res.Error.Code != CodeInternal {
			t.Fatalf("attempt %d: got %+v", i, res.Error)
		}
		if res.Error.Path != "Query.broken" {
			t.Fatalf("path %q", res.Error.Path)
		}
	}
	if got := h.ext.MetricsSnapshot().Counters[MetricInvalidDirective]; got != 3 {
		t.Fatalf("expected 3 invalid directive counts, got %d", got)
	}
	if n := logs.FilterMessage("invalid auth directive").Len(); n != 1 {
		t.Fatalf("directive should be parsed and logged once, got %d logs", n)
	}
}

func TestResolveFieldReparsesChangedDirective(t *testing.T) {
	h := newHarness(t, nil)
	ctx := WithBearerToken(context.Background(), h.token(t, "RS256", map[string]any{"role": "user"}))

	field := adminField()
	if res := h.ext.ResolveField(ctx, field); res.Kind() != KindClaimRequirementNotMet {
		t.Fatalf("role=user against admin directive: got %+v", res.Error)
	}

	field.Directive = &Directive{
		Name: "auth",
		Args: map[string]any{
			"claims": []any{map[string]any{"path": "role", "equals": "user"}},
		},
	}
	if res := h.ext.ResolveField(ctx, field); !res.Allowed {
		t.Fatalf("changed directive should be reparsed, got %+v", res.Error)
	}

	field.Directive = &Directive{Name: "auth", Args: map[string]any{"rolez": []any{"admin"}}}
	if res := h.ext.ResolveField(ctx, field); res.Kind() != KindInvalidDirective {
		t.Fatalf("invalid replacement directive: got %+v", res.Error)
	}
}

func TestConcurrentColdRequestsFetchOnce(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.token(t, "ES384", nil)
	release := h.iss.Hold()

	const callers = 100
	results := make([]FieldResult, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = h.ext.ResolveField(WithBearerToken(context.Background(), tok), FieldDefinition{
				TypeName: "Query", FieldName: "me", Directive: &Directive{Name: "auth"},
			})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	for i, res := range results {
		if !res.Allowed {
			t.Fatalf("caller %d denied: %q", i, res.Kind())
		}
	}
	if hits := h.iss.Hits(); hits != 1 {
		t.Fatalf("expected exactly one JWKS fetch, got %d", hits)
	}
}

func TestStaleKeySetServedWhileRefreshFails(t *testing.T) {
	h := newHarness(t, func(c *Config, b *Builder) {
		c.JWKS.CacheDuration = time.Minute
		b.WithMetricsEnabled(true)
	})
	if err := h.ext.Warm(context.Background()); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	h.clock.Advance(61 * time.Second)
	h.iss.SetFailing(true)

	req, _ := h.ext.Prepare(Directive{Name: "auth"})
	ctx := WithBearerToken(context.Background(), h.token(t, "RS256", nil))
	if res := h.ext.Authorize(ctx, req); !res.Allowed {
		t.Fatalf("known kid should be served from the stale set, got %q", res.Kind())
	}

	unknown, err := h.iss.SignWithKeyID("RS256", "rotated-away", h.claims(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res := h.ext.Authorize(WithBearerToken(context.Background(), unknown), req); res.Kind() != KindUnknownKeyID {
		t.Fatalf("unknown kid on stale set: got %q", res.Kind())
	}

	snap := h.ext.MetricsSnapshot()
	if snap.Counters[MetricKeySetStaleServed] != 1 {
		t.Fatalf("expected one stale serve, got %d", snap.Counters[MetricKeySetStaleServed])
	}
	if snap.Counters[MetricKeySetRefreshFailure] != 1 {
		t.Fatalf("expected one failed refresh (backoff suppresses the rest), got %d", snap.Counters[MetricKeySetRefreshFailure])
	}
}

func TestKeySetUnavailableOnColdFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.iss.SetFailing(true)

	req, _ := h.ext.Prepare(Directive{Name: "auth"})
	res := h.ext.Authorize(WithBearerToken(context.Background(), h.token(t, "RS256", nil)), req)
	if res.Kind() != KindKeySetUnavailable || res.Error.Code != CodeUnauthenticated {
		t.Fatalf("got %+v", res.Error)
	}
	if err := h.ext.Warm(context.Background()); !errors.Is(err, ErrKeySetUnavailable) {
		t.Fatalf("Warm: %v", err)
	}
}

func TestAuditEvents(t *testing.T) {
	sink := NewChannelSink(16)
	h := newHarness(t, func(c *Config, b *Builder) {
		c.Audit = AuditConfig{Enabled: true, BufferSize: 16, EmitAllowed: true}
		b.WithAuditSink(sink)
	})

	raw := h.token(t, "RS256", map[string]any{"role": "user"})
	ctx := WithClientIP(WithBearerToken(context.Background(), raw), "203.0.113.7")
	h.ext.ResolveField(ctx, adminField())
	h.ext.Close()

	var authz []AuditEvent
	for len(sink.Events()) > 0 {
		ev := <-sink.Events()
		if ev.EventType == AuditEventAuthorize {
			authz = append(authz, ev)
		}
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Fatalf("event missing id or timestamp: %+v", ev)
		}
		encoded, _ := json.Marshal(ev)
		if strings.Contains(string(encoded), raw) {
			t.Fatal("audit event contains the raw token")
		}
	}
	if len(authz) != 1 {
		t.Fatalf("expected one authorize event, got %d", len(authz))
	}
	ev := authz[0]
	if ev.Success || ev.Reason != string(KindClaimRequirementNotMet) {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Field != "Query.adminStats" || ev.Subject != "user-1" || ev.ClientIP != "203.0.113.7" {
		t.Fatalf("unexpected event fields %+v", ev)
	}
}

func TestFieldErrorGraphQLShape(t *testing.T) {
	h := newHarness(t, nil)
	req, _ := h.ext.Prepare(Directive{Name: "auth"})
	expired := h.token(t, "RS256", map[string]any{"exp": h.clock.Now().Add(-time.Hour).Unix()})

	res := h.ext.Authorize(WithBearerToken(context.Background(), expired), req)
	body, err := json.Marshal(res.Error)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"message":"Unauthenticated","extensions":{"code":"UNAUTHENTICATED","reason":"TokenExpired"}}`
	if string(body) != want {
		t.Fatalf("got %s\nwant %s", body, want)
	}
	if strings.Contains(res.Error.Error(), expired) {
		t.Fatal("error text contains the token")
	}

	full, err := res.Error.GraphQLResponse()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(full), `{"data":null,"errors":[{"message":"Unauthenticated"`) {
		t.Fatalf("unexpected response %s", full)
	}
}

func TestStaticHMACKeys(t *testing.T) {
	iss, err := testissuer.New()
	if err != nil {
		t.Fatal(err)
	}
	defer iss.Close()

	cfg := DefaultConfig()
	cfg.AllowedAlgorithms = []string{"HS256"}
	cfg.JWKS.StaticKeys = iss.StaticKeys()
	ext, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer ext.Close()

	tok, err := iss.Sign("HS256", map[string]any{"sub": "svc", "exp": time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatal(err)
	}
	got, err := ext.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Claims.Subject() != "svc" {
		t.Fatalf("subject %q", got.Claims.Subject())
	}
	if iss.Hits() != 0 {
		t.Fatal("static keys must not touch the JWKS endpoint")
	}
}

func TestSharedCacheAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	first := newHarness(t, func(c *Config, b *Builder) {
		c.JWKS.SharedCache.Enabled = true
		b.WithRedis(rdb)
	})
	if err := first.ext.Warm(context.Background()); err != nil {
		t.Fatalf("first Warm: %v", err)
	}

	cfg := first.ext.Config()
	second, err := New().WithConfig(cfg).WithRedis(rdb).WithClock(first.clock.Now).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer second.Close()
	if err := second.Warm(context.Background()); err != nil {
		t.Fatalf("second Warm: %v", err)
	}

	if hits := first.iss.Hits(); hits != 1 {
		t.Fatalf("expected one JWKS fetch across replicas, got %d", hits)
	}
	if second.KeySet().Len() != first.ext.KeySet().Len() {
		t.Fatal("replicas disagree on key count")
	}
}

func TestBuildErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWKS.URL = testJWKSURL
	cfg.JWKS.SharedCache.Enabled = true
	if _, err := New().WithConfig(cfg).Build(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("shared cache without redis: %v", err)
	}

	if _, err := New().Build(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("no key source: %v", err)
	}

	if _, err := New().WithSettings(Settings{JWKSURL: testJWKSURL, AllowedAlgorithms: []string{}}).Build(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("empty allow-list via settings: %v", err)
	}

	b := New().WithConfig(remoteConfig())
	ext, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer ext.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("second Build on the same builder must fail")
	}
}

func TestClosedExtensionDenies(t *testing.T) {
	h := newHarness(t, nil)
	req, _ := h.ext.Prepare(Directive{Name: "auth"})
	h.ext.Close()
	h.ext.Close()

	res := h.ext.Authorize(WithBearerToken(context.Background(), h.token(t, "RS256", nil)), req)
	if res.Allowed || !errors.Is(res.Error, ErrExtensionClosed) {
		t.Fatalf("expected closed denial, got %+v", res)
	}
	if _, err := h.ext.Authenticate(context.Background()); !errors.Is(err, ErrExtensionClosed) {
		t.Fatalf("Authenticate after close: %v", err)
	}
}
