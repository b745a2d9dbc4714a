package gqlAuth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/gqlAuth/internal/audit"
	"github.com/MrEthical07/gqlAuth/jwt"
	"github.com/MrEthical07/gqlAuth/keyset"
	"github.com/MrEthical07/gqlAuth/policy"
	"go.uber.org/zap"
)

// Directive is a schema directive as registered on a field: its name and its
// static arguments decoded from JSON.
type Directive struct {
	Name string
	Args map[string]any
}

// FieldDefinition identifies a schema field and the auth directive on it.
// A nil Directive marks an unprotected field.
type FieldDefinition struct {
	TypeName  string
	FieldName string
	Directive *Directive
}

// Coordinate returns "Type.field".
func (f FieldDefinition) Coordinate() string {
	return f.TypeName + "." + f.FieldName
}

type preparedField struct {
	key string
	req *policy.Requirement
	err error
}

// directiveKey identifies a directive by name and arguments. encoding/json
// sorts map keys, so equal arguments give equal keys.
func directiveKey(d Directive) string {
	raw, err := json.Marshal(struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	}{d.Name, d.Args})
	if err != nil {
		return fmt.Sprintf("%s %#v", d.Name, d.Args)
	}
	return string(raw)
}

// Extension authenticates and authorizes GraphQL field resolution. It is safe
// for concurrent use; the only state shared across requests is the key set
// cache and the prepared directive cache.
type Extension struct {
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	resolver *keyset.Resolver
	verifier *jwt.Verifier
	metrics  *Metrics
	audit    *audit.Dispatcher

	fields sync.Map // coordinate -> *preparedField
	closed atomic.Bool
}

// Config returns a copy of the active configuration.
func (e *Extension) Config() Config {
	return cloneConfig(e.cfg)
}

// Prepare parses a directive once into a reusable requirement.
func (e *Extension) Prepare(d Directive) (*policy.Requirement, error) {
	return policy.ParseDirective(d.Name, d.Args)
}

// ResolveField authorizes one field. The field's directive is parsed on first
// use and cached by coordinate, so a directive error is reported for every
// request to that field without reparsing. A coordinate that arrives with
// different directive arguments, as after a schema reload, is parsed again.
func (e *Extension) ResolveField(ctx context.Context, field FieldDefinition) FieldResult {
	if field.Directive == nil {
		return FieldResult{Allowed: true}
	}

	coord := field.Coordinate()
	key := directiveKey(*field.Directive)
	cached, ok := e.fields.Load(coord)
	if !ok || cached.(*preparedField).key != key {
		req, err := e.Prepare(*field.Directive)
		if err != nil {
			e.logger.Error("invalid auth directive", zap.String("field", coord), zap.Error(err))
		}
		pf := &preparedField{key: key, req: req, err: err}
		if ok {
			e.fields.Store(coord, pf)
			cached = pf
		} else {
			cached, _ = e.fields.LoadOrStore(coord, pf)
		}
	}

	pf := cached.(*preparedField)
	if pf.err != nil {
		e.metrics.Inc(MetricInvalidDirective)
		return FieldResult{Error: newFieldError(pf.err, coord)}
	}
	return e.authorize(ctx, pf.req, coord)
}

// Authorize runs verification and claim evaluation for a prepared requirement.
func (e *Extension) Authorize(ctx context.Context, req *policy.Requirement) FieldResult {
	return e.authorize(ctx, req, "")
}

func (e *Extension) authorize(ctx context.Context, req *policy.Requirement, coord string) FieldResult {
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
	}()

	if req == nil {
		return e.deny(ctx, coord, req, nil, fmt.Errorf("%w: nil requirement", ErrInvalidDirective))
	}
	if e.closed.Load() {
		return e.deny(ctx, coord, req, nil, ErrExtensionClosed)
	}

	raw := bearerFromContext(ctx, e.cfg.Header)
	if raw == "" {
		if req.Optional() {
			e.metrics.Inc(MetricAuthorizeAnonymous)
			return FieldResult{Allowed: true}
		}
		return e.deny(ctx, coord, req, nil, ErrTokenMissing)
	}

	tok, err := e.verifier.Verify(ctx, raw, req.Constraints())
	if err != nil {
		return e.deny(ctx, coord, req, nil, err)
	}
	if err := req.Check(tok.Claims); err != nil {
		return e.deny(ctx, coord, req, tok, err)
	}

	e.metrics.Inc(MetricAuthorizeAllowed)
	if e.cfg.Audit.EmitAllowed {
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditEventAuthorize,
			Field:     coord,
			Directive: req.Directive(),
			Subject:   tok.Claims.Subject(),
			Issuer:    tok.Claims.Issuer(),
			KeyID:     tok.Header.KeyID,
			ClientIP:  clientIPFromContext(ctx),
			Success:   true,
		})
	}
	return FieldResult{Allowed: true, Token: tok}
}

func (e *Extension) deny(ctx context.Context, coord string, req *policy.Requirement, tok *jwt.Token, err error) FieldResult {
	fe := newFieldError(err, coord)
	e.metrics.Inc(metricForKind(fe.Kind))

	if fe.Kind == KindInternal {
		e.logger.Error("authorization failed", zap.String("field", coord), zap.Error(err))
	} else if ce := e.logger.Check(zap.DebugLevel, "authorization denied"); ce != nil {
		ce.Write(zap.String("field", coord), zap.String("reason", string(fe.Kind)))
	}

	event := AuditEvent{
		EventType: AuditEventAuthorize,
		Field:     coord,
		ClientIP:  clientIPFromContext(ctx),
		Reason:    string(fe.Kind),
	}
	if req != nil {
		event.Directive = req.Directive()
	}
	if tok != nil {
		event.Subject = tok.Claims.Subject()
		event.Issuer = tok.Claims.Issuer()
		event.KeyID = tok.Header.KeyID
	}
	e.emitAudit(ctx, event)

	return FieldResult{Error: fe}
}

// Authenticate verifies the request's bearer token without a directive, using
// the configured issuer, audience and algorithms.
func (e *Extension) Authenticate(ctx context.Context) (*jwt.Token, error) {
	if e.closed.Load() {
		return nil, ErrExtensionClosed
	}
	raw := bearerFromContext(ctx, e.cfg.Header)
	if raw == "" {
		return nil, ErrTokenMissing
	}
	return e.verifier.Verify(ctx, raw, jwt.Constraints{})
}

// Verify checks a raw token against the configured policy.
func (e *Extension) Verify(ctx context.Context, raw string) (*jwt.Token, error) {
	if e.closed.Load() {
		return nil, ErrExtensionClosed
	}
	return e.verifier.Verify(ctx, raw, jwt.Constraints{})
}

// Warm fetches the key set ahead of the first request.
func (e *Extension) Warm(ctx context.Context) error {
	return e.resolver.Warm(ctx)
}

// KeySet returns the cached key set, or nil before the first fetch.
func (e *Extension) KeySet() *keyset.KeySet {
	return e.resolver.Current()
}

// MetricsSnapshot returns the current counters.
func (e *Extension) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped returns the number of audit events that were dropped.
func (e *Extension) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close flushes queued audit events. Requests after Close are denied.
func (e *Extension) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.audit.Close()
}
