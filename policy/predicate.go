package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClaimSource exposes claims by dotted path.
type ClaimSource interface {
	Lookup(path string) (any, bool)
}

// Predicate is one condition of a Requirement. The set of implementations is
// closed to this package.
type Predicate interface {
	// Holds reports whether claims satisfy the predicate.
	Holds(claims ClaimSource) bool
	// Reason describes the failure without any claim values.
	Reason() string
	sealed()
}

type scopesPredicate struct {
	required []string
}

func (p scopesPredicate) sealed() {}

func (p scopesPredicate) Holds(claims ClaimSource) bool {
	granted := make(map[string]struct{})
	if v, ok := claims.Lookup("scope"); ok {
		if s, ok := v.(string); ok {
			for _, f := range strings.Fields(s) {
				granted[f] = struct{}{}
			}
		}
	}
	if v, ok := claims.Lookup("scp"); ok {
		for _, s := range stringsOf(v) {
			for _, f := range strings.Fields(s) {
				granted[f] = struct{}{}
			}
		}
	}
	for _, r := range p.required {
		if _, ok := granted[r]; !ok {
			return false
		}
	}
	return true
}

func (p scopesPredicate) Reason() string {
	return fmt.Sprintf("required scopes missing (%s)", strings.Join(p.required, " "))
}

type rolesPredicate struct {
	claim    string
	required []string
}

func (p rolesPredicate) sealed() {}

func (p rolesPredicate) Holds(claims ClaimSource) bool {
	v, ok := claims.Lookup(p.claim)
	if !ok {
		return false
	}
	held := make(map[string]struct{})
	for _, r := range stringsOf(v) {
		held[r] = struct{}{}
	}
	for _, r := range p.required {
		if _, ok := held[r]; !ok {
			return false
		}
	}
	return true
}

func (p rolesPredicate) Reason() string {
	return fmt.Sprintf("required roles missing from claim %q", p.claim)
}

type equalsPredicate struct {
	path  string
	value any
}

func (p equalsPredicate) sealed() {}

func (p equalsPredicate) Holds(claims ClaimSource) bool {
	v, ok := claims.Lookup(p.path)
	return ok && equalValues(v, p.value)
}

func (p equalsPredicate) Reason() string {
	return fmt.Sprintf("claim %q does not have the required value", p.path)
}

type oneOfPredicate struct {
	path   string
	values []any
}

func (p oneOfPredicate) sealed() {}

func (p oneOfPredicate) Holds(claims ClaimSource) bool {
	v, ok := claims.Lookup(p.path)
	if !ok {
		return false
	}
	for _, want := range p.values {
		if equalValues(v, want) {
			return true
		}
	}
	return false
}

func (p oneOfPredicate) Reason() string {
	return fmt.Sprintf("claim %q is not one of the allowed values", p.path)
}

type containsPredicate struct {
	path  string
	value any
}

func (p containsPredicate) sealed() {}

func (p containsPredicate) Holds(claims ClaimSource) bool {
	v, ok := claims.Lookup(p.path)
	if !ok {
		return false
	}
	items, isList := v.([]any)
	if !isList {
		return equalValues(v, p.value)
	}
	for _, item := range items {
		if equalValues(item, p.value) {
			return true
		}
	}
	return false
}

func (p containsPredicate) Reason() string {
	return fmt.Sprintf("claim %q does not contain the required value", p.path)
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func equalValues(claim, literal any) bool {
	switch l := literal.(type) {
	case string:
		s, ok := claim.(string)
		return ok && s == l
	case bool:
		b, ok := claim.(bool)
		return ok && b == l
	case nil:
		return claim == nil
	default:
		lf, ok := number(l)
		if !ok {
			return false
		}
		cf, ok := number(claim)
		return ok && cf == lf
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, nil:
		return true
	}
	_, ok := number(v)
	return ok
}
