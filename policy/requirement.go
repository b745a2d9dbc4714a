package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/MrEthical07/gqlAuth/jwt"
)

var (
	// ErrClaimRequirementNotMet is returned when verified claims fail a requirement.
	ErrClaimRequirementNotMet = errors.New("claim requirement not met")
	// ErrInvalidDirective is returned for directive arguments that cannot be parsed.
	ErrInvalidDirective = errors.New("invalid directive")
)

// DefaultRolesClaim is read when a directive names roles without rolesClaim.
const DefaultRolesClaim = "roles"

// Decision is the outcome of evaluating a Requirement.
type Decision struct {
	Allowed bool
	Reason  string
}

// Requirement is a parsed directive. It is immutable and safe for concurrent use.
type Requirement struct {
	directive   string
	predicates  []Predicate
	constraints jwt.Constraints
	optional    bool
}

// Directive returns the directive name the requirement came from.
func (r *Requirement) Directive() string { return r.directive }

// Optional reports whether anonymous callers may pass.
func (r *Requirement) Optional() bool { return r.optional }

// Constraints returns the per-field verification overrides.
func (r *Requirement) Constraints() jwt.Constraints {
	c := r.constraints
	c.Audiences = append([]string(nil), c.Audiences...)
	c.Algorithms = append([]string(nil), c.Algorithms...)
	return c
}

// Predicates returns the predicate list in evaluation order.
func (r *Requirement) Predicates() []Predicate {
	return append([]Predicate(nil), r.predicates...)
}

// Evaluate checks every predicate in order and stops at the first failure.
func (r *Requirement) Evaluate(claims ClaimSource) Decision {
	if claims == nil {
		if len(r.predicates) == 0 {
			return Decision{Allowed: true}
		}
		return Decision{Reason: "no claims available"}
	}
	for _, p := range r.predicates {
		if !p.Holds(claims) {
			return Decision{Reason: p.Reason()}
		}
	}
	return Decision{Allowed: true}
}

// Check is Evaluate returning ErrClaimRequirementNotMet on deny.
func (r *Requirement) Check(claims ClaimSource) error {
	d := r.Evaluate(claims)
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrClaimRequirementNotMet, d.Reason)
}

// ParseDirective builds a Requirement from directive arguments as decoded
// from JSON. Recognised arguments:
//
//	scopes:     [String!]   all required, read from "scope" or "scp"
//	roles:      [String!]   all required, read from rolesClaim
//	rolesClaim: String      claim path holding roles (default "roles")
//	claims:     [{path, equals | oneOf | contains}]
//	issuer:     String      overrides the configured issuer
//	audience:   String | [String!]
//	algorithms: [String!]   narrows the configured allow-list
//	optional:   Boolean     let anonymous callers through
//
// Unknown arguments are rejected.
func ParseDirective(name string, args map[string]any) (*Requirement, error) {
	req := &Requirement{directive: name}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch k {
		case "scopes", "roles", "rolesClaim", "claims", "issuer", "audience", "algorithms", "optional":
		default:
			return nil, fmt.Errorf("%w: unknown argument %q", ErrInvalidDirective, k)
		}
	}

	if v, ok := args["scopes"]; ok {
		scopes, err := stringList("scopes", v)
		if err != nil {
			return nil, err
		}
		if len(scopes) > 0 {
			req.predicates = append(req.predicates, scopesPredicate{required: scopes})
		}
	}

	rolesClaim := DefaultRolesClaim
	if v, ok := args["rolesClaim"]; ok {
		s, isString := v.(string)
		if !isString || s == "" {
			return nil, fmt.Errorf("%w: rolesClaim must be a non-empty string", ErrInvalidDirective)
		}
		rolesClaim = s
	}
	if v, ok := args["roles"]; ok {
		roles, err := stringList("roles", v)
		if err != nil {
			return nil, err
		}
		if len(roles) > 0 {
			req.predicates = append(req.predicates, rolesPredicate{claim: rolesClaim, required: roles})
		}
	}

	if v, ok := args["claims"]; ok {
		preds, err := parseClaimPredicates(v)
		if err != nil {
			return nil, err
		}
		req.predicates = append(req.predicates, preds...)
	}

	if v, ok := args["issuer"]; ok {
		s, isString := v.(string)
		if !isString || s == "" {
			return nil, fmt.Errorf("%w: issuer must be a non-empty string", ErrInvalidDirective)
		}
		req.constraints.Issuer = s
	}
	if v, ok := args["audience"]; ok {
		if s, isString := v.(string); isString {
			if s == "" {
				return nil, fmt.Errorf("%w: audience must not be empty", ErrInvalidDirective)
			}
			req.constraints.Audiences = []string{s}
		} else {
			auds, err := stringList("audience", v)
			if err != nil {
				return nil, err
			}
			req.constraints.Audiences = auds
		}
	}
	if v, ok := args["algorithms"]; ok {
		algs, err := stringList("algorithms", v)
		if err != nil {
			return nil, err
		}
		for _, a := range algs {
			if _, err := jwt.Lookup(a); err != nil {
				return nil, fmt.Errorf("%w: algorithm %q is not supported", ErrInvalidDirective, a)
			}
		}
		req.constraints.Algorithms = algs
	}
	if v, ok := args["optional"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return nil, fmt.Errorf("%w: optional must be a boolean", ErrInvalidDirective)
		}
		req.optional = b
	}

	return req, nil
}

func parseClaimPredicates(v any) ([]Predicate, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: claims must be a list", ErrInvalidDirective)
	}
	out := make([]Predicate, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: claims[%d] must be an object", ErrInvalidDirective, i)
		}
		path, _ := m["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("%w: claims[%d].path is required", ErrInvalidDirective, i)
		}

		var ops []string
		for k := range m {
			switch k {
			case "path":
			case "equals", "oneOf", "contains":
				ops = append(ops, k)
			default:
				return nil, fmt.Errorf("%w: claims[%d] has unknown field %q", ErrInvalidDirective, i, k)
			}
		}
		if len(ops) != 1 {
			return nil, fmt.Errorf("%w: claims[%d] needs exactly one of equals, oneOf, contains", ErrInvalidDirective, i)
		}

		switch ops[0] {
		case "equals":
			if !isScalar(m["equals"]) {
				return nil, fmt.Errorf("%w: claims[%d].equals must be a scalar", ErrInvalidDirective, i)
			}
			out = append(out, equalsPredicate{path: path, value: m["equals"]})
		case "contains":
			if !isScalar(m["contains"]) {
				return nil, fmt.Errorf("%w: claims[%d].contains must be a scalar", ErrInvalidDirective, i)
			}
			out = append(out, containsPredicate{path: path, value: m["contains"]})
		case "oneOf":
			values, ok := m["oneOf"].([]any)
			if !ok || len(values) == 0 {
				return nil, fmt.Errorf("%w: claims[%d].oneOf must be a non-empty list", ErrInvalidDirective, i)
			}
			for _, val := range values {
				if !isScalar(val) {
					return nil, fmt.Errorf("%w: claims[%d].oneOf values must be scalars", ErrInvalidDirective, i)
				}
			}
			out = append(out, oneOfPredicate{path: path, values: append([]any(nil), values...)})
		}
	}
	return out, nil
}

func stringList(arg string, v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("%w: %s must hold non-empty strings", ErrInvalidDirective, arg)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidDirective, arg)
	}
}
