// Package policy turns an authorization directive into a fixed predicate tree
// once, then evaluates verified claims against it per request.
//
// A [Requirement] is a conjunction of typed predicates: required scopes,
// required roles, and claim comparisons (equals, one of, contains) addressed by
// dotted claim paths. Evaluation is pure: a missing claim is a deny, never an
// error, and deny reasons name claims but never echo their values.
//
// # What this package must NOT do
//
//   - Verify tokens or resolve keys.
//   - Grow into a general policy language.
package policy
