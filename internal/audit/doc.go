// Package audit buffers authorization and key set events and hands them to a
// sink off the request path.
//
// # Components
//
//   - [Sink] is the consumer interface (channel, JSON writer, zap, no-op).
//   - [Dispatcher] is a buffered relay that either drops or blocks when full.
//   - [Event] is the record: field, directive, subject, outcome and reason kind.
//
// # What this package must NOT do
//
//   - Decide which events to emit.
//   - Import gqlAuth or any sibling internal package.
//   - Record raw tokens or claim values beyond subject and issuer.
package audit
