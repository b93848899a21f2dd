// Package goGate is the session-resolution, privilege-derivation and adaptive
// access-control core of the education platform.
//
// It decides who the current user is, what they may do, and whether step-up
// verification must be completed before protected views are reachable. The
// external identity backend is consumed through [IdentityProvider]; this
// package never stores credentials or issues tokens.
//
// # Architecture boundaries
//
// goGate is the public surface. It exposes [Engine], [Builder], [Config], the
// value types ([ResolvedUser], [Snapshot], [Decision]) and the provider
// contracts. Backends live in sub-packages (provider/gotrue, provider/memory,
// store, profilestore) that import goGate, never the reverse.
//
// # What this package must NOT do
//
//   - Derive privilege from [Profile] or user-editable metadata. [RoleFor] reads
//     server-issued app metadata only.
//   - Surface raw provider error text. User-facing text comes from [UserMessage].
//   - Treat the local login limiter as a security boundary. It is a UX deterrent;
//     the provider's server-side limiting is authoritative.
//   - Expose a partially resolved user. A [Snapshot] carries either nil or a
//     complete [ResolvedUser].
package goGate
