// Package internal holds helpers private to goGate.
//
// # Sub-packages
//
//   - fanout: non-blocking event fan-out shared by the identity backends
//     and the NATS relay.
//   - totp: RFC 6238 code generation and verification for the in-process
//     backend.
//
// # What this package must NOT do
//
//   - Export types that appear in the public goGate API.
//   - Import the root goGate package from totp.
package internal
