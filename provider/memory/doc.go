// Package memory is an in-process identity backend for tests and demos.
//
// It plays both halves of a real deployment: the server (bcrypt or argon2id password
// hashes, JWT-minted sessions, server-side revocation, TOTP factors) and
// the client's local session cache, kept in a store.Store so a "reload"
// can be simulated by building a new engine over the same store.
//
// Faults and latency can be injected per operation to exercise retry,
// abort and ordering paths. It is not an identity provider for production
// use.
package memory
