// Package store provides the durable key/value backends that hold per-device client
// state: login attempt counters, lock deadlines, the cached provider session, and
// short-lived step-up intent records.
//
// # Backends
//
//   - [MemoryStore]: process-local map with TTL, used in tests and ephemeral shells.
//   - [BadgerStore]: embedded Badger database; survives process restarts.
//   - [RedisStore]: Redis keys scoped by a device prefix, for shells that keep
//     client state server-side.
//
// # What this package must NOT do
//
//   - Interpret values. Encoding belongs to the owning component.
//   - Import goGate or any provider package.
package store
