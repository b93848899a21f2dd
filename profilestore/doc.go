// Package profilestore provides goGate.ProfileStore backends.
//
// [Memory] is for tests and demos, [Redis] keeps profiles as JSON values,
// [Mongo] stores one document per subject keyed by _id, and [SQL] targets
// PostgreSQL or MySQL through sqlx.
//
// Every backend returns [goGate.ErrProfileNotFound] for a missing profile
// and [ErrConflict] when creating one that already exists.
//
// # What this package must NOT do
//
//   - Interpret Profile.Role. It is stored and returned verbatim.
package profilestore
