// Package password hashes and verifies the passwords held by the in-process
// identity backend.
//
// Two schemes implement [Hasher]:
//
//	bcrypt    $2a$<cost>$<salt+hash>
//	argon2id  $argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// NeedsUpgrade reports hashes produced with weaker parameters, or by another
// scheme, so the caller can re-hash after the next successful sign-in.
//
// # What this package must NOT do
//
//   - Store passwords or hashes.
//   - Enforce password policy (the backend owns minimum length).
//   - Log plaintext passwords.
package password
