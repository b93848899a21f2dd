package password

import "errors"

var (
	// ErrMismatch is returned by Verify for a wrong password.
	ErrMismatch = errors.New("password: mismatch")
	// ErrScheme is returned when a hash was not produced by this hasher.
	ErrScheme = errors.New("password: unsupported hash scheme")
	// ErrMalformed is returned for an unreadable encoded hash.
	ErrMalformed = errors.New("password: malformed hash")
)

// Hasher produces and checks encoded password hashes.
type Hasher interface {
	Hash(password string) (string, error)
	// Verify returns nil on a match and ErrMismatch on a wrong password.
	Verify(password, encoded string) error
	NeedsUpgrade(encoded string) bool
}
