package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher produces and checks password hashes.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
}

// Verifier dispatches on the stored hash format. New hashes are always
// Argon2id; bcrypt hashes imported from the previous identity provider are
// verified and reported as needing a rehash.
type Verifier struct {
	argon *Argon2
}

var _ Hasher = (*Verifier)(nil)

// NewVerifier wraps an Argon2 hasher.
func NewVerifier(a *Argon2) *Verifier {
	return &Verifier{argon: a}
}

// Hash always produces Argon2id.
func (v *Verifier) Hash(plain string) (string, error) {
	return v.argon.Hash(plain)
}

// Verify checks plain against an Argon2id or bcrypt hash.
func (v *Verifier) Verify(plain, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return v.argon.Verify(plain, encoded)
	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, ErrMalformedHash
		}
		return true, nil
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash is true for every legacy format and for weak Argon2 params.
func (v *Verifier) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	return v.argon.NeedsRehash(encoded)
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
