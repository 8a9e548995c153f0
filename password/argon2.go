package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Prefix = "$argon2id$"

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnsupportedHash is returned for hash formats no verifier understands.
	ErrUnsupportedHash = errors.New("password: unsupported hash format")
	// ErrWeakParams is returned by NewArgon2 for parameters below the floor.
	ErrWeakParams = errors.New("password: argon2 parameters below minimum")
)

// Argon2Params are the Argon2id cost parameters. Memory is in KiB.
type Argon2Params struct {
	Memory      uint32 `yaml:"memory_kib"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
}

// DefaultArgon2Params follows the OWASP second recommended profile.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// Validate enforces the parameter floor.
func (p Argon2Params) Validate() error {
	switch {
	case p.Memory < 8*1024:
		return fmt.Errorf("%w: memory must be >= 8192 KiB", ErrWeakParams)
	case p.Time < 1:
		return fmt.Errorf("%w: time must be >= 1", ErrWeakParams)
	case p.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrWeakParams)
	case p.SaltLength < 16:
		return fmt.Errorf("%w: salt length must be >= 16", ErrWeakParams)
	case p.KeyLength < 16:
		return fmt.Errorf("%w: key length must be >= 16", ErrWeakParams)
	}
	return nil
}

// Argon2 hashes with Argon2id and emits PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
type Argon2 struct {
	params Argon2Params
	rand   io.Reader
}

// NewArgon2 validates params and returns a hasher. Safe for concurrent use.
func NewArgon2(params Argon2Params) (*Argon2, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2{params: params, rand: rand.Reader}, nil
}

// Hash derives a fresh salted hash of plain.
func (a *Argon2) Hash(plain string) (string, error) {
	salt := make([]byte, a.params.SaltLength)
	if _, err := io.ReadFull(a.rand, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	key := argon2.IDKey([]byte(plain), salt, a.params.Time, a.params.Memory, a.params.Parallelism, a.params.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version,
		a.params.Memory, a.params.Time, a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encoded.
func (a *Argon2) Verify(plain, encoded string) (bool, error) {
	h, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(plain), h.salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return subtle.ConstantTimeCompare(key, h.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the hasher's current ones.
func (a *Argon2) NeedsRehash(encoded string) bool {
	h, err := decodeArgon2(encoded)
	if err != nil {
		return true
	}
	p := h.params
	return p.Memory < a.params.Memory ||
		p.Time < a.params.Time ||
		p.Parallelism < a.params.Parallelism ||
		p.KeyLength != a.params.KeyLength
}

type argon2Hash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func decodeArgon2(encoded string) (argon2Hash, error) {
	var out argon2Hash
	if !strings.HasPrefix(encoded, argon2Prefix) {
		return out, ErrUnsupportedHash
	}
	fields := strings.Split(strings.TrimPrefix(encoded, argon2Prefix), "$")
	if len(fields) != 4 {
		return out, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil || version != argon2.Version {
		return out, ErrMalformedHash
	}
	var p Argon2Params
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return out, ErrMalformedHash
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return out, ErrMalformedHash
	}

	salt, err := decodeB64(fields[2])
	if err != nil || len(salt) < 8 {
		return out, ErrMalformedHash
	}
	key, err := decodeB64(fields[3])
	if err != nil || len(key) == 0 {
		return out, ErrMalformedHash
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))

	return argon2Hash{params: p, salt: salt, key: key}, nil
}

// decodeB64 accepts both the unpadded PHC encoding and padded hashes written
// by older releases.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
