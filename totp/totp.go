package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// SecretBytes is the raw entropy of a generated secret.
	SecretBytes = 20
	// DefaultDigits is the code length used by authenticator apps.
	DefaultDigits = 6
	// DefaultPeriod is the RFC 6238 time step.
	DefaultPeriod = 30 * time.Second
	// DefaultSkew accepts one step of clock drift in each direction.
	DefaultSkew = 1
)

var (
	// ErrEmptySecret is returned when a secret decodes to zero bytes.
	ErrEmptySecret = errors.New("totp: empty secret")
	// ErrInvalidParams is returned for non-positive digits or period.
	ErrInvalidParams = errors.New("totp: invalid parameters")
)

// Params controls code generation and verification.
type Params struct {
	Digits int
	Period time.Duration
	Skew   int
}

// DefaultParams returns 6 digits, 30 second steps and a +/-1 step window.
func DefaultParams() Params {
	return Params{Digits: DefaultDigits, Period: DefaultPeriod, Skew: DefaultSkew}
}

func (p Params) validate() error {
	if p.Digits < 6 || p.Digits > 9 || p.Period < time.Second || p.Skew < 0 {
		return ErrInvalidParams
	}
	return nil
}

// Counter returns the time-step counter for t.
func (p Params) Counter(t time.Time) int64 {
	return t.Unix() / int64(p.Period/time.Second)
}

// GenerateSecret reads SecretBytes from r (crypto/rand when nil) and returns
// them base32 encoded.
func GenerateSecret(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	raw := make([]byte, SecretBytes)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", fmt.Errorf("totp: read entropy: %w", err)
	}
	return EncodeBase32(raw), nil
}

// Code returns the code for secret at t.
func Code(secret string, t time.Time, p Params) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	key := DecodeBase32(secret)
	if len(key) == 0 {
		return "", ErrEmptySecret
	}
	return hotp(key, p.Counter(t), p.Digits), nil
}

// Verify checks code against every step in [t-Skew*Period, t+Skew*Period]
// and returns the matched counter. Malformed codes are a mismatch, not an
// error.
func Verify(secret, code string, t time.Time, p Params) (bool, int64, error) {
	if err := p.validate(); err != nil {
		return false, 0, err
	}
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != p.Digits || !isNumeric(trimmed) {
		return false, 0, nil
	}
	key := DecodeBase32(secret)
	if len(key) == 0 {
		return false, 0, ErrEmptySecret
	}

	base := p.Counter(t)
	for step := -p.Skew; step <= p.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(key, counter, p.Digits)), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

// ProvisionURI builds the otpauth:// URI rendered as a QR code during
// enrollment.
func ProvisionURI(issuer, account, secret string, p Params) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(int(p.Period/time.Second)))
	v.Set("digits", strconv.Itoa(p.Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

func hotp(key []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
