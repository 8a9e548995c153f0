package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// BackupCodeAlphabet omits I, O, 0 and 1 to avoid transcription mistakes.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultBackupCodeCount  = 8
	DefaultBackupCodeLength = 10
)

// ErrInvalidBackupCodeShape is returned for non-positive count or length.
var ErrInvalidBackupCodeShape = errors.New("totp: invalid backup code shape")

// GenerateBackupCodes returns count codes of length characters each,
// formatted as two dash-separated halves. r defaults to crypto/rand.
func GenerateBackupCodes(r io.Reader, count, length int) ([]string, error) {
	if count <= 0 || length <= 0 {
		return nil, ErrInvalidBackupCodeShape
	}
	if r == nil {
		r = rand.Reader
	}
	max := big.NewInt(int64(len(BackupCodeAlphabet)))

	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw := make([]byte, length)
		for j := range raw {
			n, err := rand.Int(r, max)
			if err != nil {
				return nil, fmt.Errorf("totp: read entropy: %w", err)
			}
			raw[j] = BackupCodeAlphabet[n.Int64()]
		}
		codes = append(codes, FormatBackupCode(string(raw)))
	}
	return codes, nil
}

// FormatBackupCode renders a canonical code as XXXXX-XXXXX.
func FormatBackupCode(code string) string {
	if len(code) < 2 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode uppercases and strips dashes and whitespace so that
// user input matches the stored hash regardless of how it was typed.
func CanonicalizeBackupCode(code string) string {
	var sb strings.Builder
	sb.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// HashBackupCode binds the canonical code to its owner so identical codes
// issued to different principals never collide.
func HashBackupCode(principalID, code string) [32]byte {
	canonical := CanonicalizeBackupCode(code)
	buf := make([]byte, 0, len(principalID)+1+len(canonical))
	buf = append(buf, principalID...)
	buf = append(buf, 0)
	buf = append(buf, canonical...)
	return sha256.Sum256(buf)
}
