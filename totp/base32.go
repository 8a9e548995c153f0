package totp

import "strings"

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// EncodeBase32 encodes buf with the RFC 4648 alphabet and no padding.
// A trailing partial group is zero-padded to a full 5-bit symbol.
func EncodeBase32(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow((len(buf)*8 + 4) / 5)

	var acc uint32
	bits := 0
	for _, b := range buf {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			sb.WriteByte(base32Alphabet[(acc>>(bits-5))&0x1f])
			bits -= 5
		}
	}
	if bits > 0 {
		sb.WriteByte(base32Alphabet[(acc<<(5-bits))&0x1f])
	}
	return sb.String()
}

// DecodeBase32 is lenient: case is ignored and any character outside the
// alphabet (spaces, dashes, '=' padding) is skipped. Output length is
// floor(validChars*5/8); leftover bits are discarded.
func DecodeBase32(s string) []byte {
	out := make([]byte, 0, len(s)*5/8)

	var acc uint32
	bits := 0
	for i := 0; i < len(s); i++ {
		v, ok := base32Value(s[i])
		if !ok {
			continue
		}
		acc = acc<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			out = append(out, byte(acc>>(bits-8)))
			bits -= 8
		}
	}
	return out
}

func base32Value(c byte) (byte, bool) {
	switch {
	case c >= 'A' && c <= 'Z':
		return c - 'A', true
	case c >= 'a' && c <= 'z':
		return c - 'a', true
	case c >= '2' && c <= '7':
		return c - '2' + 26, true
	default:
		return 0, false
	}
}
