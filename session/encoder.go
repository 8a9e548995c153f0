package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const encodingVersion byte = 1

// ErrCorrupt is returned when a stored session blob cannot be decoded.
var ErrCorrupt = errors.New("session: corrupt record")

// Encode serialises s into the compact binary record kept in the session
// store. ID is not encoded; it is the storage key.
//
// Layout (v1):
//
//	version:u8 | principal:str | created:i64ms | expires:i64ms | ip:str | ua:str | label:str
//
// where str is a big-endian u16 length followed by the bytes.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(32 + len(s.PrincipalID) + len(s.IP) + len(s.UserAgent) + len(s.Label))
	buf.WriteByte(encodingVersion)

	if err := writeString(&buf, s.PrincipalID); err != nil {
		return nil, fmt.Errorf("principal id: %w", err)
	}
	writeTime(&buf, s.CreatedAt)
	writeTime(&buf, s.ExpiresAt)
	for _, field := range []string{s.IP, s.UserAgent, s.Label} {
		if err := writeString(&buf, field); err != nil {
			return nil, fmt.Errorf("device metadata: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil || version != encodingVersion {
		return nil, ErrCorrupt
	}

	s := &Session{}
	if s.PrincipalID, err = readString(r); err != nil {
		return nil, ErrCorrupt
	}
	if s.CreatedAt, err = readTime(r); err != nil {
		return nil, ErrCorrupt
	}
	if s.ExpiresAt, err = readTime(r); err != nil {
		return nil, ErrCorrupt
	}
	for _, dst := range []*string{&s.IP, &s.UserAgent, &s.Label} {
		if *dst, err = readString(r); err != nil {
			return nil, ErrCorrupt
		}
	}
	if r.Len() != 0 || s.PrincipalID == "" {
		return nil, ErrCorrupt
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errors.New("field too long")
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", err
	}
	out := make([]byte, binary.BigEndian.Uint16(n[:]))
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}

func writeTime(buf *bytes.Buffer, t time.Time) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixMilli()))
	buf.Write(b[:])
}

func readTime(r *bytes.Reader) (time.Time, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b[:]))).UTC(), nil
}
