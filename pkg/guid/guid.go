// Package guid defines the 128-bit peer identity type shared by the peer
// state table, key store, and key exchanger. AllJoyn GUIDs are opaque
// 128-bit identifiers with the same shape as a UUID, so this wraps
// github.com/google/uuid rather than hand-rolling 16-byte array plumbing.
package guid

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// GUID128 is a 128-bit peer identity.
type GUID128 uuid.UUID

// Nil is the zero GUID, used as the null-name peer's address in the peer
// state table.
var Nil = GUID128(uuid.Nil)

// New generates a fresh random GUID128.
func New() (GUID128, error) {
	u, err := uuid.NewRandomFromReader(rand.Reader)
	if err != nil {
		return Nil, err
	}
	return GUID128(u), nil
}

// String renders the GUID as AllJoyn's 32-character unhyphenated hex form.
func (g GUID128) String() string {
	u := uuid.UUID(g)
	buf := make([]byte, 32)
	hexEncode(buf, u[:])
	return string(buf)
}

// Bytes returns the 16 raw bytes of the GUID.
func (g GUID128) Bytes() [16]byte {
	return g
}

// ParseHex parses a 32-character unhyphenated hex GUID string.
func ParseHex(s string) (GUID128, error) {
	var raw [16]byte
	if err := hexDecode(raw[:], []byte(s)); err != nil {
		return Nil, err
	}
	return GUID128(raw), nil
}

func hexEncode(dst, src []byte) {
	const hexDigits = "0123456789ABCDEF"
	for i, b := range src {
		dst[i*2] = hexDigits[b>>4]
		dst[i*2+1] = hexDigits[b&0x0F]
	}
}

func hexDecode(dst, src []byte) error {
	if len(src) != len(dst)*2 {
		return errInvalidGUIDLength
	}
	for i := range dst {
		hi, err := hexNibble(src[i*2])
		if err != nil {
			return err
		}
		lo, err := hexNibble(src[i*2+1])
		if err != nil {
			return err
		}
		dst[i] = hi<<4 | lo
	}
	return nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errInvalidGUIDLength
	}
}
