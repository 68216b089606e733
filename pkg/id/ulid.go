// Package id provides sortable ID generation utilities.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Crockford's Base32 alphabet (excludes I, L, O, U to avoid confusion).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewULID generates a ULID (Universally Unique Lexicographically Sortable Identifier).
// Returns a 26-character string: 10 chars timestamp (48-bit ms) + 16 chars random (80-bit).
func NewULID() string {
	return encodeULID(uint64(time.Now().UnixMilli()), entropy())
}

// NewSendKey generates an opaque newsletter send key: a lowercase ULID.
// Keys sort by creation time, which keeps admin listings readable.
func NewSendKey() string {
	b := []byte(NewULID())
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func entropy() [10]byte {
	var r [10]byte
	if _, err := rand.Read(r[:]); err != nil {
		// Degraded but functional.
		binary.BigEndian.PutUint64(r[:8], uint64(time.Now().UnixNano()))
	}
	return r
}

// encodeULID packs 48 bits of time and 80 bits of entropy into 26 base32 chars.
func encodeULID(ms uint64, r [10]byte) string {
	var out [26]byte

	for i := 9; i >= 0; i-- {
		out[i] = crockfordBase32[ms&0x1F]
		ms >>= 5
	}

	// 80 random bits, 5 at a time, most significant first.
	hi := binary.BigEndian.Uint16(r[0:2])
	lo := binary.BigEndian.Uint64(r[2:10])
	for i := 25; i >= 10; i-- {
		out[i] = crockfordBase32[lo&0x1F]
		lo = lo>>5 | uint64(hi&0x1F)<<59
		hi >>= 5
	}

	return string(out[:])
}
