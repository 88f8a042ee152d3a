// Package id generates the unique identifiers used for imposters, stubs, and
// request-log entries. All generation uses crypto/rand.
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UUID generates a random RFC 4122 UUID v4 string.
func UUID() string {
	return uuid.NewString()
}

// ulidEncoding uses Crockford's Base32 (excludes I, L, O, U to avoid ambiguity).
const ulidEncoding = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	ulidMu      sync.Mutex
	ulidLastMs  int64
	ulidCounter uint16
)

// ULID generates a 26-character, time-sortable identifier: a 48-bit millisecond
// timestamp followed by 80 bits of randomness. IDs generated within the same
// millisecond stay ordered via a monotonic counter in the low random bytes.
func ULID() string {
	ulidMu.Lock()
	ms := time.Now().UnixMilli()
	if ms == ulidLastMs {
		ulidCounter++
	} else {
		ulidLastMs = ms
		ulidCounter = 0
	}
	counter := ulidCounter
	ulidMu.Unlock()

	var b [16]byte
	b[0] = byte(ms >> 40)
	b[1] = byte(ms >> 32)
	b[2] = byte(ms >> 24)
	b[3] = byte(ms >> 16)
	b[4] = byte(ms >> 8)
	b[5] = byte(ms)
	_, _ = rand.Read(b[6:])
	// Fold the counter into the last two bytes for same-millisecond ordering.
	b[14] = byte(counter >> 8)
	b[15] = byte(counter)

	return encodeBase32(b)
}

// encodeBase32 encodes 16 bytes as 26 Crockford Base32 characters.
func encodeBase32(b [16]byte) string {
	out := make([]byte, 26)
	// Work from the least significant end, 5 bits at a time.
	var acc uint64
	var bits uint
	pos := 25
	for i := 15; i >= 0; i-- {
		acc |= uint64(b[i]) << bits
		bits += 8
		for bits >= 5 && pos >= 0 {
			out[pos] = ulidEncoding[acc&0x1f]
			acc >>= 5
			bits -= 5
			pos--
		}
	}
	for pos >= 0 {
		out[pos] = ulidEncoding[acc&0x1f]
		acc >>= 5
		pos--
	}
	return string(out)
}
