package gatt

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// UUID is a 128-bit Bluetooth identifier stored most-significant-byte-first,
// the same canonical order used everywhere outside the TNP wire codec. Never
// pass a wire-reversed UUID around outside internal/tnp; that package hides
// the reversal entirely.
type UUID [16]byte

// MustParseUUID parses a dashed UUID string and panics on failure. It exists
// for package-level UUID constants where a malformed literal is a build-time
// bug, not a runtime error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("gatt: invalid UUID literal %q: %v", s, err))
	}
	return u
}

// ParseUUID parses a UUID in canonical dashed form, e.g.
// "0000fc82-0000-1000-8000-00805f9b34fb". Case-insensitive.
func ParseUUID(s string) (UUID, error) {
	clean := strings.ReplaceAll(s, "-", "")
	if len(clean) != 32 {
		return UUID{}, fmt.Errorf("gatt: UUID %q must decode to 16 bytes, got %d hex chars", s, len(clean))
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return UUID{}, fmt.Errorf("gatt: UUID %q is not valid hex: %w", s, err)
	}
	var u UUID
	copy(u[:], raw)
	return u, nil
}

// String renders the UUID in canonical lowercase dashed form.
func (u UUID) String() string {
	b := u[:]
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// ShortForm returns the 4-hex-character short UUID used in mDNS TXT records,
// valid only for UUIDs in the Bluetooth base range (0000XXXX-0000-1000-8000-00805F9B34FB).
func (u UUID) ShortForm() string {
	return fmt.Sprintf("%02X%02X", u[2], u[3])
}

// Reversed returns the UUID with all 16 bytes reversed, the form the TNP wire
// codec transmits. Reversal is its own inverse, so Reversed applied twice is
// the identity.
func (u UUID) Reversed() UUID {
	var r UUID
	for i := 0; i < 16; i++ {
		r[i] = u[15-i]
	}
	return r
}
