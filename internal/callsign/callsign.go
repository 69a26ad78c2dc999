// Package callsign implements the M17 Base-40 callsign encoding: a 6-byte
// wire field holding a big-endian base-40 expansion of a 1-9 character
// callsign string.
package callsign

import "strings"

// Alphabet is the 40-symbol Base-40 charset. Position 0 is space.
const Alphabet = " ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-/."

const (
	// EncodedLen is the wire length of an encoded callsign field.
	EncodedLen = 6
	// maxChars is the maximum number of symbols a callsign can carry.
	maxChars = 9
	// base40Ceiling is 40^9, the first value that cannot be represented.
	base40Ceiling = 262144000000000
	// Broadcast is the reserved callsign meaning "all stations".
	Broadcast = "ALL"
	// broadcastPadded is the 10-char padded form some peers emit.
	broadcastPadded = " ALL      "
)

// allOnes is the all-0xFF wire encoding reserved for the broadcast callsign.
var allOnes = [EncodedLen]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Decode converts a 6-byte Base-40 wire field into its callsign string.
// The all-0xFF encoding decodes to "ALL"; values at or above 40^9 are
// invalid and decode to the empty string. Trailing space symbols are not
// trimmed: callsigns are right-padded with spaces on the wire and the
// decoder stops emitting once the accumulator reaches zero, which is the
// intended round-trip behavior (see callsign_test.go).
func Decode(encoded []byte) string {
	if len(encoded) < EncodedLen {
		return ""
	}
	encoded = encoded[:EncodedLen]

	allFF := true
	for _, b := range encoded {
		if b != 0xFF {
			allFF = false
			break
		}
	}
	if allFF {
		return Broadcast
	}

	v := uint64(encoded[0])<<40 | uint64(encoded[1])<<32 | uint64(encoded[2])<<24 |
		uint64(encoded[3])<<16 | uint64(encoded[4])<<8 | uint64(encoded[5])

	if v >= base40Ceiling {
		return ""
	}

	var sb strings.Builder
	for v > 0 {
		sb.WriteByte(Alphabet[v%40])
		v /= 40
	}
	return sb.String()
}

// Encode converts a callsign string into its 6-byte Base-40 wire field.
// "ALL" and its 10-char padded form encode to all-0xFF. The string is
// trimmed of surrounding whitespace and truncated to 9 characters;
// characters outside the alphabet map to position 0 (space).
func Encode(call string) [EncodedLen]byte {
	if call == Broadcast || call == broadcastPadded {
		return allOnes
	}

	trimmed := strings.TrimSpace(call)
	if len(trimmed) > maxChars {
		trimmed = trimmed[:maxChars]
	}

	var v uint64
	for i := len(trimmed) - 1; i >= 0; i-- {
		pos := strings.IndexByte(Alphabet, trimmed[i])
		if pos < 0 {
			pos = 0
		}
		v = v*40 + uint64(pos)
	}

	var encoded [EncodedLen]byte
	encoded[0] = byte(v >> 40)
	encoded[1] = byte(v >> 32)
	encoded[2] = byte(v >> 24)
	encoded[3] = byte(v >> 16)
	encoded[4] = byte(v >> 8)
	encoded[5] = byte(v)
	return encoded
}
