package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// SHA256Hex returns the hex-encoded SHA256 hash of the input string.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// ShortHex returns the first n hex characters of SHA256(input).
// Used to correlate log lines without writing raw identifiers.
func ShortHex(input string, n int) string {
	full := SHA256Hex(input)
	if n <= 0 || n > len(full) {
		return full
	}
	return full[:n]
}

// AdvisoryKey maps a string key onto the int64 key space of Postgres
// advisory locks. Collisions only over-serialize unrelated keys.
func AdvisoryKey(key string) int64 {
	h := sha256.Sum256([]byte(key))
	return int64(binary.BigEndian.Uint64(h[:8]))
}
