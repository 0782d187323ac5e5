// Package util provides shared utility functions.
package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPassword returns the hex-encoded SHA-256 digest of a room password.
// The digest travels inside the channel-level hello; the relay never sees the
// password or compares hashes — that is the application's job.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
