package shortcode

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyLen is the length of a hex fingerprint (128 bits).
const KeyLen = 32

// Fingerprint hashes a canonical argument string into a fixed-length hex key.
// The first 16 bytes of SHA-256 are kept; the digest has no seed, so keys are
// stable across processes and platforms.
func Fingerprint(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:KeyLen/2])
}

// Key canonicalizes args and returns their fingerprint.
func Key(args Args, format KeyFormat) (string, error) {
	canonical, err := Canonicalize(args, format)
	if err != nil {
		return "", err
	}
	return Fingerprint(canonical), nil
}

func validKey(key string) bool {
	if len(key) != KeyLen {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
