package incidents

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// TokenFingerprint is a short, non-reversible handle for a token so logs can
// correlate lookups without holding the credential itself.
func TokenFingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
