package incidents

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	tokenBytes     = 32
	maxTokenLength = 128
)

// TokenGenerator mints the public verification token of a version.
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokens encodes 256 random bits as unpadded base64url. Nothing about the
// incident goes into the token.
type RandomTokens struct {
	// Reader defaults to crypto/rand.
	Reader io.Reader
}

func (g RandomTokens) Generate() (string, error) {
	src := g.Reader
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// wellFormedToken rejects input that no generator could have produced so the store
// is never queried for it.
func wellFormedToken(token string) bool {
	if token == "" || len(token) > maxTokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
