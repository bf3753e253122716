package identity

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/goliatone/go-errors"
)

// randomTokenGenerator mints opaque tokens from crypto/rand, base64url
// encoded without padding.
type randomTokenGenerator struct{}

// NewTokenGenerator returns the default opaque token generator.
func NewTokenGenerator() TokenGenerator {
	return randomTokenGenerator{}
}

func (randomTokenGenerator) GenerateToken(length int) (string, error) {
	if length <= 0 {
		length = 32
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate token")
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
