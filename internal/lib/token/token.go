// Package token mints the opaque one-time tokens used for email
// verification and password resets.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// New returns a hex-encoded token drawn from crypto/rand. Uniqueness is
// enforced by the store's unique indexes, not by the generator.
func New() (string, error) {
	const op = "lib.token.New"

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return hex.EncodeToString(buf), nil
}
