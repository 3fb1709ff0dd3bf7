// Package apikey issues credential tokens for API key records.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// DefaultPrefix prefixes every issued key unless configured otherwise.
const DefaultPrefix = "sk-"

// DefaultLength is the default total key length including the prefix.
const DefaultLength = 51

// Generate returns a credential token composed of prefix plus hex-encoded
// random bytes, sized so the whole token is at most length characters. At
// least one random byte is always drawn, so a short length still yields a
// usable token.
func Generate(prefix string, length int) (string, error) {
	body := length - len(prefix)
	if body < 2 {
		body = 2
	}
	// Each random byte becomes two hex digits.
	raw := make([]byte, body/2)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return prefix + hex.EncodeToString(raw), nil
}
