package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateShareID returns a random URL-safe id for a website share link.
func GenerateShareID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate share id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
