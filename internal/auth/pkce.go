// Package auth implements interactive authorization against the Remote:
// an RFC 7636 PKCE code flow over a one-shot loopback HTTP server, plus
// a file-backed token cache.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierBytes is the entropy behind a code verifier. 96 random bytes
// encode to a 128-character verifier, the RFC 7636 maximum.
const verifierBytes = 96

// newVerifier generates a fresh PKCE code verifier.
func newVerifier() (string, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// challengeS256 derives the S256 code challenge for a verifier.
func challengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
