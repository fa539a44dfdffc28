// Package service contains the business logic layer.
//
// Services orchestrate repositories, external collaborators, and domain
// logic. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Transaction coordination
// - Error translation (database errors -> domain errors)
package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy for invite, link, and session tokens.
// 32 bytes = 256 bits, hex-encoded to 64 characters.
const tokenBytes = 32

// generateToken returns a new raw token and its storage hash. Only the
// hash is persisted; the raw token is handed out exactly once.
func generateToken() (raw, hash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	raw = hex.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

// hashToken returns the SHA-256 hex digest used to look tokens up.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
