// Package security provides the gateway's process-local signing secret.
// The token secret authenticates session tokens (HS256); it is generated
// once and persisted to disk so restarts don't invalidate live sessions.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// secretBytes is the amount of entropy generated for a fresh token secret.
const secretBytes = 32

// LoadOrCreateSecret loads the token secret from gatewayHome/keys/token.secret,
// or generates and persists a new one on first run.
func LoadOrCreateSecret(gatewayHome string) ([]byte, error) {
	keyDir := filepath.Join(gatewayHome, "keys")
	secretPath := filepath.Join(keyDir, "token.secret")

	if raw, err := os.ReadFile(secretPath); err == nil {
		secret, decodeErr := hex.DecodeString(string(raw))
		if decodeErr != nil {
			return nil, fmt.Errorf("decode token secret: %w", decodeErr)
		}
		return secret, nil
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(secretPath, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, fmt.Errorf("write token secret: %w", err)
	}
	return secret, nil
}

// GenerateSecret returns a fresh, random token-signing secret.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}
	return secret, nil
}

// GenerateAPIKey returns a URL-safe API key with at least 32 bytes of
// entropy, per the principal invariant in the specification.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
