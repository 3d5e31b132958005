package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// APIKeyPrefix marks user API keys so they can be told apart from JWTs
const APIKeyPrefix = "inb_"

// GenerateAPIKey creates a random API key. The returned hash is the
// hex-encoded SHA-256 digest of the full key; only the hash is stored.
func GenerateAPIKey() (string, string, error) {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return "", "", fmt.Errorf("generate key entropy: %w", err)
	}

	key := APIKeyPrefix + hex.EncodeToString(entropy)
	return key, Hash(key), nil
}

// GenerateSecret returns a random hex secret of n bytes of entropy
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash returns the hex SHA-256 digest of a token
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IsAPIKey reports whether the bearer value looks like an API key
func IsAPIKey(token string) bool {
	return strings.HasPrefix(token, APIKeyPrefix)
}

// Prefix returns the displayable head of a key
func Prefix(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 12 {
		return token
	}
	return token[:12]
}
