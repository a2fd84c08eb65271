package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SecretPrefix marks live credentials.
const SecretPrefix = "pk_live_"

const secretEntropyBytes = 32

// GenerateSecret returns a new raw credential secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credential secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(buf), nil
}

// HashSecret returns the lookup hash stored in place of a raw secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// secretPrefix returns the first eight characters suitable for hints.
func secretPrefix(value string) string {
	if len(value) >= 8 {
		return value[:8]
	}
	return value
}

// secretSuffix returns the last four characters suitable for hints.
func secretSuffix(value string) string {
	if len(value) >= 4 {
		return value[len(value)-4:]
	}
	return value
}

// Mask renders a stored prefix and suffix as a display hint.
func Mask(prefix, suffix string) string {
	return prefix + "..." + suffix
}
