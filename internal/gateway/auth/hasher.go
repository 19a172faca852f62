package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// SystemKeyPrefix marks gateway-issued keys.
	SystemKeyPrefix = "llm0_"
	// EndUserKeyPrefix marks keys issued to end users.
	EndUserKeyPrefix = "usr_"

	// KeyLength is the number of random bytes in a generated key.
	KeyLength = 32
	// KeyPrefixLength is how much of a key is kept for display.
	KeyPrefixLength = 12
)

// HashKey returns the stored form of a credential: hex(sha256(salt ":" plaintext)).
func HashKey(salt, plaintext string) string {
	h := sha256.Sum256([]byte(salt + ":" + plaintext))
	return hex.EncodeToString(h[:])
}

// GenerateKey returns a new random key with the given prefix and its hash.
func GenerateKey(salt, prefix string) (plaintext, hash string, err error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("generate random bytes: %w", err)
	}

	plaintext = prefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return plaintext, HashKey(salt, plaintext), nil
}

// DisplayPrefix returns the first characters of a key for identification.
func DisplayPrefix(key string) string {
	if len(key) <= KeyPrefixLength {
		return key
	}
	return key[:KeyPrefixLength]
}
