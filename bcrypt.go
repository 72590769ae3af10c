package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MagicTokenBytes is the amount of randomness in a magic link token
const MagicTokenBytes = 32

// GenerateMagicToken returns a new random token, hex encoded
func GenerateMagicToken() (string, error) {
	buf := make([]byte, MagicTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate magic token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashMagicToken will generate a token hash for storage
func HashMagicToken(token string) (string, error) {
	if token == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(token), magicTokenHashCost())
	return string(h), err
}

// CompareMagicToken will validate the given cleartext token
// matches the stored hash
func CompareMagicToken(token, hash string) error {
	if token == "" || hash == "" {
		return ErrMagicLinkInvalid
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMagicLinkInvalid
		}
		return err
	}
	return nil
}
