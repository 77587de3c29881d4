package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrKeyTooShort = errors.New("operator key must be at least 12 characters")

const (
	keyCost      = 12
	minKeyLength = 12
)

// HashKey hashes the operator key at boot. Only the hash is kept in memory;
// the back-office gate compares against it on every request.
func HashKey(key string) (string, error) {
	if len(key) < minKeyLength {
		return "", ErrKeyTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), keyCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckKey reports whether the presented key matches the boot-time hash.
func CheckKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
