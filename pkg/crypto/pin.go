package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for PIN hashing. The stored format is
// "scrypt$<salt b64>$<hash b64>".
const (
	scryptN       = 1 << 14
	scryptR       = 8
	scryptP       = 1
	scryptSaltLen = 16
	scryptKeyLen  = 64
)

var (
	ErrInvalidPIN        = errors.New("pin must be exactly 6 digits")
	ErrInvalidPINHash    = errors.New("malformed pin hash")
	ErrUnsupportedScheme = errors.New("unsupported pin hash scheme")

	randomRead = rand.Read
)

// NormalizePIN strips whitespace and validates the 6-digit format.
func NormalizePIN(pin string) (string, error) {
	trimmed := strings.Join(strings.Fields(pin), "")
	if len(trimmed) != 6 {
		return "", ErrInvalidPIN
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", ErrInvalidPIN
		}
	}
	return trimmed, nil
}

// HashPIN derives a scrypt hash of the PIN with a fresh random salt.
func HashPIN(pin string) (string, error) {
	normalized, err := NormalizePIN(pin)
	if err != nil {
		return "", err
	}

	salt := make([]byte, scryptSaltLen)
	if _, err := randomRead(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(normalized), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("failed to derive pin hash: %w", err)
	}

	return "scrypt$" + base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(key), nil
}

// VerifyPIN checks a PIN against a stored hash in constant time.
func VerifyPIN(pin, stored string) (bool, error) {
	normalized, err := NormalizePIN(pin)
	if err != nil {
		return false, err
	}

	parts := strings.Split(stored, "$")
	if len(parts) != 3 {
		return false, ErrInvalidPINHash
	}
	if parts[0] != "scrypt" {
		return false, ErrUnsupportedScheme
	}

	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, ErrInvalidPINHash
	}
	expected, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, ErrInvalidPINHash
	}

	key, err := scrypt.Key([]byte(normalized), salt, scryptN, scryptR, scryptP, len(expected))
	if err != nil {
		return false, fmt.Errorf("failed to derive pin hash: %w", err)
	}

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// GenerateRandomToken generates a random hex token of length bytes.
func GenerateRandomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := randomRead(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
