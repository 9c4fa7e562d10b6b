package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")

	addressRe = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
	txHashRe  = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
)

// IsHexAddress reports whether s is a lowercase 20-byte hex address.
func IsHexAddress(s string) bool {
	return addressRe.MatchString(s)
}

// IsTxHash reports whether s is a lowercase 32-byte hex hash.
func IsTxHash(s string) bool {
	return txHashRe.MatchString(s)
}

// NormalizeAddress lowercases an EVM address and validates its shape.
func NormalizeAddress(s string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(s))
	if !IsHexAddress(addr) {
		return "", fmt.Errorf("invalid evm address: %q", s)
	}
	return addr, nil
}

// RecoverPersonalSigner recovers the lowercase signer address of an EIP-191
// personal-sign signature over message.
func RecoverPersonalSigner(message, signature string) (string, error) {
	sigHex := strings.TrimPrefix(signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", ErrInvalidSignature
	}
	if len(sig) != 65 {
		return "", ErrInvalidSignature
	}

	// Wallets return v as 27/28; SigToPub wants 0/1.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return "", ErrInvalidSignature
	}

	digest := accounts.TextHash([]byte(message))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", ErrInvalidSignature
	}

	return strings.ToLower(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}
