package daraja

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"dotpay.backend/internal/config"
)

// validCiphertextLens are the RSA ciphertext sizes Daraja accepts, one per
// supported key size (1024 through 4096 bits).
var validCiphertextLens = map[int]bool{128: true, 192: true, 256: true, 384: true, 512: true}

var ErrInvalidSecurityCredential = errors.New("security credential is not a valid RSA ciphertext")

// SecurityCredential is the encrypted initiator password attached to B2C/B2B
// and status-query requests.
type SecurityCredential struct {
	value string
}

func (s *SecurityCredential) Value() string {
	if s == nil {
		return ""
	}
	return s.value
}

// ResolveSecurityCredential produces the credential in precedence order:
// an explicitly configured ciphertext, a cert-derived encryption of the
// initiator password, or (sandbox only) a simulated credential so the
// sandbox flow works without the provider certificate on disk.
func ResolveSecurityCredential(cfg config.MpesaConfig) (*SecurityCredential, error) {
	if cfg.SecurityCredential != "" {
		if err := validateCiphertext(cfg.SecurityCredential); err != nil {
			return nil, err
		}
		return &SecurityCredential{value: cfg.SecurityCredential}, nil
	}

	if cfg.CertPath != "" && cfg.InitiatorPassword != "" {
		certPEM, err := os.ReadFile(cfg.CertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read provider cert %s: %w", cfg.CertPath, err)
		}
		value, err := EncryptInitiatorPassword(cfg.InitiatorPassword, certPEM)
		if err != nil {
			return nil, err
		}
		return &SecurityCredential{value: value}, nil
	}

	if cfg.Sandbox() {
		// Sandbox accepts a placeholder; real credentials are production-only.
		return &SecurityCredential{value: base64.StdEncoding.EncodeToString([]byte(cfg.InitiatorPassword))}, nil
	}

	return nil, errors.New("production requires MPESA_SECURITY_CREDENTIAL or MPESA_CERT_PATH with MPESA_INITIATOR_PASSWORD")
}

// EncryptInitiatorPassword encrypts the initiator password with the public
// key of the provider's X.509 certificate using PKCS#1 v1.5, base64-encoded.
func EncryptInitiatorPassword(password string, certPEM []byte) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", errors.New("provider cert is not PEM-encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse provider cert: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return "", errors.New("provider cert does not carry an RSA public key")
	}
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt initiator password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// validateCiphertext checks a configured credential decodes to one of the
// RSA ciphertext lengths the provider accepts.
func validateCiphertext(credential string) error {
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return fmt.Errorf("%w: not base64", ErrInvalidSecurityCredential)
	}
	if !validCiphertextLens[len(raw)] {
		return fmt.Errorf("%w: ciphertext length %d", ErrInvalidSecurityCredential, len(raw))
	}
	return nil
}
