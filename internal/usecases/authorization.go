package usecases

import (
	"fmt"
	"strings"
	"time"

	"dotpay.backend/internal/config"
	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	pkgcrypto "dotpay.backend/pkg/crypto"
)

// signedAtFutureSkew is how far in the future a signature timestamp may sit
// before it is rejected as clock drift.
const signedAtFutureSkew = 60 * time.Second

// AuthorizationVerifier validates the PIN and the wallet signature attached
// to a funded initiate request.
type AuthorizationVerifier struct {
	cfg config.MpesaConfig
	now func() time.Time
}

// NewAuthorizationVerifier creates the verifier.
func NewAuthorizationVerifier(cfg config.MpesaConfig) *AuthorizationVerifier {
	return &AuthorizationVerifier{cfg: cfg, now: time.Now}
}

// BuildAuthorizationMessage renders the canonical message the wallet signs.
// It must be byte-identical between client and server.
func BuildAuthorizationMessage(tx *entities.Transaction, nonce, signedAt string) string {
	lines := []string{
		"DotPay Authorization",
		"Transaction: " + tx.TransactionID,
		"Flow: " + string(tx.FlowType),
		"Quote: " + tx.Quote.QuoteID,
		fmt.Sprintf("AmountKES: %.2f", tx.Quote.TotalDebitKes),
		fmt.Sprintf("AmountUSDC: %.6f", tx.Onchain.ExpectedAmountUsd),
		"Target: " + tx.TargetDescriptor(),
		"Nonce: " + nonce,
		"SignedAt: " + signedAt,
	}
	return strings.Join(lines, "\n")
}

// VerifyPIN checks the request PIN against the caller-supplied hash.
func (v *AuthorizationVerifier) VerifyPIN(pin, pinHash string) error {
	if pinHash == "" {
		return domainerrors.Unauthorized("pin hash is required")
	}
	ok, err := pkgcrypto.VerifyPIN(pin, pinHash)
	if err != nil {
		return domainerrors.Unauthorized("invalid pin: " + err.Error())
	}
	if !ok {
		return domainerrors.Unauthorized("pin mismatch")
	}
	return nil
}

// VerifySignature recovers the EIP-191 signer of the canonical message and
// checks it matches the authenticated user, plus freshness of signedAt.
// The recovered address is recorded on the transaction.
func (v *AuthorizationVerifier) VerifySignature(tx *entities.Transaction, userAddress, signature, signedAt, nonce string) error {
	if len(nonce) < 8 {
		return domainerrors.Unauthorized("nonce must be at least 8 characters")
	}
	if len(signature) < 24 {
		return domainerrors.Unauthorized("signature is too short")
	}
	if err := v.checkFreshness(signedAt); err != nil {
		return err
	}

	message := BuildAuthorizationMessage(tx, nonce, signedAt)
	signer, err := pkgcrypto.RecoverPersonalSigner(message, signature)
	if err != nil {
		return domainerrors.Unauthorized("signature recovery failed")
	}
	if signer != strings.ToLower(userAddress) {
		return domainerrors.Unauthorized("signature does not match authenticated wallet")
	}

	tx.Authorization = entities.Authorization{
		PINProvided:   true,
		Signature:     signature,
		SignerAddress: signer,
		SignedAt:      signedAt,
		Nonce:         nonce,
	}
	if tx.Metadata.Extra == nil {
		tx.Metadata.Extra = map[string]interface{}{}
	}
	tx.Metadata.Extra["authorizationMessage"] = message
	return nil
}

// checkFreshness bounds signedAt to at most signatureMaxAgeSeconds in the
// past and 60s in the future. The raw string is parsed as RFC 3339 or as a
// unix timestamp (seconds or milliseconds).
func (v *AuthorizationVerifier) checkFreshness(signedAt string) error {
	ts, err := parseSignedAt(signedAt)
	if err != nil {
		return domainerrors.Unauthorized("signedAt is not a recognised timestamp")
	}

	now := v.now().UTC()
	maxAge := time.Duration(v.cfg.SignatureMaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = 600 * time.Second
	}
	if ts.After(now.Add(signedAtFutureSkew)) {
		return domainerrors.Unauthorized("signature timestamp is in the future")
	}
	if now.Sub(ts) > maxAge {
		return domainerrors.Unauthorized("signature has expired")
	}
	return nil
}

func parseSignedAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty signedAt")
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	var unix int64
	if _, err := fmt.Sscanf(raw, "%d", &unix); err == nil {
		// Millisecond timestamps are 13 digits for current dates.
		if unix > 1e12 {
			return time.UnixMilli(unix).UTC(), nil
		}
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable signedAt %q", raw)
}
