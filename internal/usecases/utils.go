package usecases

import (
	"math"
	"regexp"
	"strings"

	domainerrors "dotpay.backend/internal/domain/errors"
)

var (
	msisdnRe         = regexp.MustCompile(`^254[71]\d{8}$`)
	shortcodeRe      = regexp.MustCompile(`^\d{5,8}$`)
	idempotencyKeyRe = regexp.MustCompile(`^[A-Za-z0-9_\-:.]+$`)
)

// round2 rounds to 2 decimals (KES display/storage precision).
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// round6 rounds to 6 decimals (USD display/storage precision).
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// validateMSISDN checks the Kenyan mobile format 254[7|1]XXXXXXXX.
func validateMSISDN(phone string) error {
	if !msisdnRe.MatchString(phone) {
		return domainerrors.Validation("phone must match 254[7|1]XXXXXXXX")
	}
	return nil
}

// validateShortcode checks a paybill or till number (5-8 digits).
func validateShortcode(number, label string) error {
	if !shortcodeRe.MatchString(number) {
		return domainerrors.Validation(label + " must be 5-8 digits")
	}
	return nil
}

// validateAccountReference checks a merchant account reference (2-20 chars).
func validateAccountReference(ref string) error {
	if len(ref) < 2 || len(ref) > 20 {
		return domainerrors.Validation("account reference must be 2-20 characters")
	}
	return nil
}

// ValidateIdempotencyKey enforces the initiate idempotency key format:
// 8-128 chars of [A-Za-z0-9_-:.]. Shared with the HTTP middleware.
func ValidateIdempotencyKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domainerrors.Validation("Idempotency-Key header is required")
	}
	if len(key) < idempotencyKeyMinLen || len(key) > idempotencyKeyMaxLen {
		return domainerrors.Validation("Idempotency-Key must be 8-128 characters")
	}
	if !idempotencyKeyRe.MatchString(key) {
		return domainerrors.Validation("Idempotency-Key contains unsupported characters")
	}
	return nil
}
