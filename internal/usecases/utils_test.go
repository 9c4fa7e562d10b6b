package usecases

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateMSISDN(t *testing.T) {
	valid := []string{"254712345678", "254100000000", "254799999999"}
	for _, phone := range valid {
		require.NoError(t, validateMSISDN(phone), phone)
	}

	invalid := []string{"", "0712345678", "712345678", "254912345678", "25471234567", "2547123456789", "+254712345678"}
	for _, phone := range invalid {
		err := validateMSISDN(phone)
		require.Error(t, err, phone)
		require.Contains(t, err.Error(), "254[7|1]XXXXXXXX")
	}
}

func TestValidateShortcode(t *testing.T) {
	require.NoError(t, validateShortcode("12345", "paybill number"))
	require.NoError(t, validateShortcode("12345678", "paybill number"))

	err := validateShortcode("1234", "paybill number")
	require.Error(t, err)
	require.Contains(t, err.Error(), "paybill number must be 5-8 digits")

	require.Error(t, validateShortcode("123456789", "till number"))
	require.Error(t, validateShortcode("12a45", "till number"))
}

func TestValidateAccountReference(t *testing.T) {
	require.NoError(t, validateAccountReference("AB"))
	require.NoError(t, validateAccountReference(strings.Repeat("x", 20)))

	require.Error(t, validateAccountReference("A"))
	require.Error(t, validateAccountReference(strings.Repeat("x", 21)))
}

func TestValidateIdempotencyKey(t *testing.T) {
	require.NoError(t, ValidateIdempotencyKey("offramp:test-key-001"))
	require.NoError(t, ValidateIdempotencyKey("a1b2c3d4"))
	require.NoError(t, ValidateIdempotencyKey(strings.Repeat("k", 128)))

	err := ValidateIdempotencyKey("")
	require.Error(t, err)
	require.Equal(t, "Idempotency-Key header is required", err.Error())

	err = ValidateIdempotencyKey("short")
	require.Error(t, err)
	require.Equal(t, "Idempotency-Key must be 8-128 characters", err.Error())

	err = ValidateIdempotencyKey(strings.Repeat("k", 129))
	require.Error(t, err)
	require.Equal(t, "Idempotency-Key must be 8-128 characters", err.Error())

	err = ValidateIdempotencyKey("has spaces here")
	require.Error(t, err)
	require.Equal(t, "Idempotency-Key contains unsupported characters", err.Error())
}

func TestRounding(t *testing.T) {
	require.Equal(t, 27.9, round2(27.899999))
	require.Equal(t, 1013.0, round2(1012.999))
	require.Equal(t, 7.69, round2(1000.0/130.0))
	require.Equal(t, 6.451807, round6(6.4518069))
}
