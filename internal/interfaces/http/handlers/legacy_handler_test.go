package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestLegacyDeposit(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(http.MethodPost, "/api/mpesa/legacy/deposit", gin.H{
		"phone":  "254712345678",
		"amount": 500,
	}, nil)
	require.Equal(t, 201, w.Code)
	require.Equal(t, "true", w.Header().Get("Deprecation"))
	require.NotEmpty(t, w.Header().Get("Sunset"))
	require.Contains(t, w.Body.String(), "deprecated endpoint")

	data := dataField(t, w)
	tx, ok := data["transaction"].(map[string]interface{})
	require.True(t, ok)
	// Legacy accounts are keyed by phone in place of a wallet address.
	require.Equal(t, "legacy:254712345678", tx["userAddress"])
	require.Equal(t, "mpesa_processing", tx["status"])
}

func TestLegacyDepositValidation(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(http.MethodPost, "/api/mpesa/legacy/deposit", gin.H{
		"phone": "254712345678",
	}, nil)
	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "invalid request body")
}
