package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlowType(t *testing.T) {
	require.False(t, FlowOnramp.IsFunded())
	require.True(t, FlowOfframp.IsFunded())
	require.True(t, FlowPaybill.IsFunded())
	require.True(t, FlowBuygoods.IsFunded())

	require.True(t, FlowOnramp.Valid())
	require.False(t, FlowType("swap").Valid())
	require.False(t, FlowType("").Valid())
}

func TestQuoteExpired(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := &Quote{ExpiresAt: expiry}

	require.False(t, q.Expired(expiry))
	require.False(t, q.Expired(expiry.Add(-time.Second)))
	require.True(t, q.Expired(expiry.Add(time.Millisecond)))
}

func TestTerminal(t *testing.T) {
	require.True(t, (&Transaction{Status: StatusSucceeded}).Terminal())
	require.True(t, (&Transaction{Status: StatusRefunded}).Terminal())
	require.False(t, (&Transaction{Status: StatusFailed}).Terminal())
	require.False(t, (&Transaction{Status: StatusMpesaProcessing}).Terminal())
}

func TestTargetDescriptor(t *testing.T) {
	tx := &Transaction{FlowType: FlowOnramp}
	require.Equal(t, "onramp", tx.TargetDescriptor())

	tx = &Transaction{FlowType: FlowOfframp, Targets: Targets{Phone: "254712345678"}}
	require.Equal(t, "phone:254712345678", tx.TargetDescriptor())

	tx = &Transaction{FlowType: FlowPaybill, Targets: Targets{PaybillNumber: "888880", AccountReference: "INV-42"}}
	require.Equal(t, "paybill:888880:INV-42", tx.TargetDescriptor())

	tx = &Transaction{FlowType: FlowBuygoods, Targets: Targets{TillNumber: "123456", AccountReference: "store-9"}}
	require.Equal(t, "buygoods:123456:store-9", tx.TargetDescriptor())

	// Buygoods without an account reference falls back to the platform label.
	tx = &Transaction{FlowType: FlowBuygoods, Targets: Targets{TillNumber: "123456"}}
	require.Equal(t, "buygoods:123456:DotPay", tx.TargetDescriptor())
}
