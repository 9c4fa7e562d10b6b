package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
)

func TestBuildQuoteOnrampKES(t *testing.T) {
	u := NewQuoteUsecase(testMpesaCfg(), newMemTxRepo())

	quote, err := u.BuildQuote(entities.QuoteInput{
		FlowType: entities.FlowOnramp,
		Amount:   1000,
		Currency: entities.CurrencyKES,
	})
	require.NoError(t, err)

	require.Equal(t, 1000.0, quote.AmountKes)
	require.Equal(t, 7.69, quote.AmountUsd)
	require.Equal(t, 130.0, quote.RateKesPerUsd)
	require.Equal(t, 13.0, quote.FeeAmountKes)
	require.Equal(t, 0.0, quote.NetworkFeeKes)
	require.Equal(t, 1013.0, quote.TotalDebitKes)
	require.Equal(t, 1000.0, quote.ExpectedReceiveKes)
	require.NotEmpty(t, quote.QuoteID)
	require.Equal(t, quote.SnapshotAt.Add(300*time.Second), quote.ExpiresAt)
}

func TestBuildQuoteOfframpUSDWithRateOverride(t *testing.T) {
	u := NewQuoteUsecase(testMpesaCfg(), newMemTxRepo())

	quote, err := u.BuildQuote(entities.QuoteInput{
		FlowType:  entities.FlowOfframp,
		Amount:    10,
		Currency:  entities.CurrencyUSD,
		KesPerUsd: 155,
	})
	require.NoError(t, err)

	require.Equal(t, 1550.0, quote.AmountKes)
	require.Equal(t, 10.0, quote.AmountUsd)
	require.Equal(t, 155.0, quote.RateKesPerUsd)
	require.Equal(t, 27.9, quote.FeeAmountKes)
	require.Equal(t, 3.0, quote.NetworkFeeKes)
	require.Equal(t, 1580.9, quote.TotalDebitKes)
	require.Equal(t, 1550.0, quote.ExpectedReceiveKes)
}

func TestBuildQuoteFeeFloor(t *testing.T) {
	u := NewQuoteUsecase(testMpesaCfg(), newMemTxRepo())

	quote, err := u.BuildQuote(entities.QuoteInput{
		FlowType: entities.FlowOnramp,
		Amount:   100,
		Currency: entities.CurrencyKES,
	})
	require.NoError(t, err)

	// 1.3% of 100 is 1.30, below the 5 KES floor.
	require.Equal(t, 5.0, quote.FeeAmountKes)
	require.Equal(t, 105.0, quote.TotalDebitKes)
}

func TestBuildQuoteRejectsBadInput(t *testing.T) {
	u := NewQuoteUsecase(testMpesaCfg(), newMemTxRepo())

	cases := []struct {
		name  string
		input entities.QuoteInput
	}{
		{"unknown flow", entities.QuoteInput{FlowType: "swap", Amount: 10, Currency: entities.CurrencyKES}},
		{"zero amount", entities.QuoteInput{FlowType: entities.FlowOnramp, Amount: 0, Currency: entities.CurrencyKES}},
		{"negative amount", entities.QuoteInput{FlowType: entities.FlowOnramp, Amount: -5, Currency: entities.CurrencyKES}},
		{"unknown currency", entities.QuoteInput{FlowType: entities.FlowOnramp, Amount: 10, Currency: "EUR"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := u.BuildQuote(tc.input)
			require.ErrorIs(t, err, domainerrors.ErrValidation)
		})
	}
}

func TestBuildQuoteMissingRate(t *testing.T) {
	cfg := testMpesaCfg()
	cfg.KesPerUsd = 0
	u := NewQuoteUsecase(cfg, newMemTxRepo())

	_, err := u.BuildQuote(entities.QuoteInput{
		FlowType: entities.FlowOnramp,
		Amount:   10,
		Currency: entities.CurrencyKES,
	})
	require.ErrorIs(t, err, domainerrors.ErrConfig)
}

func TestCreateQuotedTransactionPersistsQuotedState(t *testing.T) {
	repo := newMemTxRepo()
	u := NewQuoteUsecase(testMpesaCfg(), repo)

	tx, err := u.CreateQuotedTransaction(context.Background(), "0xabc", entities.QuoteInput{
		FlowType: entities.FlowOfframp,
		Amount:   1000,
		Currency: entities.CurrencyKES,
		Phone:    "254712345678",
	}, entities.Metadata{Source: "api"})
	require.NoError(t, err)

	require.Equal(t, entities.StatusQuoted, tx.Status)
	require.Equal(t, "254712345678", tx.Targets.Phone)
	require.Len(t, tx.History, 1)
	require.Equal(t, entities.StatusCreated, tx.History[0].From)
	require.Equal(t, entities.StatusQuoted, tx.History[0].To)

	stored, err := repo.GetByQuoteID(context.Background(), tx.Quote.QuoteID)
	require.NoError(t, err)
	require.Equal(t, tx.TransactionID, stored.TransactionID)
	require.EqualValues(t, 1, stored.Version)
}
