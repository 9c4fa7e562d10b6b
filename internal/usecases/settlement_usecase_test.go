package usecases

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/pkg/utils"
)

func processingOnrampTx() *entities.Transaction {
	now := time.Now().UTC()
	return &entities.Transaction{
		TransactionID: utils.NewTransactionID(),
		FlowType:      entities.FlowOnramp,
		Status:        entities.StatusMpesaProcessing,
		UserAddress:   "0xabc0000000000000000000000000000000000001",
		Quote: &entities.Quote{
			QuoteID:       utils.NewQuoteID(),
			AmountKes:     1000,
			AmountUsd:     7.69,
			RateKesPerUsd: 130,
			TotalDebitKes: 1013,
		},
		Onchain:   entities.Onchain{VerificationStatus: entities.VerificationNotRequired},
		Refund:    entities.Refund{Status: entities.RefundNone},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSettleSandboxCreditsAndSucceeds(t *testing.T) {
	repo := newMemTxRepo()
	tx := processingOnrampTx()
	require.NoError(t, repo.Create(context.Background(), tx))

	s := NewOnrampSettler(testMpesaCfg(), testTreasuryCfg(), repo, nil)
	require.NoError(t, s.Settle(context.Background(), tx.TransactionID))

	stored, err := repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, entities.StatusSucceeded, stored.Status)
	require.Equal(t, entities.VerificationVerified, stored.Onchain.VerificationStatus)
	require.True(t, strings.HasPrefix(stored.Onchain.TxHash, "RF_"), stored.Onchain.TxHash)
	require.Equal(t, "7690000", stored.Onchain.FundedAmountUnits)
	require.Equal(t, 7.69, stored.Onchain.FundedAmountUsd)
	require.Equal(t, stored.UserAddress, stored.Onchain.ToAddress)
}

func TestSettleIdempotent(t *testing.T) {
	repo := newMemTxRepo()
	tx := processingOnrampTx()
	require.NoError(t, repo.Create(context.Background(), tx))

	s := NewOnrampSettler(testMpesaCfg(), testTreasuryCfg(), repo, nil)
	require.NoError(t, s.Settle(context.Background(), tx.TransactionID))

	first, err := repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)

	require.NoError(t, s.Settle(context.Background(), tx.TransactionID))

	second, err := repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, first.Onchain.TxHash, second.Onchain.TxHash)
	require.Equal(t, first.Version, second.Version)
	require.Len(t, second.History, len(first.History))
}

func TestSettleWithSignerTransfersToUser(t *testing.T) {
	repo := newMemTxRepo()
	tx := processingOnrampTx()
	require.NoError(t, repo.Create(context.Background(), tx))

	treasury := testTreasuryCfg()
	treasury.RPCURL = "stub://treasury"
	treasury.PrivateKey = "0xdeadbeef"
	signer := &stubSigner{
		addr:     testTreasury,
		decimals: 6,
		txHash:   "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc",
	}
	s := NewOnrampSettler(testMpesaCfg(), treasury, repo, signer)

	require.NoError(t, s.Settle(context.Background(), tx.TransactionID))

	require.Equal(t, 1, signer.transfers)
	require.Equal(t, tx.UserAddress, signer.lastRecipient)
	require.Equal(t, "7690000", signer.lastUnits.String())

	stored, err := repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, signer.txHash, stored.Onchain.TxHash)
	require.Equal(t, entities.StatusSucceeded, stored.Status)
}

func TestSettleCreditFailureIsRetryable(t *testing.T) {
	repo := newMemTxRepo()
	tx := processingOnrampTx()
	require.NoError(t, repo.Create(context.Background(), tx))

	treasury := testTreasuryCfg()
	treasury.RPCURL = "stub://treasury"
	treasury.PrivateKey = "0xdeadbeef"
	signer := &stubSigner{addr: testTreasury, decimals: 6, err: errors.New("nonce too low")}
	s := NewOnrampSettler(testMpesaCfg(), treasury, repo, signer)

	err := s.Settle(context.Background(), tx.TransactionID)
	require.Error(t, err)

	stored, getErr := repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, getErr)
	// Not terminal so the credit can be retried.
	require.Equal(t, entities.StatusMpesaProcessing, stored.Status)
	require.Equal(t, entities.VerificationFailed, stored.Onchain.VerificationStatus)
	require.Contains(t, stored.Onchain.VerificationError, "nonce too low")
}

func TestSettleRejectsNonOnramp(t *testing.T) {
	repo := newMemTxRepo()
	tx := processingOnrampTx()
	tx.FlowType = entities.FlowOfframp
	require.NoError(t, repo.Create(context.Background(), tx))

	s := NewOnrampSettler(testMpesaCfg(), testTreasuryCfg(), repo, nil)
	err := s.Settle(context.Background(), tx.TransactionID)
	require.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestSettleUnknownTransaction(t *testing.T) {
	s := NewOnrampSettler(testMpesaCfg(), testTreasuryCfg(), newMemTxRepo(), nil)
	err := s.Settle(context.Background(), "TXN_missing")
	require.ErrorIs(t, err, domainerrors.ErrNotFound)
}
