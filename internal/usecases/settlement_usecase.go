package usecases

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dotpay.backend/internal/config"
	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/domain/repositories"
	"dotpay.backend/pkg/logger"
	"dotpay.backend/pkg/utils"
)

// OnrampSettler credits the user's wallet from the treasury after a
// successful STK charge. It runs after the webhook ack has been sent and is
// idempotent: a re-run on an already-credited transaction is a no-op.
type OnrampSettler struct {
	cfg      config.MpesaConfig
	treasury config.TreasuryConfig
	txRepo   repositories.TransactionRepository
	signer   TreasurySigner
}

// NewOnrampSettler creates the settler. signer may be nil (sandbox).
func NewOnrampSettler(cfg config.MpesaConfig, treasury config.TreasuryConfig, txRepo repositories.TransactionRepository, signer TreasurySigner) *OnrampSettler {
	return &OnrampSettler{cfg: cfg, treasury: treasury, txRepo: txRepo, signer: signer}
}

// Settle re-loads the transaction, checks idempotency, executes the
// treasury-to-user credit, and drives the transaction to succeeded.
func (s *OnrampSettler) Settle(ctx context.Context, transactionID string) error {
	tx, err := s.txRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.FlowType != entities.FlowOnramp {
		return domainerrors.Validation("settlement applies to onramp transactions only")
	}
	// Concurrent settles are guarded by this re-load: a finished credit has
	// verificationStatus verified and a tx hash.
	if tx.Onchain.VerificationStatus == entities.VerificationVerified && tx.Onchain.TxHash != "" {
		logger.Info(ctx, "onramp already credited", zap.String("transaction_id", transactionID))
		return nil
	}
	if tx.Terminal() {
		return nil
	}
	if tx.Quote == nil || tx.Quote.AmountUsd <= 0 {
		return domainerrors.Validation("transaction has no creditable quote")
	}

	txHash, units, err := s.credit(ctx, tx)
	if err != nil {
		tx.Onchain.VerificationStatus = entities.VerificationFailed
		tx.Onchain.VerificationError = err.Error()
		if perr := s.txRepo.Update(ctx, tx); perr != nil {
			logger.Error(ctx, "failed to record settlement failure", zap.String("transaction_id", transactionID), zap.Error(perr))
		}
		// Not terminal: operations can retry the credit.
		return err
	}

	tx.Onchain.Required = false
	tx.Onchain.TxHash = txHash
	tx.Onchain.ChainID = s.treasury.ChainID
	tx.Onchain.TokenAddress = s.tokenAddress()
	tx.Onchain.TreasuryAddress = s.treasuryAddress()
	tx.Onchain.ToAddress = tx.UserAddress
	tx.Onchain.FundedAmountUnits = units
	tx.Onchain.FundedAmountUsd = tx.Quote.AmountUsd
	tx.Onchain.VerificationStatus = entities.VerificationVerified
	tx.Onchain.VerificationError = ""

	for _, to := range []entities.Status{entities.StatusMpesaProcessing, entities.StatusSucceeded} {
		if err := entities.AssertTransition(tx, to, "onramp credit settled", sourceSettler); err != nil {
			return err
		}
	}
	return s.txRepo.Update(ctx, tx)
}

// credit moves the stablecoin: a real treasury transfer when configured,
// else a simulated sandbox reference.
func (s *OnrampSettler) credit(ctx context.Context, tx *entities.Transaction) (txHash, units string, err error) {
	if s.signer != nil && s.treasury.SignerConfigured() {
		amount, err := usdToUnits(tx.Quote.AmountUsd, s.signer.Decimals())
		if err != nil {
			return "", "", err
		}
		hash, err := s.signer.Transfer(ctx, tx.UserAddress, amount)
		if err != nil {
			return "", "", err
		}
		return hash, amount.String(), nil
	}

	if s.cfg.Sandbox() {
		amount, err := usdToUnits(tx.Quote.AmountUsd, s.treasury.USDCDecimals)
		if err != nil {
			return "", "", err
		}
		ref := utils.NewSimulatedRefundRef()
		logger.Info(ctx, "simulated sandbox onramp credit",
			zap.String("transaction_id", tx.TransactionID),
			zap.String("ref", ref))
		return ref, amount.String(), nil
	}

	return "", "", domainerrors.ConfigMissing("treasury signer required for onramp credits")
}

func (s *OnrampSettler) tokenAddress() string {
	return s.treasury.USDCContract
}

func (s *OnrampSettler) treasuryAddress() string {
	if s.signer != nil {
		return s.signer.Address()
	}
	return s.treasury.PlatformAddress
}

// SettleAsync runs Settle on a fresh goroutine with its own deadline so the
// webhook ack is never blocked on the chain.
func (s *OnrampSettler) SettleAsync(transactionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.Settle(ctx, transactionID); err != nil {
			logger.Error(ctx, "onramp settlement failed", zap.String("transaction_id", transactionID), zap.Error(err))
		}
	}()
}
