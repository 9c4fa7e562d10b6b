package usecases

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"dotpay.backend/internal/config"
	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/domain/repositories"
	pkgcrypto "dotpay.backend/pkg/crypto"
	"dotpay.backend/pkg/logger"
	"dotpay.backend/pkg/utils"
)

// TreasurySigner executes stablecoin transfers from the platform treasury.
// Satisfied by *blockchain.TreasuryWallet; nil when no signer is configured.
type TreasurySigner interface {
	Address() string
	Decimals() int
	Transfer(ctx context.Context, recipient string, amountUnits *big.Int) (string, error)
}

// RefundService executes compensating on-chain refunds for failed funded
// payouts. In sandbox without a configured treasury it records a simulated
// refund reference instead of moving funds.
type RefundService struct {
	cfg      config.MpesaConfig
	treasury config.TreasuryConfig
	txRepo   repositories.TransactionRepository
	signer   TreasurySigner
}

// NewRefundService creates the refund service. signer may be nil.
func NewRefundService(cfg config.MpesaConfig, treasury config.TreasuryConfig, txRepo repositories.TransactionRepository, signer TreasurySigner) *RefundService {
	return &RefundService{cfg: cfg, treasury: treasury, txRepo: txRepo, signer: signer}
}

// ScheduleAutoRefund refunds a failed funded transaction. Non-eligible calls
// (onramp, wrong state) are no-ops.
func (s *RefundService) ScheduleAutoRefund(ctx context.Context, tx *entities.Transaction, reason string) error {
	if !tx.FlowType.IsFunded() || tx.Status != entities.StatusFailed {
		return nil
	}
	if !s.treasury.RefundEnabled {
		logger.Info(ctx, "refunds disabled, leaving transaction failed", zap.String("transaction_id", tx.TransactionID))
		return nil
	}

	now := time.Now().UTC()
	tx.Refund.Status = entities.RefundPending
	tx.Refund.Reason = reason
	tx.Refund.InitiatedAt = &now
	if err := entities.AssertTransition(tx, entities.StatusRefundPending, "refund initiated: "+reason, sourceRefund); err != nil {
		return err
	}
	if err := s.txRepo.Update(ctx, tx); err != nil {
		return err
	}

	txHash, err := s.execute(ctx, tx)
	if err != nil {
		tx.Refund.Status = entities.RefundFailed
		tx.Refund.Reason = reason + "; refund error: " + err.Error()
		if terr := entities.AssertTransition(tx, entities.StatusFailed, "refund failed: "+err.Error(), sourceRefund); terr != nil {
			return terr
		}
		if perr := s.txRepo.Update(ctx, tx); perr != nil {
			return perr
		}
		return err
	}

	completed := time.Now().UTC()
	tx.Refund.Status = entities.RefundCompleted
	tx.Refund.TxHash = txHash
	tx.Refund.CompletedAt = &completed
	if err := entities.AssertTransition(tx, entities.StatusRefunded, "refund completed", sourceRefund); err != nil {
		return err
	}
	return s.txRepo.Update(ctx, tx)
}

// execute moves the funds: a real treasury transfer when fully configured,
// else a simulated sandbox reference.
func (s *RefundService) execute(ctx context.Context, tx *entities.Transaction) (string, error) {
	recipient, err := s.refundRecipient(tx)
	if err != nil {
		return "", err
	}

	if s.signer != nil && s.treasury.SignerConfigured() {
		units, err := s.refundUnits(tx)
		if err != nil {
			return "", err
		}
		logger.Info(ctx, "executing treasury refund",
			zap.String("transaction_id", tx.TransactionID),
			zap.String("recipient", recipient),
			zap.String("units", units.String()))
		return s.signer.Transfer(ctx, recipient, units)
	}

	if s.cfg.Sandbox() {
		ref := utils.NewSimulatedRefundRef()
		logger.Info(ctx, "simulated sandbox refund",
			zap.String("transaction_id", tx.TransactionID),
			zap.String("recipient", recipient),
			zap.String("ref", ref))
		return ref, nil
	}

	return "", domainerrors.ConfigMissing("treasury signer required for production refunds")
}

// refundRecipient prefers the actual funder, then the authorizing signer,
// then the account owner.
func (s *RefundService) refundRecipient(tx *entities.Transaction) (string, error) {
	for _, candidate := range []string{tx.Onchain.FromAddress, tx.Authorization.SignerAddress, tx.UserAddress} {
		if candidate == "" {
			continue
		}
		addr, err := pkgcrypto.NormalizeAddress(candidate)
		if err == nil {
			return addr, nil
		}
	}
	return "", domainerrors.Validation("no valid refund recipient address")
}

// refundUnits prefers the verified funded amount, then the expected amount,
// then the quoted USD value, converted with the treasury decimals.
func (s *RefundService) refundUnits(tx *entities.Transaction) (*big.Int, error) {
	if units, ok := parseUnits(tx.Onchain.FundedAmountUnits); ok && units.Sign() > 0 {
		return units, nil
	}
	if units, ok := parseUnits(tx.Onchain.ExpectedAmountUnits); ok && units.Sign() > 0 {
		return units, nil
	}

	usd := tx.Onchain.FundedAmountUsd
	if usd <= 0 {
		usd = tx.Onchain.ExpectedAmountUsd
	}
	if usd <= 0 && tx.Quote != nil {
		usd = tx.Quote.AmountUsd
	}
	if usd <= 0 {
		return nil, domainerrors.Validation("no refundable amount on transaction")
	}
	return usdToUnits(usd, s.signer.Decimals())
}

// usdToUnits converts a USD amount to integer token units, rounding half up
// at the final decimal.
func usdToUnits(usd float64, decimals int) (*big.Int, error) {
	if usd <= 0 || math.IsNaN(usd) || math.IsInf(usd, 0) {
		return nil, domainerrors.Validation("amount must be positive")
	}
	if decimals < 0 {
		decimals = 0
	}
	if decimals > 18 {
		decimals = 18
	}
	scaled := new(big.Float).Mul(big.NewFloat(usd),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	scaled.Add(scaled, big.NewFloat(0.5))
	units, _ := scaled.Int(nil)
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("amount %f rounds to zero units", usd)
	}
	return units, nil
}
