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
)

// ReconcileUsecase sweeps transactions stuck in mpesa_processing past a
// cutoff: optionally queries the provider for their status, then fails and
// refunds them.
type ReconcileUsecase struct {
	cfg     config.MpesaConfig
	txRepo  repositories.TransactionRepository
	gateway MpesaGateway
	refunds *RefundService

	now func() time.Time
}

// NewReconcileUsecase wires the reconciler.
func NewReconcileUsecase(cfg config.MpesaConfig, txRepo repositories.TransactionRepository, gateway MpesaGateway, refunds *RefundService) *ReconcileUsecase {
	return &ReconcileUsecase{cfg: cfg, txRepo: txRepo, gateway: gateway, refunds: refunds, now: time.Now}
}

// Run executes one sweep and reports counts.
func (u *ReconcileUsecase) Run(ctx context.Context, input entities.ReconcileInput) (*entities.ReconcileResult, error) {
	maxAge := input.MaxAgeMinutes
	if maxAge <= 0 {
		maxAge = reconcileDefaultMaxAgeMinutes
	}
	cutoff := u.now().UTC().Add(-time.Duration(maxAge) * time.Minute)

	var candidates []*entities.Transaction
	if input.TransactionID != "" {
		tx, err := u.txRepo.GetByTransactionID(ctx, input.TransactionID)
		if err != nil {
			return nil, domainerrors.NotFound("transaction not found")
		}
		if tx.Status != entities.StatusMpesaProcessing {
			return nil, domainerrors.StateConflict("transaction is not in mpesa_processing")
		}
		candidates = []*entities.Transaction{tx}
	} else {
		var err error
		candidates, err = u.txRepo.ListStuckProcessing(ctx, cutoff, reconcilePageSize)
		if err != nil {
			return nil, err
		}
	}

	result := &entities.ReconcileResult{Scanned: len(candidates)}
	for _, tx := range candidates {
		if input.ExecuteQuery {
			u.queryProvider(ctx, tx, result)
		}

		// Force-by-id reconciles regardless of age.
		if input.TransactionID == "" && tx.UpdatedAt.After(cutoff) {
			continue
		}

		reason := "reconciler: no provider result within cutoff"
		if err := entities.AssertTransition(tx, entities.StatusFailed, reason, sourceReconciler); err != nil {
			logger.Warn(ctx, "reconcile transition rejected", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			continue
		}
		if err := u.txRepo.Update(ctx, tx); err != nil {
			logger.Error(ctx, "reconcile persist failed", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			continue
		}
		result.MarkedFailed++

		if u.cfg.AutoRefund && tx.FlowType.IsFunded() {
			if err := u.refunds.ScheduleAutoRefund(ctx, tx, reason); err != nil {
				logger.Error(ctx, "reconcile refund failed", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
				continue
			}
			if tx.Status == entities.StatusRefunded {
				result.Refunded++
			}
		}
	}
	return result, nil
}

// queryProvider issues a TransactionStatusQuery and stores the response in
// the transaction metadata for operator inspection.
func (u *ReconcileUsecase) queryProvider(ctx context.Context, tx *entities.Transaction, result *entities.ReconcileResult) {
	receipt := tx.Daraja.ReceiptNumber.String
	originator := tx.Daraja.OriginatorConversationID.String
	if receipt == "" && originator == "" {
		return
	}

	resultURL := u.cfg.ResultBaseURL + "/api/mpesa/webhooks/b2c/result?tx=" + tx.TransactionID
	timeoutURL := u.cfg.ResultBaseURL + "/api/mpesa/webhooks/b2c/timeout?tx=" + tx.TransactionID
	payload := u.gateway.BuildStatusQuery(receipt, originator, resultURL, timeoutURL)

	response, err := u.gateway.QueryTransactionStatus(ctx, payload)
	result.Queried++
	if err != nil {
		result.QueryErrors++
		logger.Warn(ctx, "status query failed", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		return
	}
	if tx.Metadata.Extra == nil {
		tx.Metadata.Extra = map[string]interface{}{}
	}
	tx.Metadata.Extra["statusQueryResponse"] = response
	tx.Metadata.Extra["statusQueryAt"] = u.now().UTC().Format(time.RFC3339)
}
