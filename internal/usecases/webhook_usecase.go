package usecases

import (
	"context"
	"errors"
	"time"

	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"dotpay.backend/internal/config"
	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/domain/repositories"
	"dotpay.backend/internal/infrastructure/daraja"
	"dotpay.backend/pkg/logger"
)

// Webhook kinds, used in routes, dedup keys and metrics labels.
const (
	WebhookKindSTK        = "stk"
	WebhookKindB2CResult  = "b2c_result"
	WebhookKindB2CTimeout = "b2c_timeout"
	WebhookKindB2BResult  = "b2b_result"
	WebhookKindB2BTimeout = "b2b_timeout"
)

// WebhookOutcome classifies what a callback did, for logging and metrics.
type WebhookOutcome string

const (
	OutcomeApplied   WebhookOutcome = "applied"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeOrphan    WebhookOutcome = "orphan"
	OutcomeError     WebhookOutcome = "error"
)

// WebhookUsecase demultiplexes asynchronous provider callbacks onto
// transactions. Callers always ack the provider with 200 regardless of the
// outcome returned here.
type WebhookUsecase struct {
	cfg       config.MpesaConfig
	txRepo    repositories.TransactionRepository
	dedupRepo repositories.DedupEventRepository
	refunds   *RefundService
	settler   *OnrampSettler
}

// NewWebhookUsecase wires the demultiplexer.
func NewWebhookUsecase(
	cfg config.MpesaConfig,
	txRepo repositories.TransactionRepository,
	dedupRepo repositories.DedupEventRepository,
	refunds *RefundService,
	settler *OnrampSettler,
) *WebhookUsecase {
	return &WebhookUsecase{cfg: cfg, txRepo: txRepo, dedupRepo: dedupRepo, refunds: refunds, settler: settler}
}

// Handle applies one callback. txQuery is the canonical ?tx= hint; body is
// the raw callback payload. Timeout kinds are treated as failures even when
// the envelope parses without a result code.
func (u *WebhookUsecase) Handle(ctx context.Context, kind, txQuery string, body []byte) (WebhookOutcome, error) {
	result, err := u.parse(kind, body)
	if err != nil {
		return OutcomeError, err
	}

	tx, err := u.locate(ctx, txQuery, kind, result)
	if err != nil {
		logger.Warn(ctx, "callback matched no transaction",
			zap.String("kind", kind),
			zap.String("tx_query", txQuery))
		return OutcomeOrphan, nil
	}

	eventKey := buildEventKey(kind, tx.TransactionID, result)
	if err := u.dedupRepo.Create(ctx, &entities.DedupEvent{
		EventKey:      eventKey,
		TransactionID: tx.TransactionID,
		Source:        entities.DedupSourceWebhook,
		EventType:     kind,
		Payload:       result.Raw,
		ReceivedAt:    time.Now().UTC(),
	}); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicate) {
			logger.Info(ctx, "duplicate callback dropped",
				zap.String("kind", kind),
				zap.String("event_key", eventKey))
			return OutcomeDuplicate, nil
		}
		return OutcomeError, err
	}

	u.mergeCallback(tx, result)
	if err := u.applyTransition(ctx, kind, tx, result); err != nil {
		return OutcomeError, err
	}
	return OutcomeApplied, nil
}

func (u *WebhookUsecase) parse(kind string, body []byte) (*daraja.CallbackResult, error) {
	if kind == WebhookKindSTK {
		return daraja.ParseSTKCallback(body)
	}
	return daraja.ParseResultCallback(body)
}

// locate resolves the callback's transaction: the ?tx= param is canonical,
// provider correlation ids are the fallback.
func (u *WebhookUsecase) locate(ctx context.Context, txQuery, kind string, result *daraja.CallbackResult) (*entities.Transaction, error) {
	if txQuery != "" {
		if tx, err := u.txRepo.GetByTransactionID(ctx, txQuery); err == nil {
			return tx, nil
		}
	}
	refs := []string{result.ConversationID, result.OriginatorConversationID}
	if kind == WebhookKindSTK {
		refs = []string{result.CheckoutRequestID, result.MerchantRequestID}
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if tx, err := u.txRepo.GetByProviderRef(ctx, ref); err == nil {
			return tx, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

// buildEventKey derives the stable dedup key
// {kind}:{transactionId}:{provider-id-or-none}:{code-or-fixed}.
func buildEventKey(kind, transactionID string, result *daraja.CallbackResult) string {
	providerID := result.CheckoutRequestID
	if providerID == "" {
		providerID = result.ConversationID
	}
	if providerID == "" {
		providerID = result.OriginatorConversationID
	}
	if providerID == "" {
		providerID = "none"
	}
	code := result.RawCode
	if code == "" {
		code = "timeout"
	}
	return kind + ":" + transactionID + ":" + providerID + ":" + code
}

// mergeCallback folds provider identifiers and the parsed result into the
// transaction's daraja record.
func (u *WebhookUsecase) mergeCallback(tx *entities.Transaction, result *daraja.CallbackResult) {
	mergeProviderIDs(tx, result.MerchantRequestID, result.CheckoutRequestID, result.ConversationID, result.OriginatorConversationID)
	if result.RawCode != "" {
		tx.Daraja.ResultCodeRaw = null.StringFrom(result.RawCode)
	}
	if result.CodeParsed {
		tx.Daraja.ResultCode = null.IntFrom(int(result.Code))
	}
	if result.Description != "" {
		tx.Daraja.ResultDescription = null.StringFrom(result.Description)
	}
	if result.Receipt != "" {
		tx.Daraja.ReceiptNumber = null.StringFrom(result.Receipt)
	}
	tx.Daraja.RawCallback = result.Raw
	now := time.Now().UTC()
	tx.Daraja.CallbackReceivedAt = &now
}

// applyTransition drives the state machine from the callback outcome.
func (u *WebhookUsecase) applyTransition(ctx context.Context, kind string, tx *entities.Transaction, result *daraja.CallbackResult) error {
	success := result.RawCode == "0" && kind != WebhookKindB2CTimeout && kind != WebhookKindB2BTimeout

	if success {
		if kind == WebhookKindSTK && tx.FlowType == entities.FlowOnramp {
			// Charge confirmed; the stablecoin credit settles out-of-band
			// after the ack. A late callback on a tx no longer in
			// mpesa_submitted is left as-is.
			if tx.Status == entities.StatusMpesaSubmitted {
				if err := entities.AssertTransition(tx, entities.StatusMpesaProcessing, "stk charge confirmed", sourceWebhook); err != nil {
					return err
				}
			}
			if err := u.txRepo.Update(ctx, tx); err != nil {
				return err
			}
			u.settler.SettleAsync(tx.TransactionID)
			return nil
		}

		if err := entities.AssertTransition(tx, entities.StatusSucceeded, "provider confirmed payment", sourceWebhook); err != nil {
			return err
		}
		return u.txRepo.Update(ctx, tx)
	}

	reason := "provider reported failure"
	if result.Description != "" {
		reason = "provider reported failure: " + result.Description
	}
	if kind == WebhookKindB2CTimeout || kind == WebhookKindB2BTimeout {
		reason = "provider timeout notification"
	}

	if err := entities.AssertTransition(tx, entities.StatusFailed, reason, sourceWebhook); err != nil {
		return err
	}
	if err := u.txRepo.Update(ctx, tx); err != nil {
		return err
	}

	if u.cfg.AutoRefund && tx.FlowType.IsFunded() {
		if err := u.refunds.ScheduleAutoRefund(ctx, tx, reason); err != nil {
			logger.Error(ctx, "auto refund after callback failed",
				zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		}
	}
	return nil
}
