package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"dotpay.backend/internal/config"
	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/domain/repositories"
	"dotpay.backend/internal/infrastructure/daraja"
	"dotpay.backend/pkg/logger"
	"dotpay.backend/pkg/utils"
)

// MpesaGateway is the provider surface the orchestrator needs. Satisfied by
// *daraja.Client; stubbed in tests.
type MpesaGateway interface {
	SubmitSTKPush(ctx context.Context, payload *daraja.STKPushRequest) (*daraja.SubmitResult, error)
	SubmitB2C(ctx context.Context, payload *daraja.B2CRequest) (*daraja.SubmitResult, error)
	SubmitB2B(ctx context.Context, payload *daraja.B2BRequest) (*daraja.SubmitResult, error)
	QueryTransactionStatus(ctx context.Context, payload *daraja.TransactionStatusRequest) (map[string]interface{}, error)
	BuildB2C(originatorID string, amountKes float64, phone, remarks, resultURL, timeoutURL string) *daraja.B2CRequest
	BuildB2BPaybill(amountKes float64, paybill, accountRef, requester, resultURL, timeoutURL string) *daraja.B2BRequest
	BuildB2BBuygoods(amountKes float64, till, accountRef, requester, resultURL, timeoutURL string) *daraja.B2BRequest
	BuildStatusQuery(receipt, originatorID, resultURL, timeoutURL string) *daraja.TransactionStatusRequest
}

// TransactionUsecase orchestrates the four initiate flows: idempotency,
// validation, quote binding, authorization, funding verification, provider
// submission and the state transitions between them.
type TransactionUsecase struct {
	cfg     config.MpesaConfig
	txRepo  repositories.TransactionRepository
	quotes  *QuoteUsecase
	auth    *AuthorizationVerifier
	funding *FundingVerifier
	gateway MpesaGateway
	refunds *RefundService

	now func() time.Time
}

// NewTransactionUsecase wires the orchestrator.
func NewTransactionUsecase(
	cfg config.MpesaConfig,
	txRepo repositories.TransactionRepository,
	quotes *QuoteUsecase,
	auth *AuthorizationVerifier,
	funding *FundingVerifier,
	gateway MpesaGateway,
	refunds *RefundService,
) *TransactionUsecase {
	return &TransactionUsecase{
		cfg:     cfg,
		txRepo:  txRepo,
		quotes:  quotes,
		auth:    auth,
		funding: funding,
		gateway: gateway,
		refunds: refunds,
		now:     time.Now,
	}
}

// Initiate runs the shared initiate contract for the given flow.
func (u *TransactionUsecase) Initiate(ctx context.Context, flow entities.FlowType, userAddress, idempotencyKey string, input entities.InitiateInput, meta entities.Metadata) (*entities.InitiateResult, error) {
	if !u.cfg.Enabled {
		return nil, domainerrors.Disabled("mobile money is disabled")
	}
	if err := ValidateIdempotencyKey(idempotencyKey); err != nil {
		return nil, err
	}
	userAddress = strings.ToLower(userAddress)

	// Idempotent replay returns the stored transaction without resubmitting.
	if existing, err := u.txRepo.GetByIdempotencyKey(ctx, userAddress, flow, idempotencyKey); err == nil {
		return &entities.InitiateResult{Transaction: existing, Idempotent: true}, nil
	} else if !errors.Is(err, domainerrors.ErrNotFound) {
		return nil, err
	}

	if err := u.validateTargets(flow, &input); err != nil {
		return nil, err
	}

	tx, err := u.bindOrCreate(ctx, flow, userAddress, idempotencyKey, input, meta)
	if err != nil {
		return nil, err
	}

	if err := u.applyFundingDefaults(tx); err != nil {
		return nil, u.failAndPersist(ctx, tx, err, "funding defaults")
	}
	if err := u.checkLimits(ctx, tx); err != nil {
		return nil, u.failAndPersist(ctx, tx, err, "limits")
	}

	if err := entities.AssertTransition(tx, entities.StatusAwaitingUserAuth, "awaiting authorization", sourceOrchestrator); err != nil {
		return nil, err
	}

	if flow.IsFunded() {
		if err := u.auth.VerifyPIN(input.PIN, input.PINHash); err != nil {
			return nil, u.failAndPersist(ctx, tx, err, "pin verification")
		}
		if err := u.auth.VerifySignature(tx, userAddress, input.Signature, input.SignedAt, input.Nonce); err != nil {
			return nil, u.failAndPersist(ctx, tx, err, "signature verification")
		}
	}
	if err := u.txRepo.Update(ctx, tx); err != nil {
		return nil, err
	}

	if flow.IsFunded() && u.cfg.RequireOnchainFunding {
		if err := u.verifyFunding(ctx, tx, input); err != nil {
			return nil, err
		}
	}

	if err := entities.AssertTransition(tx, entities.StatusMpesaSubmitted, "submitting to provider", sourceOrchestrator); err != nil {
		return nil, err
	}
	if err := u.txRepo.Update(ctx, tx); err != nil {
		return nil, err
	}

	if err := u.submit(ctx, tx); err != nil {
		return nil, err
	}
	return &entities.InitiateResult{Transaction: tx}, nil
}

// GetTransaction returns a transaction owned by the caller.
func (u *TransactionUsecase) GetTransaction(ctx context.Context, userAddress, id string) (*entities.Transaction, error) {
	tx, err := u.txRepo.GetByTransactionID(ctx, id)
	if err != nil {
		return nil, domainerrors.NotFound("transaction not found")
	}
	if tx.UserAddress != strings.ToLower(userAddress) {
		return nil, domainerrors.NotFound("transaction not found")
	}
	return tx, nil
}

// ListTransactions lists the caller's transactions, newest first.
func (u *TransactionUsecase) ListTransactions(ctx context.Context, userAddress string, filter repositories.TransactionFilter) ([]*entities.Transaction, error) {
	if filter.FlowType != "" && !filter.FlowType.Valid() {
		return nil, domainerrors.Validation("unknown flow type")
	}
	return u.txRepo.ListByUser(ctx, strings.ToLower(userAddress), filter)
}

// validateTargets enforces per-flow destination formats.
func (u *TransactionUsecase) validateTargets(flow entities.FlowType, input *entities.InitiateInput) error {
	switch flow {
	case entities.FlowOnramp, entities.FlowOfframp:
		return validateMSISDN(input.Phone)
	case entities.FlowPaybill:
		if err := validateShortcode(input.PaybillNumber, "paybill number"); err != nil {
			return err
		}
		return validateAccountReference(input.AccountReference)
	case entities.FlowBuygoods:
		if err := validateShortcode(input.TillNumber, "till number"); err != nil {
			return err
		}
		if input.AccountReference != "" {
			return validateAccountReference(input.AccountReference)
		}
		return nil
	default:
		return domainerrors.Validation("unknown flow type")
	}
}

// bindOrCreate resolves the transaction an initiate call works on: either the
// existing quoted transaction (by quoteId) or a freshly quoted one.
func (u *TransactionUsecase) bindOrCreate(ctx context.Context, flow entities.FlowType, userAddress, idempotencyKey string, input entities.InitiateInput, meta entities.Metadata) (*entities.Transaction, error) {
	now := u.now().UTC()

	if input.QuoteID != "" {
		tx, err := u.txRepo.GetByQuoteID(ctx, input.QuoteID)
		if err != nil {
			return nil, domainerrors.NotFound("quote not found")
		}
		if tx.UserAddress != userAddress {
			return nil, domainerrors.NotFound("quote not found")
		}
		if tx.FlowType != flow {
			return nil, domainerrors.StateConflict("quote was priced for a different flow")
		}
		if tx.Quote == nil || tx.Quote.Expired(now) {
			return nil, domainerrors.StateConflict("quote has expired")
		}
		tx.IdempotencyKey = idempotencyKey
		mergeTargets(tx, input)
		tx.BusinessID = firstNonEmpty(input.BusinessID, tx.BusinessID)
		return tx, nil
	}

	quote, err := u.quotes.BuildQuote(entities.QuoteInput{
		FlowType:  flow,
		Amount:    input.Amount,
		Currency:  input.Currency,
		KesPerUsd: 0,
	})
	if err != nil {
		return nil, err
	}

	tx := &entities.Transaction{
		TransactionID:  utils.NewTransactionID(),
		FlowType:       flow,
		Status:         entities.StatusCreated,
		UserAddress:    userAddress,
		BusinessID:     input.BusinessID,
		IdempotencyKey: idempotencyKey,
		Quote:          quote,
		Targets: entities.Targets{
			Phone:            input.Phone,
			PaybillNumber:    input.PaybillNumber,
			TillNumber:       input.TillNumber,
			AccountReference: input.AccountReference,
		},
		Onchain:   entities.Onchain{VerificationStatus: entities.VerificationNotRequired},
		Refund:    entities.Refund{Status: entities.RefundNone},
		Metadata:  meta,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := entities.AssertTransition(tx, entities.StatusQuoted, "quote created", sourceOrchestrator); err != nil {
		return nil, err
	}
	if err := u.txRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicate) {
			if existing, lookupErr := u.txRepo.GetByIdempotencyKey(ctx, userAddress, flow, idempotencyKey); lookupErr == nil {
				return existing, nil
			}
			return nil, domainerrors.StateConflict("duplicate initiate request")
		}
		return nil, err
	}
	return tx, nil
}

// applyFundingDefaults populates the onchain leg for funded flows. Onramp
// requires no funding.
func (u *TransactionUsecase) applyFundingDefaults(tx *entities.Transaction) error {
	if !tx.FlowType.IsFunded() {
		tx.Onchain = entities.Onchain{Required: false, VerificationStatus: entities.VerificationNotRequired}
		return nil
	}

	units, err := ExpectedUnits(tx.Quote.TotalDebitKes, tx.Quote.RateKesPerUsd, u.funding.decimals())
	if err != nil {
		return err
	}
	tx.Onchain = entities.Onchain{
		Required:            true,
		ChainID:             u.funding.ChainID(),
		TokenAddress:        u.funding.TokenAddress(),
		TreasuryAddress:     u.funding.TreasuryAddress(),
		ExpectedAmountUnits: units.String(),
		ExpectedAmountUsd:   UnitsToUsd(units, u.funding.decimals()),
		VerificationStatus:  entities.VerificationPending,
	}
	return nil
}

// checkLimits enforces the per-transaction and UTC-daily KES caps.
func (u *TransactionUsecase) checkLimits(ctx context.Context, tx *entities.Transaction) error {
	if u.cfg.MaxTxnKes > 0 && tx.Quote.AmountKes > u.cfg.MaxTxnKes {
		return domainerrors.Validation(fmt.Sprintf("amount exceeds per-transaction limit of %.0f KES", u.cfg.MaxTxnKes))
	}
	if u.cfg.MaxDailyKes <= 0 {
		return nil
	}

	midnight := u.now().UTC().Truncate(24 * time.Hour)
	spent, err := u.txRepo.SumDailyKes(ctx, tx.UserAddress, midnight)
	if err != nil {
		return err
	}
	// The current transaction is already persisted and counted in the sum.
	if spent > u.cfg.MaxDailyKes {
		return domainerrors.Validation(fmt.Sprintf("daily limit of %.0f KES exceeded", u.cfg.MaxDailyKes))
	}
	return nil
}

// verifyFunding runs the on-chain check and records the outcome. A failure
// persists verificationStatus=failed before surfacing the error.
func (u *TransactionUsecase) verifyFunding(ctx context.Context, tx *entities.Transaction, input entities.InitiateInput) error {
	if err := entities.AssertTransition(tx, entities.StatusAwaitingFunding, "awaiting onchain funding", sourceOrchestrator); err != nil {
		return err
	}
	if input.OnchainTxHash == "" {
		verr := domainerrors.Validation("onchainTxHash is required for funded flows")
		return u.persistFundingFailure(ctx, tx, verr)
	}

	txHash := strings.ToLower(strings.TrimSpace(input.OnchainTxHash))
	if existing, err := u.txRepo.GetByOnchainTxHash(ctx, txHash); err == nil && existing.TransactionID != tx.TransactionID {
		verr := domainerrors.StateConflict("funding transaction already used by another payment")
		return u.persistFundingFailure(ctx, tx, verr)
	}

	units, ok := parseUnits(tx.Onchain.ExpectedAmountUnits)
	if !ok {
		return u.persistFundingFailure(ctx, tx, domainerrors.Validation("expected funding amount is unset"))
	}

	result, err := u.funding.Verify(ctx, tx.Authorization.SignerAddress, txHash, input.ChainID, units)
	if err != nil {
		return u.persistFundingFailure(ctx, tx, err)
	}

	tx.Onchain.TxHash = result.TxHash
	tx.Onchain.ChainID = result.ChainID
	tx.Onchain.FromAddress = result.From
	tx.Onchain.ToAddress = result.To
	tx.Onchain.FundedAmountUnits = result.FundedUnits.String()
	tx.Onchain.FundedAmountUsd = result.FundedUsd
	tx.Onchain.LogIndex = result.LogIndex
	tx.Onchain.BlockNumber = result.BlockNumber
	tx.Onchain.VerificationStatus = entities.VerificationVerified
	tx.Onchain.VerificationError = ""

	if err := u.txRepo.Update(ctx, tx); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicate) {
			return domainerrors.StateConflict("funding transaction already used by another payment")
		}
		return err
	}
	return nil
}

func (u *TransactionUsecase) persistFundingFailure(ctx context.Context, tx *entities.Transaction, cause error) error {
	tx.Onchain.VerificationStatus = entities.VerificationFailed
	tx.Onchain.VerificationError = cause.Error()
	if err := entities.AssertTransition(tx, entities.StatusFailed, "funding verification failed: "+cause.Error(), sourceOrchestrator); err != nil {
		logger.Warn(ctx, "could not mark funding failure", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
	}
	if err := u.txRepo.Update(ctx, tx); err != nil {
		logger.Error(ctx, "failed to persist funding failure", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
	}
	return cause
}

// submit sends the provider request for the flow, persists the raw exchange
// and applies the accept/reject transition.
func (u *TransactionUsecase) submit(ctx context.Context, tx *entities.Transaction) error {
	if u.cfg.ResultBaseURL == "" {
		return domainerrors.ConfigMissing("MPESA_RESULT_BASE_URL is required to receive callbacks")
	}

	var (
		result *daraja.SubmitResult
		err    error
	)
	switch tx.FlowType {
	case entities.FlowOnramp:
		payload := daraja.BuildSTKPush(u.cfg, tx.Quote.TotalDebitKes, tx.Targets.Phone,
			tx.Targets.AccountReference, "DotPay onramp", u.callbackURL("stk", tx.TransactionID), u.now())
		tx.Daraja.RawRequest = structToMap(payload)
		result, err = u.gateway.SubmitSTKPush(ctx, payload)
	case entities.FlowOfframp:
		payload := u.gateway.BuildB2C(tx.TransactionID, tx.Quote.ExpectedReceiveKes, tx.Targets.Phone,
			"DotPay offramp "+tx.TransactionID,
			u.callbackURL("b2c/result", tx.TransactionID), u.timeoutURL("b2c/timeout", tx.TransactionID))
		tx.Daraja.OriginatorConversationID = null.StringFrom(payload.OriginatorConversationID)
		tx.Daraja.RawRequest = structToMap(payload)
		result, err = u.gateway.SubmitB2C(ctx, payload)
	case entities.FlowPaybill:
		payload := u.gateway.BuildB2BPaybill(tx.Quote.ExpectedReceiveKes, tx.Targets.PaybillNumber,
			tx.Targets.AccountReference, tx.Targets.Phone,
			u.callbackURL("b2b/result", tx.TransactionID), u.timeoutURL("b2b/timeout", tx.TransactionID))
		tx.Daraja.RawRequest = structToMap(payload)
		result, err = u.gateway.SubmitB2B(ctx, payload)
	case entities.FlowBuygoods:
		payload := u.gateway.BuildB2BBuygoods(tx.Quote.ExpectedReceiveKes, tx.Targets.TillNumber,
			tx.Targets.AccountReference, tx.Targets.Phone,
			u.callbackURL("b2b/result", tx.TransactionID), u.timeoutURL("b2b/timeout", tx.TransactionID))
		tx.Daraja.RawRequest = structToMap(payload)
		result, err = u.gateway.SubmitB2B(ctx, payload)
	default:
		return domainerrors.Validation("unknown flow type")
	}

	if err != nil {
		u.rejectSubmission(ctx, tx, "provider request failed: "+err.Error())
		return domainerrors.External("provider request failed", err)
	}

	tx.Daraja.RawResponse = result.Raw
	tx.Daraja.ResponseCode = null.StringFrom(result.ResponseCode)
	tx.Daraja.ResponseDescription = null.StringFrom(result.ResponseDescription)
	mergeProviderIDs(tx, result.MerchantRequestID, result.CheckoutRequestID, result.ConversationID, result.OriginatorConversationID)

	if !result.Accepted {
		u.rejectSubmission(ctx, tx, fmt.Sprintf("provider rejected: code %q %s", result.ResponseCode, result.ResponseDescription))
		return domainerrors.External("provider rejected the request", nil)
	}

	if err := entities.AssertTransition(tx, entities.StatusMpesaProcessing, "provider accepted", sourceOrchestrator); err != nil {
		return err
	}
	return u.txRepo.Update(ctx, tx)
}

// rejectSubmission marks the transaction failed after a synchronous provider
// rejection and schedules the compensating refund for funded flows.
func (u *TransactionUsecase) rejectSubmission(ctx context.Context, tx *entities.Transaction, reason string) {
	if err := entities.AssertTransition(tx, entities.StatusFailed, reason, sourceOrchestrator); err != nil {
		logger.Warn(ctx, "could not fail transaction after rejection", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
	}
	if err := u.txRepo.Update(ctx, tx); err != nil {
		logger.Error(ctx, "failed to persist provider rejection", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		return
	}
	if u.cfg.AutoRefund && tx.FlowType.IsFunded() {
		if err := u.refunds.ScheduleAutoRefund(ctx, tx, reason); err != nil {
			logger.Error(ctx, "auto refund failed", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		}
	}
}

// failAndPersist records a pre-submission failure and returns the cause.
func (u *TransactionUsecase) failAndPersist(ctx context.Context, tx *entities.Transaction, cause error, step string) error {
	if err := entities.AssertTransition(tx, entities.StatusFailed, step+" failed: "+cause.Error(), sourceOrchestrator); err == nil {
		if err := u.txRepo.Update(ctx, tx); err != nil {
			logger.Error(ctx, "failed to persist failure", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		}
	}
	return cause
}

func (u *TransactionUsecase) callbackURL(kind, transactionID string) string {
	return strings.TrimSuffix(u.cfg.ResultBaseURL, "/") + "/api/mpesa/webhooks/" + kind + "?tx=" + transactionID
}

func (u *TransactionUsecase) timeoutURL(kind, transactionID string) string {
	base := u.cfg.TimeoutBaseURL
	if base == "" {
		base = u.cfg.ResultBaseURL
	}
	return strings.TrimSuffix(base, "/") + "/api/mpesa/webhooks/" + kind + "?tx=" + transactionID
}

func mergeTargets(tx *entities.Transaction, input entities.InitiateInput) {
	tx.Targets.Phone = firstNonEmpty(input.Phone, tx.Targets.Phone)
	tx.Targets.PaybillNumber = firstNonEmpty(input.PaybillNumber, tx.Targets.PaybillNumber)
	tx.Targets.TillNumber = firstNonEmpty(input.TillNumber, tx.Targets.TillNumber)
	tx.Targets.AccountReference = firstNonEmpty(input.AccountReference, tx.Targets.AccountReference)
}

func mergeProviderIDs(tx *entities.Transaction, merchant, checkout, conversation, originator string) {
	if merchant != "" {
		tx.Daraja.MerchantRequestID = null.StringFrom(merchant)
	}
	if checkout != "" {
		tx.Daraja.CheckoutRequestID = null.StringFrom(checkout)
	}
	if conversation != "" {
		tx.Daraja.ConversationID = null.StringFrom(conversation)
	}
	if originator != "" {
		tx.Daraja.OriginatorConversationID = null.StringFrom(originator)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseUnits(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

func structToMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
