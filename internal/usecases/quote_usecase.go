package usecases

import (
	"context"
	"math"
	"time"

	"dotpay.backend/internal/config"
	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/domain/repositories"
	"dotpay.backend/pkg/utils"
)

// QuoteUsecase prices requests and records quoted transactions.
type QuoteUsecase struct {
	cfg    config.MpesaConfig
	txRepo repositories.TransactionRepository

	now func() time.Time
}

// NewQuoteUsecase creates the quote engine.
func NewQuoteUsecase(cfg config.MpesaConfig, txRepo repositories.TransactionRepository) *QuoteUsecase {
	return &QuoteUsecase{cfg: cfg, txRepo: txRepo, now: time.Now}
}

// BuildQuote prices a request into a time-bounded quote. The rate comes from
// the override when positive, else from configuration.
func (u *QuoteUsecase) BuildQuote(input entities.QuoteInput) (*entities.Quote, error) {
	if !input.FlowType.Valid() {
		return nil, domainerrors.Validation("unknown flow type")
	}
	if math.IsNaN(input.Amount) || math.IsInf(input.Amount, 0) {
		return nil, domainerrors.Validation("amount must be finite")
	}
	if input.Amount <= 0 {
		return nil, domainerrors.Validation("amount must be positive")
	}

	rate := u.cfg.KesPerUsd
	if input.KesPerUsd > 0 {
		rate = input.KesPerUsd
	}
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, domainerrors.ConfigMissing("KES_PER_USD rate is not configured")
	}

	var amountKes, amountUsd float64
	switch input.Currency {
	case entities.CurrencyKES:
		amountKes = round2(input.Amount)
		amountUsd = round2(amountKes / rate)
	case entities.CurrencyUSD:
		amountUsd = input.Amount
		amountKes = round2(amountUsd * rate)
	default:
		return nil, domainerrors.Validation("currency must be KES or USD")
	}

	fee := round2(amountKes * float64(feeBps(input.FlowType)) / 10000)
	if fee < feeFloorKes {
		fee = feeFloorKes
	}
	networkFee := networkFeeKes
	if input.FlowType == entities.FlowOnramp {
		networkFee = 0
	}

	now := u.now().UTC()
	ttl := time.Duration(u.cfg.QuoteTTLSeconds) * time.Second
	return &entities.Quote{
		QuoteID:            utils.NewQuoteID(),
		Currency:           input.Currency,
		AmountRequested:    input.Amount,
		AmountKes:          amountKes,
		AmountUsd:          amountUsd,
		RateKesPerUsd:      rate,
		FeeAmountKes:       fee,
		NetworkFeeKes:      networkFee,
		TotalDebitKes:      round2(amountKes + fee + networkFee),
		ExpectedReceiveKes: amountKes,
		ExpiresAt:          now.Add(ttl),
		SnapshotAt:         now,
	}, nil
}

// CreateQuotedTransaction builds a quote and persists a transaction in the
// quoted state carrying it, so a later initiate call can bind by quoteId.
func (u *QuoteUsecase) CreateQuotedTransaction(ctx context.Context, userAddress string, input entities.QuoteInput, meta entities.Metadata) (*entities.Transaction, error) {
	quote, err := u.BuildQuote(input)
	if err != nil {
		return nil, err
	}

	now := u.now().UTC()
	tx := &entities.Transaction{
		TransactionID: utils.NewTransactionID(),
		FlowType:      input.FlowType,
		Status:        entities.StatusCreated,
		UserAddress:   userAddress,
		Quote:         quote,
		Targets: entities.Targets{
			Phone:            input.Phone,
			PaybillNumber:    input.PaybillNumber,
			TillNumber:       input.TillNumber,
			AccountReference: input.AccountRef,
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
		return nil, err
	}
	return tx, nil
}
