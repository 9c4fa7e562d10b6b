package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	domainRepos "dotpay.backend/internal/domain/repositories"
	"dotpay.backend/internal/infrastructure/models"
)

// Statuses excluded from the daily spend sum: failed payouts and their
// refund descendants never consumed the user's daily allowance.
var dailySumExcluded = []string{
	string(entities.StatusFailed),
	string(entities.StatusRefundPending),
	string(entities.StatusRefunded),
}

// TransactionRepositoryImpl implements transaction data operations on gorm.
type TransactionRepositoryImpl struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB) domainRepos.TransactionRepository {
	return &TransactionRepositoryImpl{db: db}
}

// Create inserts a new transaction; unique-index violations surface as
// ErrDuplicate so callers can distinguish idempotent replays and reused
// funding hashes.
func (r *TransactionRepositoryImpl) Create(ctx context.Context, tx *entities.Transaction) error {
	m, err := toModel(tx)
	if err != nil {
		return err
	}

	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicate
		}
		return err
	}
	tx.Version = m.Version
	return nil
}

// Update persists the mutable fields using optimistic versioning.
func (r *TransactionRepositoryImpl) Update(ctx context.Context, tx *entities.Transaction) error {
	m, err := toModel(tx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	db := GetDB(ctx, r.db)
	result := db.WithContext(ctx).Model(&models.Transaction{}).
		Where("transaction_id = ? AND version = ?", tx.TransactionID, tx.Version).
		Updates(map[string]interface{}{
			"status":                     m.Status,
			"business_id":                m.BusinessID,
			"quote_id":                   m.QuoteID,
			"onchain_tx_hash":            m.OnchainTxHash,
			"checkout_request_id":        m.CheckoutRequestID,
			"merchant_request_id":        m.MerchantRequestID,
			"conversation_id":            m.ConversationID,
			"originator_conversation_id": m.OriginatorConversationID,
			"amount_kes":                 m.AmountKes,
			"quote_json":                 m.QuoteJSON,
			"targets_json":               m.TargetsJSON,
			"authorization_json":         m.AuthorizationJSON,
			"onchain_json":               m.OnchainJSON,
			"daraja_json":                m.DarajaJSON,
			"refund_json":                m.RefundJSON,
			"history_json":               m.HistoryJSON,
			"metadata_json":              m.MetadataJSON,
			"version":                    tx.Version + 1,
			"updated_at":                 now,
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return domainerrors.ErrDuplicate
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	tx.Version++
	tx.UpdatedAt = now
	return nil
}

// GetByTransactionID gets a transaction by its opaque id
func (r *TransactionRepositoryImpl) GetByTransactionID(ctx context.Context, id string) (*entities.Transaction, error) {
	var m models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("transaction_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toEntity(&m)
}

// GetByIdempotencyKey resolves a previous initiate call
func (r *TransactionRepositoryImpl) GetByIdempotencyKey(ctx context.Context, userAddress string, flow entities.FlowType, key string) (*entities.Transaction, error) {
	var m models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("user_address = ? AND flow_type = ? AND idempotency_key = ?", userAddress, string(flow), key).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toEntity(&m)
}

// GetByOnchainTxHash resolves the transaction linked to a funding tx
func (r *TransactionRepositoryImpl) GetByOnchainTxHash(ctx context.Context, txHash string) (*entities.Transaction, error) {
	var m models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("onchain_tx_hash = ?", txHash).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toEntity(&m)
}

// GetByQuoteID resolves the quoted transaction an initiate call binds to
func (r *TransactionRepositoryImpl) GetByQuoteID(ctx context.Context, quoteID string) (*entities.Transaction, error) {
	var m models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("quote_id = ?", quoteID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toEntity(&m)
}

// GetByProviderRef matches the ref against all four Daraja correlation ids.
func (r *TransactionRepositoryImpl) GetByProviderRef(ctx context.Context, ref string) (*entities.Transaction, error) {
	if ref == "" {
		return nil, domainerrors.ErrNotFound
	}
	var m models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("checkout_request_id = ? OR merchant_request_id = ? OR conversation_id = ? OR originator_conversation_id = ?",
			ref, ref, ref, ref).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toEntity(&m)
}

// ListByUser lists a user's transactions, newest first
func (r *TransactionRepositoryImpl) ListByUser(ctx context.Context, userAddress string, filter domainRepos.TransactionFilter) ([]*entities.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Where("user_address = ?", userAddress)
	if filter.FlowType != "" {
		q = q.Where("flow_type = ?", string(filter.FlowType))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var ms []models.Transaction
	if err := q.Order("created_at DESC").Limit(limit).Find(&ms).Error; err != nil {
		return nil, err
	}

	txs := make([]*entities.Transaction, 0, len(ms))
	for i := range ms {
		tx, err := toEntity(&ms[i])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// SumDailyKes sums quote.amountKes of non-failed transactions since the cutoff
func (r *TransactionRepositoryImpl) SumDailyKes(ctx context.Context, userAddress string, since time.Time) (float64, error) {
	var total float64
	db := GetDB(ctx, r.db)
	err := db.WithContext(ctx).Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount_kes), 0)").
		Where("user_address = ? AND created_at >= ? AND status NOT IN ?", userAddress, since, dailySumExcluded).
		Scan(&total).Error
	return total, err
}

// ListStuckProcessing returns mpesa_processing transactions older than the cutoff
func (r *TransactionRepositoryImpl) ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*entities.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var ms []models.Transaction
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(entities.StatusMpesaProcessing), olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}

	txs := make([]*entities.Transaction, 0, len(ms))
	for i := range ms {
		tx, err := toEntity(&ms[i])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func toModel(tx *entities.Transaction) (*models.Transaction, error) {
	m := &models.Transaction{
		TransactionID: tx.TransactionID,
		FlowType:      string(tx.FlowType),
		Status:        string(tx.Status),
		UserAddress:   strings.ToLower(tx.UserAddress),
		BusinessID:    tx.BusinessID,
		Version:       tx.Version,
		CreatedAt:     tx.CreatedAt,
		UpdatedAt:     tx.UpdatedAt,
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if tx.IdempotencyKey != "" {
		k := tx.IdempotencyKey
		m.IdempotencyKey = &k
	}
	if tx.Onchain.TxHash != "" {
		h := tx.Onchain.TxHash
		m.OnchainTxHash = &h
	}
	m.CheckoutRequestID = nullStrPtr(tx.Daraja.CheckoutRequestID.Ptr())
	m.MerchantRequestID = nullStrPtr(tx.Daraja.MerchantRequestID.Ptr())
	m.ConversationID = nullStrPtr(tx.Daraja.ConversationID.Ptr())
	m.OriginatorConversationID = nullStrPtr(tx.Daraja.OriginatorConversationID.Ptr())
	if tx.Quote != nil {
		m.AmountKes = tx.Quote.AmountKes
		m.QuoteID = tx.Quote.QuoteID
	}

	var err error
	if m.QuoteJSON, err = marshalJSON(tx.Quote); err != nil {
		return nil, err
	}
	if m.TargetsJSON, err = marshalJSON(tx.Targets); err != nil {
		return nil, err
	}
	if m.AuthorizationJSON, err = marshalJSON(tx.Authorization); err != nil {
		return nil, err
	}
	if m.OnchainJSON, err = marshalJSON(tx.Onchain); err != nil {
		return nil, err
	}
	if m.DarajaJSON, err = marshalJSON(tx.Daraja); err != nil {
		return nil, err
	}
	if m.RefundJSON, err = marshalJSON(tx.Refund); err != nil {
		return nil, err
	}
	if m.HistoryJSON, err = marshalJSON(tx.History); err != nil {
		return nil, err
	}
	if m.MetadataJSON, err = marshalJSON(tx.Metadata); err != nil {
		return nil, err
	}
	return m, nil
}

func toEntity(m *models.Transaction) (*entities.Transaction, error) {
	tx := &entities.Transaction{
		TransactionID: m.TransactionID,
		FlowType:      entities.FlowType(m.FlowType),
		Status:        entities.Status(m.Status),
		UserAddress:   m.UserAddress,
		BusinessID:    m.BusinessID,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.IdempotencyKey != nil {
		tx.IdempotencyKey = *m.IdempotencyKey
	}

	if m.QuoteJSON != "" && m.QuoteJSON != "null" {
		tx.Quote = &entities.Quote{}
		if err := json.Unmarshal([]byte(m.QuoteJSON), tx.Quote); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(m.TargetsJSON, &tx.Targets); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(m.AuthorizationJSON, &tx.Authorization); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(m.OnchainJSON, &tx.Onchain); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(m.DarajaJSON, &tx.Daraja); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(m.RefundJSON, &tx.Refund); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(m.HistoryJSON, &tx.History); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(m.MetadataJSON, &tx.Metadata); err != nil {
		return nil, err
	}
	return tx, nil
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v interface{}) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nullStrPtr(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}

// isUniqueViolation detects duplicate-key errors across postgres and sqlite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed")
}
