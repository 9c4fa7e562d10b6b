package repositories

import (
	"context"
	"time"

	"dotpay.backend/internal/domain/entities"
)

// TransactionFilter narrows List queries.
type TransactionFilter struct {
	FlowType entities.FlowType
	Status   entities.Status
	Limit    int
}

// TransactionRepository defines transaction data operations.
type TransactionRepository interface {
	Create(ctx context.Context, tx *entities.Transaction) error
	// Update persists the mutable fields of tx using optimistic versioning;
	// it returns domain ErrNotFound when the stored version moved on.
	Update(ctx context.Context, tx *entities.Transaction) error
	GetByTransactionID(ctx context.Context, id string) (*entities.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, userAddress string, flow entities.FlowType, key string) (*entities.Transaction, error)
	GetByOnchainTxHash(ctx context.Context, txHash string) (*entities.Transaction, error)
	// GetByQuoteID resolves the quoted transaction an initiate call binds to.
	GetByQuoteID(ctx context.Context, quoteID string) (*entities.Transaction, error)
	// GetByProviderRef resolves a callback to a transaction by any of the
	// Daraja correlation ids (checkout/merchant/conversation/originator).
	GetByProviderRef(ctx context.Context, ref string) (*entities.Transaction, error)
	ListByUser(ctx context.Context, userAddress string, filter TransactionFilter) ([]*entities.Transaction, error)
	// SumDailyKes sums quote.amountKes of the user's non-failed transactions
	// created at or after since (UTC midnight for the daily cap).
	SumDailyKes(ctx context.Context, userAddress string, since time.Time) (float64, error)
	ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*entities.Transaction, error)
}

// DedupEventRepository persists webhook dedup records.
type DedupEventRepository interface {
	// Create inserts the event; it returns domain ErrDuplicate when the
	// event key was already recorded.
	Create(ctx context.Context, event *entities.DedupEvent) error
	ListByTransaction(ctx context.Context, transactionID string) ([]*entities.DedupEvent, error)
}
