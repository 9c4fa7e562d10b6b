package models

import "time"

// Transaction is the gorm model for the transactions table. Nested value
// structs are serialized to JSON columns; the columns needed by queries
// (limits, callback lookup, uniqueness) are denormalized.
type Transaction struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	TransactionID string `gorm:"column:transaction_id;size:64;uniqueIndex;not null"`
	FlowType      string `gorm:"size:16;not null;index:idx_txn_flow_status_created,priority:1;uniqueIndex:uniq_txn_user_flow_idem,priority:2"`
	Status        string `gorm:"size:32;not null;index:idx_txn_flow_status_created,priority:2"`
	UserAddress   string `gorm:"size:42;not null;index:idx_txn_user_created,priority:1;uniqueIndex:uniq_txn_user_flow_idem,priority:1"`
	BusinessID    string `gorm:"size:64"`
	// quote.quoteId denormalized for initiate-by-quote binding.
	QuoteID string `gorm:"column:quote_id;size:64;index"`

	// NULL when the client sent no key; NULLs never collide in the unique index.
	IdempotencyKey *string `gorm:"size:128;uniqueIndex:uniq_txn_user_flow_idem,priority:3"`
	// NULL until a funding tx is linked; one funding tx backs at most one payout.
	OnchainTxHash *string `gorm:"size:66;uniqueIndex"`

	CheckoutRequestID        *string `gorm:"size:64;index"`
	MerchantRequestID        *string `gorm:"size:64;index"`
	ConversationID           *string `gorm:"size:64;index"`
	OriginatorConversationID *string `gorm:"size:64;index"`

	// quote.amountKes denormalized for the daily limit sum.
	AmountKes float64 `gorm:"not null;default:0"`

	QuoteJSON         string `gorm:"column:quote_json;type:text"`
	TargetsJSON       string `gorm:"column:targets_json;type:text"`
	AuthorizationJSON string `gorm:"column:authorization_json;type:text"`
	OnchainJSON       string `gorm:"column:onchain_json;type:text"`
	DarajaJSON        string `gorm:"column:daraja_json;type:text"`
	RefundJSON        string `gorm:"column:refund_json;type:text"`
	HistoryJSON       string `gorm:"column:history_json;type:text"`
	MetadataJSON      string `gorm:"column:metadata_json;type:text"`

	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"index:idx_txn_user_created,priority:2;index:idx_txn_flow_status_created,priority:3"`
	UpdatedAt time.Time
}

// TableName overrides the table name
func (Transaction) TableName() string {
	return "transactions"
}
