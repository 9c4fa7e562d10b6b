package models

import "time"

// DedupEvent is the gorm model for applied webhook callbacks.
type DedupEvent struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	EventKey      string    `gorm:"size:255;uniqueIndex;not null"`
	TransactionID string    `gorm:"size:64;not null;index:idx_dedup_txn_received,priority:1"`
	Source        string    `gorm:"size:16;not null"`
	EventType     string    `gorm:"size:32;not null"`
	PayloadJSON   string    `gorm:"column:payload_json;type:text"`
	ReceivedAt    time.Time `gorm:"index:idx_dedup_txn_received,priority:2"`
}

// TableName overrides the table name
func (DedupEvent) TableName() string {
	return "dedup_events"
}
