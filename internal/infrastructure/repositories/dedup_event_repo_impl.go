package repositories

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	domainRepos "dotpay.backend/internal/domain/repositories"
	"dotpay.backend/internal/infrastructure/models"
)

// DedupEventRepositoryImpl persists webhook dedup records on gorm.
type DedupEventRepositoryImpl struct {
	db *gorm.DB
}

// NewDedupEventRepository creates a new dedup event repository
func NewDedupEventRepository(db *gorm.DB) domainRepos.DedupEventRepository {
	return &DedupEventRepositoryImpl{db: db}
}

// Create inserts the event; a duplicate event key maps to ErrDuplicate so the
// webhook path can acknowledge-and-drop replays.
func (r *DedupEventRepositoryImpl) Create(ctx context.Context, event *entities.DedupEvent) error {
	payload := ""
	if event.Payload != nil {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	m := &models.DedupEvent{
		EventKey:      event.EventKey,
		TransactionID: event.TransactionID,
		Source:        event.Source,
		EventType:     event.EventType,
		PayloadJSON:   payload,
		ReceivedAt:    event.ReceivedAt,
	}

	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicate
		}
		return err
	}
	return nil
}

// ListByTransaction returns the applied callbacks for a transaction
func (r *DedupEventRepositoryImpl) ListByTransaction(ctx context.Context, transactionID string) ([]*entities.DedupEvent, error) {
	var ms []models.DedupEvent
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("received_at ASC").
		Find(&ms).Error; err != nil {
		return nil, err
	}

	events := make([]*entities.DedupEvent, 0, len(ms))
	for i := range ms {
		m := ms[i]
		e := &entities.DedupEvent{
			EventKey:      m.EventKey,
			TransactionID: m.TransactionID,
			Source:        m.Source,
			EventType:     m.EventType,
			ReceivedAt:    m.ReceivedAt,
		}
		if m.PayloadJSON != "" {
			if err := json.Unmarshal([]byte(m.PayloadJSON), &e.Payload); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, nil
}
