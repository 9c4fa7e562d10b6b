package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"dotpay.backend/internal/domain/entities"
	"dotpay.backend/internal/infrastructure/models"
	"dotpay.backend/pkg/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, db.AutoMigrate(&models.Transaction{}, &models.DedupEvent{}), "migrate")
	return db
}

// seedTransaction builds an entity in the quoted state with the denormalized
// columns populated the way the orchestrator produces them.
func seedTransaction(flow entities.FlowType, user string) *entities.Transaction {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &entities.Transaction{
		TransactionID: utils.NewTransactionID(),
		FlowType:      flow,
		Status:        entities.StatusQuoted,
		UserAddress:   user,
		Quote: &entities.Quote{
			QuoteID:            utils.NewQuoteID(),
			Currency:           entities.CurrencyKES,
			AmountRequested:    1000,
			AmountKes:          1000,
			AmountUsd:          7.69,
			RateKesPerUsd:      130,
			FeeAmountKes:       13,
			TotalDebitKes:      1013,
			ExpectedReceiveKes: 1000,
			ExpiresAt:          now.Add(5 * time.Minute),
			SnapshotAt:         now,
		},
		History: []entities.HistoryEntry{
			{From: entities.StatusCreated, To: entities.StatusQuoted, Reason: "quote created", Source: "orchestrator", At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
