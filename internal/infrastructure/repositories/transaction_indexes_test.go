package repositories

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func indexColumns(t *testing.T, db *gorm.DB, index string) []string {
	t.Helper()
	var cols []string
	require.NoError(t, db.Raw(
		"SELECT name FROM pragma_index_info(?) ORDER BY seqno", index,
	).Scan(&cols).Error)
	return cols
}

func TestTransactionCompositeIndexes(t *testing.T) {
	db := newTestDB(t)

	require.Equal(t,
		[]string{"user_address", "created_at"},
		indexColumns(t, db, "idx_txn_user_created"))

	require.Equal(t,
		[]string{"flow_type", "status", "created_at"},
		indexColumns(t, db, "idx_txn_flow_status_created"))

	require.Equal(t,
		[]string{"user_address", "flow_type", "idempotency_key"},
		indexColumns(t, db, "uniq_txn_user_flow_idem"))
}
