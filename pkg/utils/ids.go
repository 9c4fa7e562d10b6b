package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTransactionID returns an opaque transaction identifier.
func NewTransactionID() string {
	return "TXN_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewQuoteID returns an opaque quote identifier.
func NewQuoteID() string {
	return "Q_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewSimulatedRefundRef builds a pseudo refund reference for sandbox refunds
// where no on-chain transfer happens. Format: RF_<base36 unix>_<hex>.
func NewSimulatedRefundRef() string {
	return fmt.Sprintf("RF_%s_%s",
		strings.ToUpper(strconv.FormatInt(time.Now().Unix(), 36)),
		strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
