package usecases

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"dotpay.backend/internal/domain/entities"
	"dotpay.backend/internal/infrastructure/daraja"
	"dotpay.backend/pkg/utils"
)

type webhookFixture struct {
	repo    *memTxRepo
	dedup   *memDedupRepo
	webhook *WebhookUsecase
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	cfg := testMpesaCfg()
	treasury := testTreasuryCfg()
	repo := newMemTxRepo()
	dedup := newMemDedupRepo()
	refunds := NewRefundService(cfg, treasury, repo, nil)
	settler := NewOnrampSettler(cfg, treasury, repo, nil)
	return &webhookFixture{
		repo:    repo,
		dedup:   dedup,
		webhook: NewWebhookUsecase(cfg, repo, dedup, refunds, settler),
	}
}

func (f *webhookFixture) seed(t *testing.T, flow entities.FlowType, status entities.Status) *entities.Transaction {
	t.Helper()
	now := time.Now().UTC()
	tx := &entities.Transaction{
		TransactionID: utils.NewTransactionID(),
		FlowType:      flow,
		Status:        status,
		UserAddress:   "0xabc0000000000000000000000000000000000001",
		Quote: &entities.Quote{
			QuoteID:       utils.NewQuoteID(),
			AmountKes:     1550,
			AmountUsd:     10,
			RateKesPerUsd: 155,
			TotalDebitKes: 1580.9,
		},
		Onchain:   entities.Onchain{VerificationStatus: entities.VerificationNotRequired},
		Refund:    entities.Refund{Status: entities.RefundNone},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if flow.IsFunded() {
		tx.Onchain = entities.Onchain{
			Required:           true,
			FromAddress:        "0x1111111111111111111111111111111111111111",
			FundedAmountUnits:  "10199355",
			VerificationStatus: entities.VerificationVerified,
		}
	}
	require.NoError(t, f.repo.Create(context.Background(), tx))
	return tx
}

const b2cSuccessBody = `{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","OriginatorConversationID":"OC_1","ConversationID":"AG_1","TransactionID":"RCPT00123"}}`

func TestWebhookB2CResultSuccess(t *testing.T) {
	f := newWebhookFixture(t)
	tx := f.seed(t, entities.FlowOfframp, entities.StatusMpesaProcessing)

	outcome, err := f.webhook.Handle(context.Background(), WebhookKindB2CResult, tx.TransactionID, []byte(b2cSuccessBody))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	stored, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, entities.StatusSucceeded, stored.Status)
	require.Equal(t, "RCPT00123", stored.Daraja.ReceiptNumber.String)
	require.Equal(t, "AG_1", stored.Daraja.ConversationID.String)
	require.EqualValues(t, 0, stored.Daraja.ResultCode.Int)
	require.NotNil(t, stored.Daraja.CallbackReceivedAt)

	events, err := f.dedup.ListByTransaction(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, WebhookKindB2CResult+":"+tx.TransactionID+":AG_1:0", events[0].EventKey)
}

func TestWebhookExactReplayIsDuplicate(t *testing.T) {
	f := newWebhookFixture(t)
	tx := f.seed(t, entities.FlowOfframp, entities.StatusMpesaProcessing)

	outcome, err := f.webhook.Handle(context.Background(), WebhookKindB2CResult, tx.TransactionID, []byte(b2cSuccessBody))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	first, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)

	outcome, err = f.webhook.Handle(context.Background(), WebhookKindB2CResult, tx.TransactionID, []byte(b2cSuccessBody))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)

	second, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, first.Version, second.Version)
	require.Len(t, second.History, len(first.History))
}

func TestWebhookOrphanCallback(t *testing.T) {
	f := newWebhookFixture(t)

	outcome, err := f.webhook.Handle(context.Background(), WebhookKindB2CResult, "TXN_unknown", []byte(`{"Result":{"ResultCode":0}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeOrphan, outcome)
}

func TestWebhookUnparseableBody(t *testing.T) {
	f := newWebhookFixture(t)

	outcome, err := f.webhook.Handle(context.Background(), WebhookKindB2CResult, "TXN_x", []byte("not json"))
	require.Error(t, err)
	require.Equal(t, OutcomeError, outcome)
}

func TestWebhookLocateByProviderRef(t *testing.T) {
	f := newWebhookFixture(t)
	tx := f.seed(t, entities.FlowOfframp, entities.StatusMpesaProcessing)
	tx.Daraja.ConversationID = null.StringFrom("AG_1")
	require.NoError(t, f.repo.Update(context.Background(), tx))

	outcome, err := f.webhook.Handle(context.Background(), WebhookKindB2CResult, "", []byte(b2cSuccessBody))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	stored, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, entities.StatusSucceeded, stored.Status)
}

func TestWebhookTimeoutFailsAndRefunds(t *testing.T) {
	f := newWebhookFixture(t)
	tx := f.seed(t, entities.FlowPaybill, entities.StatusMpesaProcessing)

	outcome, err := f.webhook.Handle(context.Background(), WebhookKindB2BTimeout, tx.TransactionID,
		[]byte(`{"Result":{"OriginatorConversationID":"OC_9"}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	stored, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, entities.StatusRefunded, stored.Status)
	require.Equal(t, entities.RefundCompleted, stored.Refund.Status)
	require.True(t, strings.HasPrefix(stored.Refund.TxHash, "RF_"), stored.Refund.TxHash)

	events, err := f.dedup.ListByTransaction(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	// No result code in a timeout notification, so the key carries "timeout".
	require.Equal(t, WebhookKindB2BTimeout+":"+tx.TransactionID+":OC_9:timeout", events[0].EventKey)
}

func TestWebhookTimeoutWithZeroCodeStillFails(t *testing.T) {
	f := newWebhookFixture(t)
	tx := f.seed(t, entities.FlowOfframp, entities.StatusMpesaProcessing)

	outcome, err := f.webhook.Handle(context.Background(), WebhookKindB2CTimeout, tx.TransactionID,
		[]byte(`{"Result":{"ResultCode":0,"ConversationID":"AG_7"}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	stored, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, entities.StatusRefunded, stored.Status)
}

func TestWebhookFailureCodeFailsAndRefunds(t *testing.T) {
	f := newWebhookFixture(t)
	tx := f.seed(t, entities.FlowOfframp, entities.StatusMpesaProcessing)

	outcome, err := f.webhook.Handle(context.Background(), WebhookKindB2CResult, tx.TransactionID,
		[]byte(`{"Result":{"ResultCode":2001,"ResultDesc":"The initiator information is invalid.","ConversationID":"AG_2"}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	stored, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, entities.StatusRefunded, stored.Status)
	require.Equal(t, "2001", stored.Daraja.ResultCodeRaw.String)
	require.Contains(t, stored.Refund.Reason, "initiator information")
}

const stkSuccessBody = `{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":1013},{"Name":"MpesaReceiptNumber","Value":"SAC12XYZ99"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

func TestWebhookSTKSuccessSettlesOnramp(t *testing.T) {
	f := newWebhookFixture(t)
	tx := f.seed(t, entities.FlowOnramp, entities.StatusMpesaSubmitted)

	outcome, err := f.webhook.Handle(context.Background(), WebhookKindSTK, tx.TransactionID, []byte(stkSuccessBody))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	// The credit settles asynchronously after the ack.
	require.Eventually(t, func() bool {
		stored, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
		return err == nil && stored.Status == entities.StatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "SAC12XYZ99", stored.Daraja.ReceiptNumber.String)
	require.True(t, strings.HasPrefix(stored.Onchain.TxHash, "RF_"))
	require.Equal(t, entities.VerificationVerified, stored.Onchain.VerificationStatus)
}

func TestWebhookSTKFailureFailsOnramp(t *testing.T) {
	f := newWebhookFixture(t)
	tx := f.seed(t, entities.FlowOnramp, entities.StatusMpesaSubmitted)

	body := `{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	outcome, err := f.webhook.Handle(context.Background(), WebhookKindSTK, tx.TransactionID, []byte(body))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	stored, err := f.repo.GetByTransactionID(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	require.Equal(t, entities.StatusFailed, stored.Status)
	// Onramp never refunds on-chain; nothing was funded.
	require.Equal(t, entities.RefundNone, stored.Refund.Status)
}

func TestBuildEventKeyFallbacks(t *testing.T) {
	result := &daraja.CallbackResult{CheckoutRequestID: "ws_CO_1", RawCode: "0"}
	require.Equal(t, "stk:TXN_1:ws_CO_1:0", buildEventKey("stk", "TXN_1", result))

	result = &daraja.CallbackResult{ConversationID: "AG_1", RawCode: "1"}
	require.Equal(t, "b2c_result:TXN_1:AG_1:1", buildEventKey("b2c_result", "TXN_1", result))

	result = &daraja.CallbackResult{OriginatorConversationID: "OC_1"}
	require.Equal(t, "b2c_timeout:TXN_1:OC_1:timeout", buildEventKey("b2c_timeout", "TXN_1", result))

	result = &daraja.CallbackResult{}
	require.Equal(t, "b2b_timeout:TXN_1:none:timeout", buildEventKey("b2b_timeout", "TXN_1", result))
}
