package entities

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// FlowType represents the payment flow a transaction belongs to.
type FlowType string

const (
	FlowOnramp   FlowType = "onramp"
	FlowOfframp  FlowType = "offramp"
	FlowPaybill  FlowType = "paybill"
	FlowBuygoods FlowType = "buygoods"
)

// IsFunded reports whether the flow requires on-chain funding before payout.
func (f FlowType) IsFunded() bool {
	return f == FlowOfframp || f == FlowPaybill || f == FlowBuygoods
}

// Valid reports whether f is a known flow type.
func (f FlowType) Valid() bool {
	switch f {
	case FlowOnramp, FlowOfframp, FlowPaybill, FlowBuygoods:
		return true
	}
	return false
}

// Status represents the transaction lifecycle state.
type Status string

const (
	StatusCreated          Status = "created"
	StatusQuoted           Status = "quoted"
	StatusAwaitingUserAuth Status = "awaiting_user_authorization"
	StatusAwaitingFunding  Status = "awaiting_onchain_funding"
	StatusMpesaSubmitted   Status = "mpesa_submitted"
	StatusMpesaProcessing  Status = "mpesa_processing"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusRefundPending    Status = "refund_pending"
	StatusRefunded         Status = "refunded"
)

// VerificationStatus tracks on-chain funding verification.
type VerificationStatus string

const (
	VerificationNotRequired VerificationStatus = "not_required"
	VerificationPending     VerificationStatus = "pending"
	VerificationVerified    VerificationStatus = "verified"
	VerificationFailed      VerificationStatus = "failed"
)

// RefundStatus tracks the compensating refund lifecycle.
type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Currency is the quoting currency.
type Currency string

const (
	CurrencyKES Currency = "KES"
	CurrencyUSD Currency = "USD"
)

// Quote is the priced snapshot embedded in a transaction.
type Quote struct {
	QuoteID            string    `json:"quoteId"`
	Currency           Currency  `json:"currency"`
	AmountRequested    float64   `json:"amountRequested"`
	AmountKes          float64   `json:"amountKes"`
	AmountUsd          float64   `json:"amountUsd"`
	RateKesPerUsd      float64   `json:"rateKesPerUsd"`
	FeeAmountKes       float64   `json:"feeAmountKes"`
	NetworkFeeKes      float64   `json:"networkFeeKes"`
	TotalDebitKes      float64   `json:"totalDebitKes"`
	ExpectedReceiveKes float64   `json:"expectedReceiveKes"`
	ExpiresAt          time.Time `json:"expiresAt"`
	SnapshotAt         time.Time `json:"snapshotAt"`
}

// Expired reports whether the quote TTL has elapsed at t.
func (q *Quote) Expired(t time.Time) bool {
	return t.After(q.ExpiresAt)
}

// Targets carries the payout destination; exactly one set is required per flow.
type Targets struct {
	Phone            string `json:"phone,omitempty"`
	PaybillNumber    string `json:"paybillNumber,omitempty"`
	TillNumber       string `json:"tillNumber,omitempty"`
	AccountReference string `json:"accountReference,omitempty"`
}

// Authorization records PIN and wallet-signature authorization details.
type Authorization struct {
	PINProvided   bool   `json:"pinProvided"`
	Signature     string `json:"signature,omitempty"`
	SignerAddress string `json:"signerAddress,omitempty"`
	SignedAt      string `json:"signedAt,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
}

// Onchain captures the funding (or credit) leg on the EVM chain.
type Onchain struct {
	Required            bool               `json:"required"`
	TxHash              string             `json:"txHash,omitempty"`
	ChainID             int64              `json:"chainId,omitempty"`
	TokenAddress        string             `json:"tokenAddress,omitempty"`
	TreasuryAddress     string             `json:"treasuryAddress,omitempty"`
	FromAddress         string             `json:"fromAddress,omitempty"`
	ToAddress           string             `json:"toAddress,omitempty"`
	ExpectedAmountUsd   float64            `json:"expectedAmountUsd"`
	ExpectedAmountUnits string             `json:"expectedAmountUnits,omitempty"`
	FundedAmountUsd     float64            `json:"fundedAmountUsd"`
	FundedAmountUnits   string             `json:"fundedAmountUnits,omitempty"`
	LogIndex            uint               `json:"logIndex,omitempty"`
	BlockNumber         uint64             `json:"blockNumber,omitempty"`
	VerificationStatus  VerificationStatus `json:"verificationStatus"`
	VerificationError   string             `json:"verificationError,omitempty"`
}

// Daraja holds provider-side identifiers and raw payloads. Raw blobs are
// opaque to the core logic.
type Daraja struct {
	MerchantRequestID         null.String            `json:"merchantRequestId,omitempty"`
	CheckoutRequestID         null.String            `json:"checkoutRequestId,omitempty"`
	ConversationID            null.String            `json:"conversationId,omitempty"`
	OriginatorConversationID  null.String            `json:"originatorConversationId,omitempty"`
	ResponseCode              null.String            `json:"responseCode,omitempty"`
	ResponseDescription       null.String            `json:"responseDescription,omitempty"`
	ResultCodeRaw             null.String            `json:"resultCodeRaw,omitempty"`
	ResultCode                null.Int               `json:"resultCode,omitempty"`
	ResultDescription         null.String            `json:"resultDescription,omitempty"`
	ReceiptNumber             null.String            `json:"receiptNumber,omitempty"`
	RawRequest                map[string]interface{} `json:"rawRequest,omitempty"`
	RawResponse               map[string]interface{} `json:"rawResponse,omitempty"`
	RawCallback               map[string]interface{} `json:"rawCallback,omitempty"`
	CallbackReceivedAt        *time.Time             `json:"callbackReceivedAt,omitempty"`
}

// Refund holds compensating refund bookkeeping.
type Refund struct {
	Status      RefundStatus `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	TxHash      string       `json:"txHash,omitempty"`
	InitiatedAt *time.Time   `json:"initiatedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// HistoryEntry is one applied state transition.
type HistoryEntry struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Reason string    `json:"reason"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Metadata carries request provenance and freeform extras, including the
// canonical signed authorization message.
type Metadata struct {
	Source    string                 `json:"source,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	UserAgent string                 `json:"userAgent,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Transaction is the central entity, unique by TransactionID.
type Transaction struct {
	TransactionID  string         `json:"transactionId"`
	FlowType       FlowType       `json:"flowType"`
	Status         Status         `json:"status"`
	UserAddress    string         `json:"userAddress"`
	BusinessID     string         `json:"businessId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Quote          *Quote         `json:"quote,omitempty"`
	Targets        Targets        `json:"targets"`
	Authorization  Authorization  `json:"authorization"`
	Onchain        Onchain        `json:"onchain"`
	Daraja         Daraja         `json:"daraja"`
	Refund         Refund         `json:"refund"`
	History        []HistoryEntry `json:"history"`
	Metadata       Metadata       `json:"metadata"`
	Version        int64          `json:"-"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Terminal reports whether the transaction can never transition again.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusRefunded
}

// TargetDescriptor renders the canonical authorization target line.
func (t *Transaction) TargetDescriptor() string {
	switch t.FlowType {
	case FlowOfframp:
		return "phone:" + t.Targets.Phone
	case FlowPaybill:
		return "paybill:" + t.Targets.PaybillNumber + ":" + t.Targets.AccountReference
	case FlowBuygoods:
		acct := t.Targets.AccountReference
		if acct == "" {
			acct = "DotPay"
		}
		return "buygoods:" + t.Targets.TillNumber + ":" + acct
	default:
		return "onramp"
	}
}

// QuoteInput is the request for building a quote.
type QuoteInput struct {
	FlowType       FlowType `json:"flowType" binding:"required"`
	Amount         float64  `json:"amount" binding:"required"`
	Currency       Currency `json:"currency" binding:"required"`
	KesPerUsd      float64  `json:"kesPerUsd,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	PaybillNumber  string   `json:"paybillNumber,omitempty"`
	TillNumber     string   `json:"tillNumber,omitempty"`
	AccountRef     string   `json:"accountReference,omitempty"`
}

// InitiateInput is the shared request shape for the initiate endpoints.
type InitiateInput struct {
	QuoteID          string   `json:"quoteId,omitempty"`
	Amount           float64  `json:"amount,omitempty"`
	Currency         Currency `json:"currency,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	PaybillNumber    string   `json:"paybillNumber,omitempty"`
	TillNumber       string   `json:"tillNumber,omitempty"`
	AccountReference string   `json:"accountReference,omitempty"`
	BusinessID       string   `json:"businessId,omitempty"`
	PIN              string   `json:"pin,omitempty"`
	PINHash          string   `json:"pinHash,omitempty"`
	Signature        string   `json:"signature,omitempty"`
	SignedAt         string   `json:"signedAt,omitempty"`
	Nonce            string   `json:"nonce,omitempty"`
	OnchainTxHash    string   `json:"onchainTxHash,omitempty"`
	ChainID          int64    `json:"chainId,omitempty"`
}

// InitiateResult is returned by the initiate endpoints.
type InitiateResult struct {
	Transaction *Transaction `json:"transaction"`
	Idempotent  bool         `json:"idempotent"`
}

// ReconcileInput drives the internal reconcile sweep.
type ReconcileInput struct {
	MaxAgeMinutes int    `json:"maxAgeMinutes,omitempty"`
	ExecuteQuery  bool   `json:"executeQuery,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// ReconcileResult reports sweep counts.
type ReconcileResult struct {
	Scanned      int `json:"scanned"`
	MarkedFailed int `json:"markedFailed"`
	Refunded     int `json:"refunded"`
	Queried      int `json:"queried"`
	QueryErrors  int `json:"queryErrors"`
}

// DedupEvent uniquely identifies an applied webhook callback.
type DedupEvent struct {
	EventKey      string                 `json:"eventKey"`
	TransactionID string                 `json:"transactionId"`
	Source        string                 `json:"source"`
	EventType     string                 `json:"eventType"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	ReceivedAt    time.Time              `json:"receivedAt"`
}

// DedupEvent sources.
const (
	DedupSourceWebhook   = "webhook"
	DedupSourceReconcile = "reconcile"
	DedupSourceSystem    = "system"
)
