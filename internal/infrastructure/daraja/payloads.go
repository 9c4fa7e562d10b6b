package daraja

import (
	"encoding/base64"
	"math"
	"time"

	"dotpay.backend/internal/config"
)

const (
	timestampLayout = "20060102150405"

	maxAccountReferenceLen = 12
	maxTransactionDescLen  = 182
	maxRemarksLen          = 100

	// Daraja identifier types.
	IdentifierShortcode = 4
	IdentifierTill      = 2
)

// STKPushRequest is the Lipa-Na-M-Pesa online payment payload.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// B2CRequest is the business-to-customer disbursement payload.
type B2CRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   int64  `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion,omitempty"`
}

// B2BRequest is the business-to-business payment payload, used for paybill
// and buygoods settlement.
type B2BRequest struct {
	Initiator              string `json:"Initiator"`
	SecurityCredential     string `json:"SecurityCredential"`
	CommandID              string `json:"CommandID"`
	SenderIdentifierType   int    `json:"SenderIdentifierType"`
	RecieverIdentifierType int    `json:"RecieverIdentifierType"`
	Amount                 int64  `json:"Amount"`
	PartyA                 string `json:"PartyA"`
	PartyB                 string `json:"PartyB"`
	AccountReference       string `json:"AccountReference"`
	Requester              string `json:"Requester,omitempty"`
	Remarks                string `json:"Remarks"`
	QueueTimeOutURL        string `json:"QueueTimeOutURL"`
	ResultURL              string `json:"ResultURL"`
}

// TransactionStatusRequest is the provider status query payload.
type TransactionStatusRequest struct {
	Initiator                string `json:"Initiator"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	TransactionID            string `json:"TransactionID,omitempty"`
	OriginatorConversationID string `json:"OriginatorConversationID,omitempty"`
	PartyA                   string `json:"PartyA"`
	IdentifierType           int    `json:"IdentifierType"`
	ResultURL                string `json:"ResultURL"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	Remarks                  string `json:"Remarks"`
	Occasion                 string `json:"Occasion,omitempty"`
}

// STKPassword derives the Lipa-Na-M-Pesa password for a shortcode, passkey and
// timestamp: base64(shortcode || passkey || timestamp).
func STKPassword(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// ProviderAmount converts a KES amount to the integer Daraja expects,
// rounding up so the customer is never undercharged.
func ProviderAmount(amountKes float64) int64 {
	return int64(math.Ceil(amountKes))
}

// Truncate clips s to max bytes. Daraja rejects over-long free-text fields.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// BuildSTKPush assembles an STK push payload for an onramp charge.
func BuildSTKPush(cfg config.MpesaConfig, amountKes float64, phone, accountRef, desc, callbackURL string, now time.Time) *STKPushRequest {
	shortcode := cfg.STKShortcode
	if shortcode == "" {
		shortcode = cfg.Shortcode
	}
	ts := now.Format(timestampLayout)
	if accountRef == "" {
		accountRef = "DotPay"
	}
	if desc == "" {
		desc = "DotPay onramp"
	}
	return &STKPushRequest{
		BusinessShortCode: shortcode,
		Password:          STKPassword(shortcode, cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            ProviderAmount(amountKes),
		PartyA:            phone,
		PartyB:            shortcode,
		PhoneNumber:       phone,
		CallBackURL:       callbackURL,
		AccountReference:  Truncate(accountRef, maxAccountReferenceLen),
		TransactionDesc:   Truncate(desc, maxTransactionDescLen),
	}
}

// BuildB2C assembles a customer payout payload for an offramp.
func (c *Client) BuildB2C(originatorID string, amountKes float64, phone, remarks, resultURL, timeoutURL string) *B2CRequest {
	shortcode := c.cfg.B2CShortcode
	if shortcode == "" {
		shortcode = c.cfg.Shortcode
	}
	if remarks == "" {
		remarks = "DotPay offramp"
	}
	return &B2CRequest{
		OriginatorConversationID: originatorID,
		InitiatorName:            c.cfg.InitiatorName,
		SecurityCredential:       c.credential.Value(),
		CommandID:                "BusinessPayment",
		Amount:                   ProviderAmount(amountKes),
		PartyA:                   shortcode,
		PartyB:                   phone,
		Remarks:                  Truncate(remarks, maxRemarksLen),
		QueueTimeOutURL:          timeoutURL,
		ResultURL:                resultURL,
	}
}

// BuildB2BPaybill assembles a business payment to a paybill number.
func (c *Client) BuildB2BPaybill(amountKes float64, paybill, accountRef, requester, resultURL, timeoutURL string) *B2BRequest {
	req := c.baseB2B(amountKes, paybill, accountRef, requester, resultURL, timeoutURL)
	req.CommandID = "BusinessPayBill"
	req.RecieverIdentifierType = IdentifierShortcode
	return req
}

// BuildB2BBuygoods assembles a business payment to a till number. The
// receiver identifier type is configurable because operator accounts differ
// in how their tills are registered.
func (c *Client) BuildB2BBuygoods(amountKes float64, till, accountRef, requester, resultURL, timeoutURL string) *B2BRequest {
	req := c.baseB2B(amountKes, till, accountRef, requester, resultURL, timeoutURL)
	req.CommandID = "BusinessBuyGoods"
	req.RecieverIdentifierType = c.cfg.B2BBuygoodsReceiverType
	if req.RecieverIdentifierType == 0 {
		req.RecieverIdentifierType = IdentifierTill
	}
	return req
}

func (c *Client) baseB2B(amountKes float64, partyB, accountRef, requester, resultURL, timeoutURL string) *B2BRequest {
	shortcode := c.cfg.B2BShortcode
	if shortcode == "" {
		shortcode = c.cfg.Shortcode
	}
	if accountRef == "" {
		accountRef = "DotPay"
	}
	return &B2BRequest{
		Initiator:            c.cfg.InitiatorName,
		SecurityCredential:   c.credential.Value(),
		SenderIdentifierType: IdentifierShortcode,
		Amount:               ProviderAmount(amountKes),
		PartyA:               shortcode,
		PartyB:               partyB,
		AccountReference:     Truncate(accountRef, maxAccountReferenceLen),
		Requester:            requester,
		Remarks:              "DotPay settlement",
		QueueTimeOutURL:      timeoutURL,
		ResultURL:            resultURL,
	}
}

// BuildStatusQuery assembles a transaction status query by provider receipt
// or originator conversation ID.
func (c *Client) BuildStatusQuery(receipt, originatorID, resultURL, timeoutURL string) *TransactionStatusRequest {
	shortcode := c.cfg.B2CShortcode
	if shortcode == "" {
		shortcode = c.cfg.Shortcode
	}
	return &TransactionStatusRequest{
		Initiator:                c.cfg.InitiatorName,
		SecurityCredential:       c.credential.Value(),
		CommandID:                "TransactionStatusQuery",
		TransactionID:            receipt,
		OriginatorConversationID: originatorID,
		PartyA:                   shortcode,
		IdentifierType:           IdentifierShortcode,
		ResultURL:                resultURL,
		QueueTimeOutURL:          timeoutURL,
		Remarks:                  "DotPay reconciliation",
	}
}
