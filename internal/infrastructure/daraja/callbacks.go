package daraja

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CallbackResult is the provider-agnostic view of an asynchronous callback.
// RawCode preserves the provider's original representation; Code is the
// parsed value when the code was numeric or a numeric string.
type CallbackResult struct {
	RawCode                  string
	Code                     int64
	CodeParsed               bool
	Description              string
	MerchantRequestID        string
	CheckoutRequestID        string
	ConversationID           string
	OriginatorConversationID string
	Receipt                  string
	Raw                      map[string]interface{}
}

// Success reports whether the provider signalled completion. An unparseable
// code is never treated as success.
func (r *CallbackResult) Success() bool {
	return r.CodeParsed && r.Code == 0
}

// ParseResultCode normalises a provider result code which may arrive as a
// JSON number or a string.
func ParseResultCode(v interface{}) (raw string, code int64, ok bool) {
	switch t := v.(type) {
	case nil:
		return "", 0, false
	case float64:
		return strconv.FormatInt(int64(t), 10), int64(t), t == float64(int64(t))
	case string:
		raw = t
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return raw, 0, false
		}
		return raw, n, true
	case json.Number:
		raw = t.String()
		n, err := t.Int64()
		if err != nil {
			return raw, 0, false
		}
		return raw, n, true
	default:
		return fmt.Sprintf("%v", v), 0, false
	}
}

// ParseSTKCallback decodes an STK push callback body:
//
//	{"Body":{"stkCallback":{...}}}
//
// The M-Pesa receipt is pulled from CallbackMetadata when present.
func ParseSTKCallback(body []byte) (*CallbackResult, error) {
	var envelope struct {
		Body struct {
			StkCallback struct {
				MerchantRequestID string      `json:"MerchantRequestID"`
				CheckoutRequestID string      `json:"CheckoutRequestID"`
				ResultCode        interface{} `json:"ResultCode"`
				ResultDesc        string      `json:"ResultDesc"`
				CallbackMetadata  struct {
					Item []metadataItem `json:"Item"`
				} `json:"CallbackMetadata"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("stk callback unparseable: %w", err)
	}

	cb := envelope.Body.StkCallback
	result := &CallbackResult{
		Description:       cb.ResultDesc,
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		Raw:               rawMap(body),
	}
	result.RawCode, result.Code, result.CodeParsed = ParseResultCode(cb.ResultCode)
	result.Receipt = itemString(cb.CallbackMetadata.Item, "MpesaReceiptNumber")
	return result, nil
}

// ParseResultCallback decodes a B2C/B2B result body:
//
//	{"Result":{...}}
//
// The same envelope carries timeout notifications, whose ResultCode is
// non-zero or absent.
func ParseResultCallback(body []byte) (*CallbackResult, error) {
	var envelope struct {
		Result struct {
			ResultType               interface{} `json:"ResultType"`
			ResultCode               interface{} `json:"ResultCode"`
			ResultDesc               string      `json:"ResultDesc"`
			OriginatorConversationID string      `json:"OriginatorConversationID"`
			ConversationID           string      `json:"ConversationID"`
			TransactionID            string      `json:"TransactionID"`
			ResultParameters         struct {
				ResultParameter []metadataItem `json:"ResultParameter"`
			} `json:"ResultParameters"`
		} `json:"Result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("result callback unparseable: %w", err)
	}

	r := envelope.Result
	result := &CallbackResult{
		Description:              r.ResultDesc,
		OriginatorConversationID: r.OriginatorConversationID,
		ConversationID:           r.ConversationID,
		Receipt:                  r.TransactionID,
		Raw:                      rawMap(body),
	}
	result.RawCode, result.Code, result.CodeParsed = ParseResultCode(r.ResultCode)
	if result.Receipt == "" {
		result.Receipt = itemString(r.ResultParameters.ResultParameter, "TransactionID")
	}
	return result, nil
}

type metadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

func itemString(items []metadataItem, name string) string {
	for _, item := range items {
		if item.Name != name {
			continue
		}
		switch v := item.Value.(type) {
		case string:
			return v
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func rawMap(body []byte) map[string]interface{} {
	m := map[string]interface{}{}
	_ = json.Unmarshal(body, &m)
	return m
}
