package daraja

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"dotpay.backend/internal/config"
	"dotpay.backend/pkg/logger"
)

const (
	requestTimeout = 30 * time.Second

	oauthPath     = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath   = "/mpesa/stkpush/v1/processrequest"
	b2cPath       = "/mpesa/b2c/v3/paymentrequest"
	b2bPath       = "/mpesa/b2b/v1/paymentrequest"
	txnStatusPath = "/mpesa/transactionstatus/v1/query"
)

var ErrMissingCredentials = errors.New("daraja consumer key/secret not configured")

// SubmitResult classifies a synchronous provider response. Accepted means
// HTTP 2xx with ResponseCode "0"; anything else is a synchronous rejection.
type SubmitResult struct {
	Accepted                 bool
	HTTPStatus               int
	ResponseCode             string
	ResponseDescription      string
	MerchantRequestID        string
	CheckoutRequestID        string
	ConversationID           string
	OriginatorConversationID string
	Raw                      map[string]interface{}
}

// tokenCache is the process-wide cached OAuth bearer. The mutex ensures at
// most one refresh is in flight.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Client talks to the Daraja API.
type Client struct {
	cfg        config.MpesaConfig
	httpClient *http.Client
	token      tokenCache
	credential *SecurityCredential

	// doRequest is the HTTP seam for tests.
	doRequest func(req *http.Request) (*http.Response, error)
}

// NewClient creates a Daraja client from the mpesa configuration.
func NewClient(cfg config.MpesaConfig) (*Client, error) {
	credential, err := ResolveSecurityCredential(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		credential: credential,
	}
	c.doRequest = func(req *http.Request) (*http.Response, error) {
		return c.httpClient.Do(req)
	}
	return c, nil
}

// AccessToken returns a cached bearer, refreshing when expired.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.token.mu.Lock()
	defer c.token.mu.Unlock()

	if c.token.token != "" && time.Now().Before(c.token.expiresAt) {
		return c.token.token, nil
	}
	return c.refreshTokenLocked(ctx)
}

// invalidateToken drops the cached bearer so the next call refreshes.
func (c *Client) invalidateToken() {
	c.token.mu.Lock()
	c.token.token = ""
	c.token.mu.Unlock()
}

func (c *Client) refreshTokenLocked(ctx context.Context) (string, error) {
	if c.cfg.ConsumerKey == "" || c.cfg.ConsumerSecret == "" {
		return "", ErrMissingCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ResolveBaseURL()+oauthPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.doRequest(req)
	if err != nil {
		return "", fmt.Errorf("daraja oauth request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("daraja oauth rejected: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("daraja oauth response unparseable: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("daraja oauth response missing access_token")
	}

	// Expire 30s early; never cache for less than 60s.
	ttl := 3599 * time.Second
	if secs, err := parseExpiresIn(parsed.ExpiresIn); err == nil {
		ttl = time.Duration(secs) * time.Second
	}
	ttl -= 30 * time.Second
	if ttl < 60*time.Second {
		ttl = 60 * time.Second
	}

	c.token.token = parsed.AccessToken
	c.token.expiresAt = time.Now().Add(ttl)
	return c.token.token, nil
}

// SubmitSTKPush submits a customer push prompt.
func (c *Client) SubmitSTKPush(ctx context.Context, payload *STKPushRequest) (*SubmitResult, error) {
	return c.submit(ctx, stkPushPath, payload)
}

// SubmitB2C submits a business-to-consumer disbursement.
func (c *Client) SubmitB2C(ctx context.Context, payload *B2CRequest) (*SubmitResult, error) {
	return c.submit(ctx, b2cPath, payload)
}

// SubmitB2B submits a business-to-business disbursement.
func (c *Client) SubmitB2B(ctx context.Context, payload *B2BRequest) (*SubmitResult, error) {
	return c.submit(ctx, b2bPath, payload)
}

// QueryTransactionStatus issues a provider status query for reconciliation.
func (c *Client) QueryTransactionStatus(ctx context.Context, payload *TransactionStatusRequest) (map[string]interface{}, error) {
	result, err := c.submit(ctx, txnStatusPath, payload)
	if err != nil {
		return nil, err
	}
	return result.Raw, nil
}

// submit posts a signed payload, retrying once after a 401 with a fresh token.
func (c *Client) submit(ctx context.Context, path string, payload interface{}) (*SubmitResult, error) {
	result, status, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		logger.Warn(ctx, "daraja returned 401, refreshing token and retrying", zap.String("path", path))
		c.invalidateToken()
		result, _, err = c.post(ctx, path, payload)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*SubmitResult, int, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ResolveBaseURL()+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, 0, fmt.Errorf("daraja request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return classifyResponse(resp.StatusCode, respBody), resp.StatusCode, nil
}

// classifyResponse parses a synchronous provider response tolerantly, keeping
// the raw payload alongside the extracted fields.
func classifyResponse(status int, body []byte) *SubmitResult {
	result := &SubmitResult{HTTPStatus: status, Raw: map[string]interface{}{}}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &result.Raw)
	}

	result.ResponseCode = stringField(result.Raw, "ResponseCode")
	result.ResponseDescription = stringField(result.Raw, "ResponseDescription")
	if result.ResponseDescription == "" {
		result.ResponseDescription = stringField(result.Raw, "errorMessage")
	}
	result.MerchantRequestID = stringField(result.Raw, "MerchantRequestID")
	result.CheckoutRequestID = stringField(result.Raw, "CheckoutRequestID")
	result.ConversationID = stringField(result.Raw, "ConversationID")
	result.OriginatorConversationID = stringField(result.Raw, "OriginatorConversationID")

	result.Accepted = status >= 200 && status < 300 && result.ResponseCode == "0"
	return result
}

// stringField extracts a field as a string whether the provider sent a
// string or a number.
func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func parseExpiresIn(s string) (int, error) {
	var secs int
	_, err := fmt.Sscanf(s, "%d", &secs)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid expires_in %q", s)
	}
	return secs, nil
}
