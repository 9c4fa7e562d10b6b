package handlers

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dotpay.backend/internal/config"
	"dotpay.backend/internal/usecases"
	"dotpay.backend/pkg/logger"
	"dotpay.backend/pkg/metrics"
)

// WebhookSecretHeader optionally carries the shared callback secret.
const WebhookSecretHeader = "X-Webhook-Secret"

const maxCallbackBody = 1 << 20

// WebhookHandler receives asynchronous provider callbacks. Every endpoint
// acks with 200 and the provider envelope regardless of internal outcome so
// the provider never retries indefinitely.
type WebhookHandler struct {
	cfg      config.MpesaConfig
	webhooks *usecases.WebhookUsecase
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(cfg config.MpesaConfig, webhooks *usecases.WebhookUsecase) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, webhooks: webhooks}
}

// STK handles POST /api/mpesa/webhooks/stk
func (h *WebhookHandler) STK(c *gin.Context) {
	h.handle(c, usecases.WebhookKindSTK)
}

// B2CResult handles POST /api/mpesa/webhooks/b2c/result
func (h *WebhookHandler) B2CResult(c *gin.Context) {
	h.handle(c, usecases.WebhookKindB2CResult)
}

// B2CTimeout handles POST /api/mpesa/webhooks/b2c/timeout
func (h *WebhookHandler) B2CTimeout(c *gin.Context) {
	h.handle(c, usecases.WebhookKindB2CTimeout)
}

// B2BResult handles POST /api/mpesa/webhooks/b2b/result
func (h *WebhookHandler) B2BResult(c *gin.Context) {
	h.handle(c, usecases.WebhookKindB2BResult)
}

// B2BTimeout handles POST /api/mpesa/webhooks/b2b/timeout
func (h *WebhookHandler) B2BTimeout(c *gin.Context) {
	h.handle(c, usecases.WebhookKindB2BTimeout)
}

func (h *WebhookHandler) handle(c *gin.Context, kind string) {
	defer h.ack(c)

	if !h.secretOK(c) {
		logger.Warn(c.Request.Context(), "callback with bad shared secret", zap.String("kind", kind))
		metrics.ObserveCallback(kind, string(usecases.OutcomeError))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		logger.Error(c.Request.Context(), "failed to read callback body", zap.String("kind", kind), zap.Error(err))
		metrics.ObserveCallback(kind, string(usecases.OutcomeError))
		return
	}

	outcome, err := h.webhooks.Handle(c.Request.Context(), kind, c.Query("tx"), body)
	if err != nil {
		logger.Error(c.Request.Context(), "callback processing failed",
			zap.String("kind", kind), zap.String("outcome", string(outcome)), zap.Error(err))
	}
	metrics.ObserveCallback(kind, string(outcome))
}

// secretOK validates the optional shared secret from header or query.
func (h *WebhookHandler) secretOK(c *gin.Context) bool {
	if h.cfg.WebhookSecret == "" {
		return true
	}
	provided := c.GetHeader(WebhookSecretHeader)
	if provided == "" {
		provided = c.Query("secret")
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.cfg.WebhookSecret)) == 1
}

// ack sends the fixed provider acknowledgement.
func (h *WebhookHandler) ack(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}
