package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/interfaces/http/response"
	"dotpay.backend/internal/usecases"
	"dotpay.backend/pkg/utils"
)

// LegacyHandler is the deprecated C2B-style shim kept for old clients. It is
// unauthenticated (rate-limited at the router) and funnels into the same
// orchestrator as the first-class endpoints. Deposit maps to onramp; withdraw
// maps to offramp and still requires the wallet authorization fields in the
// body since there is no bearer token to trust.
type LegacyHandler struct {
	transactions *usecases.TransactionUsecase
}

// NewLegacyHandler creates a new legacy handler
func NewLegacyHandler(transactions *usecases.TransactionUsecase) *LegacyHandler {
	return &LegacyHandler{transactions: transactions}
}

type legacyDepositRequest struct {
	Phone  string  `json:"phone" binding:"required"`
	Amount float64 `json:"amount" binding:"required"`
}

type legacyWithdrawRequest struct {
	Address       string  `json:"address" binding:"required"`
	Phone         string  `json:"phone" binding:"required"`
	Amount        float64 `json:"amount" binding:"required"`
	PIN           string  `json:"pin"`
	PINHash       string  `json:"pinHash"`
	Signature     string  `json:"signature"`
	SignedAt      string  `json:"signedAt"`
	Nonce         string  `json:"nonce"`
	OnchainTxHash string  `json:"onchainTxHash"`
}

// Deposit starts an STK charge for an unauthenticated legacy caller.
// POST /api/mpesa/legacy/deposit (deprecated)
func (h *LegacyHandler) Deposit(c *gin.Context) {
	markDeprecated(c)

	var req legacyDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.Validation("invalid request body: "+err.Error()))
		return
	}

	// Legacy callers have no wallet identity; the account is keyed by phone.
	result, err := h.transactions.Initiate(c.Request.Context(), entities.FlowOnramp,
		legacyAccount(req.Phone), legacyIdempotencyKey(),
		entities.InitiateInput{
			Amount:   req.Amount,
			Currency: entities.CurrencyKES,
			Phone:    req.Phone,
		},
		entities.Metadata{Source: "legacy", IP: c.ClientIP(), UserAgent: c.Request.UserAgent()})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, http.StatusCreated, result, "deprecated endpoint, use /api/mpesa/onramp/stk/initiate")
}

// Withdraw starts an offramp for a legacy caller. The wallet authorization
// fields move into the body because there is no bearer token.
// POST /api/mpesa/legacy/withdraw (deprecated)
func (h *LegacyHandler) Withdraw(c *gin.Context) {
	markDeprecated(c)

	var req legacyWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.Validation("invalid request body: "+err.Error()))
		return
	}

	result, err := h.transactions.Initiate(c.Request.Context(), entities.FlowOfframp,
		strings.ToLower(req.Address), legacyIdempotencyKey(),
		entities.InitiateInput{
			Amount:        req.Amount,
			Currency:      entities.CurrencyKES,
			Phone:         req.Phone,
			PIN:           req.PIN,
			PINHash:       req.PINHash,
			Signature:     req.Signature,
			SignedAt:      req.SignedAt,
			Nonce:         req.Nonce,
			OnchainTxHash: req.OnchainTxHash,
		},
		entities.Metadata{Source: "legacy", IP: c.ClientIP(), UserAgent: c.Request.UserAgent()})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, http.StatusCreated, result, "deprecated endpoint, use /api/mpesa/offramp/initiate")
}

func markDeprecated(c *gin.Context) {
	c.Header("Deprecation", "true")
	c.Header("Sunset", "Tue, 30 Jun 2026 00:00:00 GMT")
}

func legacyAccount(phone string) string {
	return "legacy:" + phone
}

func legacyIdempotencyKey() string {
	return "legacy:" + utils.NewTransactionID()
}
