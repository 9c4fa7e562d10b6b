package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/domain/repositories"
	"dotpay.backend/internal/interfaces/http/middleware"
	"dotpay.backend/internal/interfaces/http/response"
	"dotpay.backend/internal/usecases"
)

// TransactionHandler serves the initiate and read endpoints.
type TransactionHandler struct {
	transactions *usecases.TransactionUsecase
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(transactions *usecases.TransactionUsecase) *TransactionHandler {
	return &TransactionHandler{transactions: transactions}
}

// InitiateOnramp starts an STK charge crediting the user's wallet.
// POST /api/mpesa/onramp/stk/initiate
func (h *TransactionHandler) InitiateOnramp(c *gin.Context) {
	h.initiate(c, entities.FlowOnramp)
}

// InitiateOfframp starts a funded cashout to the user's phone.
// POST /api/mpesa/offramp/initiate
func (h *TransactionHandler) InitiateOfframp(c *gin.Context) {
	h.initiate(c, entities.FlowOfframp)
}

// InitiatePaybill starts a funded merchant paybill payment.
// POST /api/mpesa/merchant/paybill/initiate
func (h *TransactionHandler) InitiatePaybill(c *gin.Context) {
	h.initiate(c, entities.FlowPaybill)
}

// InitiateBuygoods starts a funded till payment.
// POST /api/mpesa/merchant/buygoods/initiate
func (h *TransactionHandler) InitiateBuygoods(c *gin.Context) {
	h.initiate(c, entities.FlowBuygoods)
}

func (h *TransactionHandler) initiate(c *gin.Context, flow entities.FlowType) {
	userAddress, ok := middleware.GetUserAddress(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("authentication required"))
		return
	}

	var input entities.InitiateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.Validation("invalid request body: "+err.Error()))
		return
	}

	result, err := h.transactions.Initiate(
		c.Request.Context(), flow, userAddress,
		c.GetHeader(middleware.IdempotencyHeader), input, requestMetadata(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	response.Success(c, status, result)
}

// GetTransaction returns one of the caller's transactions.
// GET /api/mpesa/transactions/:id
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	userAddress, ok := middleware.GetUserAddress(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("authentication required"))
		return
	}

	tx, err := h.transactions.GetTransaction(c.Request.Context(), userAddress, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tx)
}

// ListTransactions lists the caller's transactions, newest first.
// GET /api/mpesa/transactions?flowType=&status=&limit=
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	userAddress, ok := middleware.GetUserAddress(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("authentication required"))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, domainerrors.Validation("limit must be an integer"))
			return
		}
		limit = parsed
	}

	txs, err := h.transactions.ListTransactions(c.Request.Context(), userAddress, repositories.TransactionFilter{
		FlowType: entities.FlowType(c.Query("flowType")),
		Status:   entities.Status(c.Query("status")),
		Limit:    limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}
