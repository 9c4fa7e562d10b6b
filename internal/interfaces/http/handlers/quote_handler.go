package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/interfaces/http/middleware"
	"dotpay.backend/internal/interfaces/http/response"
	"dotpay.backend/internal/usecases"
)

// QuoteHandler serves quote pricing requests.
type QuoteHandler struct {
	quotes *usecases.QuoteUsecase
}

// NewQuoteHandler creates a new quote handler
func NewQuoteHandler(quotes *usecases.QuoteUsecase) *QuoteHandler {
	return &QuoteHandler{quotes: quotes}
}

// CreateQuote prices a request and records the quoted transaction.
// POST /api/mpesa/quotes
func (h *QuoteHandler) CreateQuote(c *gin.Context) {
	userAddress, ok := middleware.GetUserAddress(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("authentication required"))
		return
	}

	var input entities.QuoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.Validation("invalid request body: "+err.Error()))
		return
	}

	tx, err := h.quotes.CreateQuotedTransaction(c.Request.Context(), userAddress, input, requestMetadata(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"quote":       tx.Quote,
		"transaction": tx,
	})
}

// requestMetadata captures request provenance for the transaction record.
func requestMetadata(c *gin.Context) entities.Metadata {
	return entities.Metadata{
		Source:    "api",
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
