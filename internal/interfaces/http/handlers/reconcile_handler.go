package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/domain/entities"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/interfaces/http/response"
	"dotpay.backend/internal/usecases"
)

// ReconcileHandler serves the operator reconcile endpoint.
type ReconcileHandler struct {
	reconciler *usecases.ReconcileUsecase
}

// NewReconcileHandler creates a new reconcile handler
func NewReconcileHandler(reconciler *usecases.ReconcileUsecase) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler}
}

// Reconcile runs one sweep over stuck transactions.
// POST /api/mpesa/internal/reconcile
func (h *ReconcileHandler) Reconcile(c *gin.Context) {
	var input entities.ReconcileInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			response.Error(c, domainerrors.Validation("invalid request body: "+err.Error()))
			return
		}
	}

	result, err := h.reconciler.Run(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
