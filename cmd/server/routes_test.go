package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/interfaces/http/handlers"
)

func newTestRouteDeps() routeDeps {
	return routeDeps{
		quoteHandler:       &handlers.QuoteHandler{},
		transactionHandler: &handlers.TransactionHandler{},
		webhookHandler:     &handlers.WebhookHandler{},
		reconcileHandler:   &handlers.ReconcileHandler{},
		legacyHandler:      &handlers.LegacyHandler{},
		authMiddleware:     func(c *gin.Context) { c.Next() },
		internalMiddleware: func(c *gin.Context) { c.Next() },
	}
}

func TestRegisterRoutes_RegistersKeyRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerRoutes(r, newTestRouteDeps())

	expects := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/api/mpesa/quotes"},
		{"GET", "/api/mpesa/transactions"},
		{"GET", "/api/mpesa/transactions/:id"},
		{"POST", "/api/mpesa/onramp/stk/initiate"},
		{"POST", "/api/mpesa/offramp/initiate"},
		{"POST", "/api/mpesa/merchant/paybill/initiate"},
		{"POST", "/api/mpesa/merchant/buygoods/initiate"},
		{"POST", "/api/mpesa/webhooks/stk"},
		{"POST", "/api/mpesa/webhooks/b2c/result"},
		{"POST", "/api/mpesa/webhooks/b2c/timeout"},
		{"POST", "/api/mpesa/webhooks/b2b/result"},
		{"POST", "/api/mpesa/webhooks/b2b/timeout"},
		{"POST", "/api/mpesa/internal/reconcile"},
		{"POST", "/api/mpesa/legacy/deposit"},
		{"POST", "/api/mpesa/legacy/withdraw"},
	}

	routes := r.Routes()
	for _, exp := range expects {
		found := false
		for _, route := range routes {
			if route.Method == exp.method && route.Path == exp.path {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("route %s %s not registered", exp.method, exp.path)
		}
	}
}

func TestRegisterRoutes_HealthResponds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerRoutes(r, newTestRouteDeps())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", w.Code)
	}
}
