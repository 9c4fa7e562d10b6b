package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/interfaces/http/handlers"
	"dotpay.backend/internal/interfaces/http/middleware"
	"dotpay.backend/pkg/metrics"
)

type routeDeps struct {
	quoteHandler       *handlers.QuoteHandler
	transactionHandler *handlers.TransactionHandler
	webhookHandler     *handlers.WebhookHandler
	reconcileHandler   *handlers.ReconcileHandler
	legacyHandler      *handlers.LegacyHandler
	authMiddleware     gin.HandlerFunc
	internalMiddleware gin.HandlerFunc
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	r.Use(metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "dotpay-backend"})
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/mpesa")
	{
		// Quote and read endpoints (bearer-authenticated)
		authed := api.Group("")
		authed.Use(d.authMiddleware)
		{
			authed.POST("/quotes", d.quoteHandler.CreateQuote)
			authed.GET("/transactions", d.transactionHandler.ListTransactions)
			authed.GET("/transactions/:id", d.transactionHandler.GetTransaction)

			// Initiate endpoints additionally require an Idempotency-Key
			initiate := authed.Group("")
			initiate.Use(middleware.IdempotencyMiddleware())
			{
				initiate.POST("/onramp/stk/initiate", d.transactionHandler.InitiateOnramp)
				initiate.POST("/offramp/initiate", d.transactionHandler.InitiateOfframp)
				initiate.POST("/merchant/paybill/initiate", d.transactionHandler.InitiatePaybill)
				initiate.POST("/merchant/buygoods/initiate", d.transactionHandler.InitiateBuygoods)
			}
		}

		// Provider callbacks (unauthenticated; optional shared secret inside)
		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/stk", d.webhookHandler.STK)
			webhooks.POST("/b2c/result", d.webhookHandler.B2CResult)
			webhooks.POST("/b2c/timeout", d.webhookHandler.B2CTimeout)
			webhooks.POST("/b2b/result", d.webhookHandler.B2BResult)
			webhooks.POST("/b2b/timeout", d.webhookHandler.B2BTimeout)
		}

		// Operator endpoints (internal API key)
		internal := api.Group("/internal")
		internal.Use(d.internalMiddleware)
		{
			internal.POST("/reconcile", d.reconcileHandler.Reconcile)
		}

		// Deprecated C2B shim, rate-limited per (ip, path)
		legacyLimiter := middleware.NewRateLimiter(10, time.Minute)
		legacy := api.Group("/legacy")
		legacy.Use(legacyLimiter.Middleware())
		{
			legacy.POST("/deposit", d.legacyHandler.Deposit)
			legacy.POST("/withdraw", d.legacyHandler.Withdraw)
		}
	}
}
