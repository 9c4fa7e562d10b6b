package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"dotpay.backend/internal/config"
	"dotpay.backend/internal/infrastructure/blockchain"
	"dotpay.backend/internal/infrastructure/daraja"
	"dotpay.backend/internal/infrastructure/jobs"
	"dotpay.backend/internal/infrastructure/models"
	"dotpay.backend/internal/infrastructure/repositories"
	"dotpay.backend/internal/interfaces/http/handlers"
	"dotpay.backend/internal/interfaces/http/middleware"
	"dotpay.backend/internal/usecases"
	"dotpay.backend/pkg/jwt"
	"dotpay.backend/pkg/logger"
	"dotpay.backend/pkg/redis"
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = func(dsn string) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt: false,
		})
	}
	runServer = func(r *gin.Engine, port string) error { return r.Run(":" + port) }
	getStdDB  = func(db *gorm.DB) (*sql.DB, error) { return db.DB() }
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := loadCfg()

	initLog(cfg.Server.Env)
	logger.Info(context.Background(), "Logger initialized", zap.String("env", cfg.Server.Env))

	if err := initRedis(cfg.Redis.URL, cfg.Redis.Password); err != nil {
		logger.Error(context.Background(), "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info(context.Background(), "Redis initialized")

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := getStdDB(db)
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Printf("⚠️ Database not available: %v (endpoints will return errors)", err)
	} else {
		log.Println("✅ Connected to PostgreSQL via GORM")
		if err := db.AutoMigrate(&models.Transaction{}, &models.DedupEvent{}); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry)

	txRepo := repositories.NewTransactionRepository(db)
	dedupRepo := repositories.NewDedupEventRepository(db)

	darajaClient, err := daraja.NewClient(cfg.Mpesa)
	if err != nil {
		return fmt.Errorf("failed to initialize daraja client: %w", err)
	}

	clientFactory := blockchain.NewClientFactory()
	treasury, err := buildTreasury(clientFactory, cfg.Treasury)
	if err != nil {
		return fmt.Errorf("failed to initialize treasury wallet: %w", err)
	}

	treasuryAddress := cfg.Treasury.PlatformAddress
	if treasuryAddress == "" && treasury != nil {
		treasuryAddress = treasury.Address()
	}

	quoteUsecase := usecases.NewQuoteUsecase(cfg.Mpesa, txRepo)
	authVerifier := usecases.NewAuthorizationVerifier(cfg.Mpesa)
	fundingVerifier := usecases.NewFundingVerifier(clientFactory, cfg.Treasury, cfg.Mpesa, treasuryAddress)
	refundService := usecases.NewRefundService(cfg.Mpesa, cfg.Treasury, txRepo, signerOrNil(treasury))
	settler := usecases.NewOnrampSettler(cfg.Mpesa, cfg.Treasury, txRepo, signerOrNil(treasury))
	transactionUsecase := usecases.NewTransactionUsecase(cfg.Mpesa, txRepo, quoteUsecase, authVerifier, fundingVerifier, darajaClient, refundService)
	webhookUsecase := usecases.NewWebhookUsecase(cfg.Mpesa, txRepo, dedupRepo, refundService, settler)
	reconcileUsecase := usecases.NewReconcileUsecase(cfg.Mpesa, txRepo, darajaClient, refundService)

	quoteHandler := handlers.NewQuoteHandler(quoteUsecase)
	transactionHandler := handlers.NewTransactionHandler(transactionUsecase)
	webhookHandler := handlers.NewWebhookHandler(cfg.Mpesa, webhookUsecase)
	reconcileHandler := handlers.NewReconcileHandler(reconcileUsecase)
	legacyHandler := handlers.NewLegacyHandler(transactionUsecase)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconcileJob := jobs.NewReconcileJob(reconcileUsecase, cfg.Mpesa.ReconcileIntervalMinutes)
	go reconcileJob.Start(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	registerRoutes(r, routeDeps{
		quoteHandler:       quoteHandler,
		transactionHandler: transactionHandler,
		webhookHandler:     webhookHandler,
		reconcileHandler:   reconcileHandler,
		legacyHandler:      legacyHandler,
		authMiddleware:     middleware.AuthMiddleware(jwtService, middleware.ScopeMpesa),
		internalMiddleware: middleware.InternalKeyMiddleware(cfg.Internal.APIKey),
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("🛑 Shutting down server...")
		reconcileJob.Stop()
		cancel()
	}()

	log.Printf("🚀 DotPay Backend starting on port %s", cfg.Server.Port)
	log.Printf("📚 API: http://localhost:%s/api/mpesa", cfg.Server.Port)
	log.Printf("❤️ Health: http://localhost:%s/health", cfg.Server.Port)

	if err := runServer(r, cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// buildTreasury dials the treasury RPC and builds the signing wallet when the
// signer is fully configured; returns nil otherwise (sandbox simulated mode).
func buildTreasury(factory *blockchain.ClientFactory, cfg config.TreasuryConfig) (*blockchain.TreasuryWallet, error) {
	if !cfg.SignerConfigured() {
		return nil, nil
	}
	client, err := factory.GetEVMClient(cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	return blockchain.NewTreasuryWallet(client, cfg.PrivateKey, cfg.USDCContract, cfg.USDCDecimals, cfg.WaitConfirmations)
}

// signerOrNil converts the concrete wallet to the usecase interface without
// wrapping a nil pointer in a non-nil interface.
func signerOrNil(w *blockchain.TreasuryWallet) usecases.TreasurySigner {
	if w == nil {
		return nil
	}
	return w
}
