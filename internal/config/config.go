package config

import (
	"os"
	"strconv"
	"time"
)

// Daraja endpoint bases per environment.
const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"
)

// Config holds all configuration values
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Mpesa    MpesaConfig
	Treasury TreasuryConfig
	Internal InternalConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + strconv.Itoa(c.Port) + "/" + c.DBName + "?sslmode=" + c.SSLMode + "&prepare_threshold=0"
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

// MpesaConfig holds Daraja provider configuration. Shortcode/credential
// overrides default to the shared values when unset.
type MpesaConfig struct {
	Enabled        bool
	Env            string // sandbox | production
	BaseURL        string // override; empty = derived from Env
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	Shortcode      string
	STKShortcode   string
	B2CShortcode   string
	B2BShortcode   string

	InitiatorName      string
	InitiatorPassword  string
	SecurityCredential string
	CertPath           string

	ResultBaseURL  string
	TimeoutBaseURL string
	WebhookSecret  string

	QuoteTTLSeconds        int
	KesPerUsd              float64
	MaxTxnKes              float64
	MaxDailyKes            float64
	PinMinLength           int
	SignatureMaxAgeSeconds int

	AutoRefund               bool
	RequireOnchainFunding    bool
	MinFundingConfirmations  uint64
	B2BBuygoodsReceiverType  int
	ReconcileIntervalMinutes int
}

// ResolveBaseURL returns the effective Daraja endpoint base.
func (c MpesaConfig) ResolveBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Env == "production" {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// Sandbox reports whether the provider runs against the sandbox.
func (c MpesaConfig) Sandbox() bool {
	return c.Env != "production"
}

// TreasuryConfig holds the EVM treasury configuration.
type TreasuryConfig struct {
	RPCURL            string
	ChainID           int64
	USDCContract      string
	USDCDecimals      int
	PlatformAddress   string
	PrivateKey        string
	RefundEnabled     bool
	WaitConfirmations uint64
}

// SignerConfigured reports whether on-chain transfers can be executed.
func (c TreasuryConfig) SignerConfigured() bool {
	return c.RPCURL != "" && c.PrivateKey != "" && c.USDCContract != ""
}

// InternalConfig holds operator-facing credentials.
type InternalConfig struct {
	APIKey string
}

// Load loads configuration from environment variables.
// Daily spending limits are evaluated against UTC midnight.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "dotpay"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("DOTPAY_BACKEND_JWT_SECRET", "change-this-in-production"),
			Expiry: getEnvAsDuration("DOTPAY_JWT_EXPIRY", 24*time.Hour),
		},
		Mpesa: MpesaConfig{
			Enabled:        getEnvAsBool("MPESA_ENABLED", true),
			Env:            getEnv("MPESA_ENV", "sandbox"),
			BaseURL:        getEnv("MPESA_BASE_URL", ""),
			ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			Passkey:        getEnv("MPESA_PASSKEY", ""),
			Shortcode:      getEnv("MPESA_SHORTCODE", "174379"),
			STKShortcode:   getEnv("MPESA_STK_SHORTCODE", ""),
			B2CShortcode:   getEnv("MPESA_B2C_SHORTCODE", ""),
			B2BShortcode:   getEnv("MPESA_B2B_SHORTCODE", ""),

			InitiatorName:      getEnv("MPESA_INITIATOR_NAME", "testapi"),
			InitiatorPassword:  getEnv("MPESA_INITIATOR_PASSWORD", ""),
			SecurityCredential: getEnv("MPESA_SECURITY_CREDENTIAL", ""),
			CertPath:           getEnv("MPESA_CERT_PATH", ""),

			ResultBaseURL:  getEnv("MPESA_RESULT_BASE_URL", ""),
			TimeoutBaseURL: getEnv("MPESA_TIMEOUT_BASE_URL", ""),
			WebhookSecret:  getEnv("MPESA_WEBHOOK_SECRET", ""),

			QuoteTTLSeconds:        getEnvAsInt("MPESA_QUOTE_TTL_SECONDS", 300),
			KesPerUsd:              getEnvAsFloat("KES_PER_USD", 130),
			MaxTxnKes:              getEnvAsFloat("MPESA_MAX_TXN_KES", 150000),
			MaxDailyKes:            getEnvAsFloat("MPESA_MAX_DAILY_KES", 500000),
			PinMinLength:           getEnvAsInt("MPESA_PIN_MIN_LENGTH", 6),
			SignatureMaxAgeSeconds: getEnvAsInt("MPESA_SIGNATURE_MAX_AGE_SECONDS", 600),

			AutoRefund:               getEnvAsBool("MPESA_AUTO_REFUND", true),
			RequireOnchainFunding:    getEnvAsBool("MPESA_REQUIRE_ONCHAIN_FUNDING", true),
			MinFundingConfirmations:  uint64(getEnvAsInt("MPESA_MIN_FUNDING_CONFIRMATIONS", 1)),
			B2BBuygoodsReceiverType:  getEnvAsInt("MPESA_B2B_BUYGOODS_RECEIVER_TYPE", 2),
			ReconcileIntervalMinutes: getEnvAsInt("MPESA_RECONCILE_INTERVAL_MINUTES", 0),
		},
		Treasury: TreasuryConfig{
			RPCURL:            getEnv("TREASURY_RPC_URL", ""),
			ChainID:           int64(getEnvAsInt("TREASURY_CHAIN_ID", 0)),
			USDCContract:      getEnv("TREASURY_USDC_CONTRACT", ""),
			USDCDecimals:      getEnvAsInt("TREASURY_USDC_DECIMALS", 6),
			PlatformAddress:   getEnv("TREASURY_PLATFORM_ADDRESS", ""),
			PrivateKey:        getEnv("TREASURY_PRIVATE_KEY", ""),
			RefundEnabled:     getEnvAsBool("TREASURY_REFUND_ENABLED", true),
			WaitConfirmations: uint64(getEnvAsInt("TREASURY_WAIT_CONFIRMATIONS", 1)),
		},
		Internal: InternalConfig{
			APIKey: getEnv("DOTPAY_INTERNAL_API_KEY", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
