// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Activation  ActivationConfig
	AntiFraud   AntiFraudConfig
	Checkout    CheckoutConfig
	FX          FXConfig
	Email       EmailConfig
	Telegram    TelegramConfig
	I18n        I18nConfig
	Frontend    FrontendConfig
}

type FrontendConfig struct {
	BaseURL     string
	CORSOrigins []string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int

	// TrustedProxies may set X-Forwarded-For. Empty trusts no one.
	TrustedProxies []string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr is empty when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type KafkaConfig struct {
	Brokers     []string
	OrdersTopic string
	KeysTopic   string
	BufferSize  int
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	KeysBucket      string
}

type PaymentConfig struct {
	Provider           string
	APIBaseURL         string
	APIKey             string
	ShopID             string
	WebhookSecret      string
	SignatureHeader    string
	WebhookIPAllowlist []string
	CreatePath         string
	RefundPath         string
	InvoiceInfoPath    string
	SuccessURL         string
	FailURL            string
	WebhookURL         string
	StripeSecretKey    string
	CreateTimeout      time.Duration
	VerifyTimeout      time.Duration
}

type ActivationConfig struct {
	BaseURL         string
	DeviceID        string
	SubmitTimeout   time.Duration
	PollTimeout     time.Duration
	RestartCooldown time.Duration
	MaxTokenLength  int
}

type AntiFraudConfig struct {
	Window    time.Duration
	MaxOrders int
}

type CheckoutConfig struct {
	MinAmount       float64
	DefaultCurrency string
}

type FXConfig struct {
	USDRUB  float64
	EURRUB  float64
	USDTRUB float64
}

// Rates returns the fixed conversion table keyed by currency code.
func (f FXConfig) Rates() map[string]float64 {
	return map[string]float64{
		"RUB":  1,
		"USD":  f.USDRUB,
		"EUR":  f.EURRUB,
		"USDT": f.USDTRUB,
	}
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
	SupportEmail string
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
	APIURL   string
}

type I18nConfig struct {
	DefaultLocale string
	LocalesPath   string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "4100"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			TrustedProxies: getEnvAsList("SERVER_TRUSTED_PROXIES"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "keyshop"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			Issuer:    getEnv("JWT_ISSUER", "keyshop-admin"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsList("KAFKA_BROKERS"),
			OrdersTopic: getEnv("KAFKA_ORDERS_TOPIC", "keyshop.orders"),
			KeysTopic:   getEnv("KAFKA_KEYS_TOPIC", "keyshop.keys"),
			BufferSize:  getEnvAsInt("KAFKA_BUFFER_SIZE", 256),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "eu-central-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			KeysBucket:      getEnv("AWS_KEYS_BUCKET", ""),
		},
		Payment: PaymentConfig{
			Provider:           strings.ToLower(getEnv("PAYMENT_PROVIDER", "gateway")),
			APIBaseURL:         getEnv("PAYMENT_API_BASE_URL", "https://api.enot.io"),
			APIKey:             getEnv("PAYMENT_API_KEY", ""),
			ShopID:             getEnv("PAYMENT_SHOP_ID", ""),
			WebhookSecret:      getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			SignatureHeader:    getEnv("PAYMENT_WEBHOOK_SIGNATURE_HEADER", "x-api-sha256-signature"),
			WebhookIPAllowlist: getEnvAsList("PAYMENT_WEBHOOK_IP_ALLOWLIST"),
			CreatePath:         getEnv("PAYMENT_CREATE_PATH", "/invoice/create"),
			RefundPath:         getEnv("PAYMENT_REFUND_PATH", "/invoice/refund"),
			InvoiceInfoPath:    getEnv("PAYMENT_INVOICE_INFO_PATH", "/invoice/info"),
			SuccessURL:         getEnv("PAYMENT_SUCCESS_URL", "http://localhost:3000/success.html"),
			FailURL:            getEnv("PAYMENT_FAIL_URL", "http://localhost:3000/fail.html"),
			WebhookURL:         getEnv("PAYMENT_WEBHOOK_URL", "http://localhost:4100/api/v1/public/webhooks/payment"),
			StripeSecretKey:    getEnv("STRIPE_SECRET_KEY", ""),
			CreateTimeout:      getEnvAsDuration("PAYMENT_CREATE_TIMEOUT", 12*time.Second),
			VerifyTimeout:      getEnvAsDuration("PAYMENT_VERIFY_TIMEOUT", 6*time.Second),
		},
		Activation: ActivationConfig{
			BaseURL:         getEnv("ACTIVATION_API_BASE_URL", "https://receipt-api.nitro.xin"),
			DeviceID:        getEnv("ACTIVATION_DEVICE_ID", "web"),
			SubmitTimeout:   getEnvAsDuration("ACTIVATION_SUBMIT_TIMEOUT", 12*time.Second),
			PollTimeout:     getEnvAsDuration("ACTIVATION_POLL_TIMEOUT", 6*time.Second),
			RestartCooldown: getEnvAsDuration("ACTIVATION_RESTART_COOLDOWN", 20*time.Second),
			MaxTokenLength:  getEnvAsInt("ACTIVATION_MAX_TOKEN_LENGTH", 500000),
		},
		AntiFraud: AntiFraudConfig{
			Window:    getEnvAsDuration("ANTIFRAUD_WINDOW", 15*time.Minute),
			MaxOrders: getEnvAsInt("ANTIFRAUD_MAX_ORDERS", 7),
		},
		Checkout: CheckoutConfig{
			MinAmount:       getEnvAsFloat("CHECKOUT_MIN_AMOUNT", 1.0),
			DefaultCurrency: strings.ToUpper(getEnv("CHECKOUT_DEFAULT_CURRENCY", "RUB")),
		},
		FX: FXConfig{
			USDRUB:  getEnvAsFloat("FX_USD_RUB", 95),
			EURRUB:  getEnvAsFloat("FX_EUR_RUB", 103),
			USDTRUB: getEnvAsFloat("FX_USDT_RUB", 95),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "support@keyshop.local"),
			FromName:     getEnv("FROM_NAME", "Keyshop"),
			SupportEmail: getEnv("SUPPORT_EMAIL", "support@keyshop.local"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			APIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
			LocalesPath:   getEnv("LOCALES_PATH", "./internal/i18n/locales"),
		},
		Frontend: FrontendConfig{
			BaseURL:     getEnv("FRONTEND_URL", "http://localhost:3000"),
			CORSOrigins: getEnvAsList("CORS_ORIGINS"),
		},
	}

	return config, config.Validate()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.IsProduction() {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.IsProduction() {
		return fmt.Errorf("database password is required in production")
	}

	if c.Payment.WebhookSecret == "" && c.IsProduction() {
		return fmt.Errorf("payment webhook secret is required in production")
	}

	if c.Activation.RestartCooldown < 0 {
		return fmt.Errorf("activation restart cooldown must not be negative")
	}

	if c.Checkout.MinAmount < 0 {
		return fmt.Errorf("checkout minimum amount must not be negative")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("20s") or plain seconds ("20").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
