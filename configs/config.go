package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	HTTPAddr        string
	SessionSecret   string
	ShutdownTimeout time.Duration
	AdminEmails     []string
	LogLevel        string
}

type DBConfig struct {
	Driver     string // postgres | sqlite
	Host       string
	User       string
	Password   string
	Name       string
	Port       string
	TimeZone   string
	SQLitePath string
	LogLevel   string
}

type CheckoutConfig struct {
	TaxRate               string
	FreeShippingThreshold string
	ShippingFee           string
	TxTimeout             time.Duration
	OrderNumberAttempts   int
	IdempotencyTTL        time.Duration
	RestockOnCancel       bool
	SettingsCacheTTL      time.Duration
}

type KafkaConfig struct {
	Brokers      string
	OrderTopic   string
	PaymentTopic string
}

type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type AfricaTalkingConfig struct {
	Username string
	APIKey   string
	SMSURL   string
	SenderID string
}

type EmailConfig struct {
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string
	SenderEmail        string
}

func LoadServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        getEnvOrDefault("HTTP_ADDR", ":8080"),
		SessionSecret:   getEnvOrDefault("SESSION_SECRET", "change-me"),
		ShutdownTimeout: getDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second),
		AdminEmails:     splitList(os.Getenv("ADMIN_EMAILS")),
		LogLevel:        strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
	}
}

func LoadDBConfig() DBConfig {
	return DBConfig{
		Driver:     strings.ToLower(getEnvOrDefault("DB_DRIVER", "postgres")),
		Host:       getEnvOrDefault("POSTGRES_HOST", "localhost"),
		User:       getEnvOrDefault("POSTGRES_USER", "test"),
		Password:   getEnvOrDefault("POSTGRES_PASSWORD", "test"),
		Name:       getEnvOrDefault("POSTGRES_DB", "test"),
		Port:       getEnvOrDefault("DB_PORT", "5432"),
		TimeZone:   getEnvOrDefault("DB_TIMEZONE", "Africa/Nairobi"),
		SQLitePath: getEnvOrDefault("SQLITE_PATH", "checkout.db"),
		LogLevel:   strings.ToLower(getEnvOrDefault("DB_LOG_LEVEL", "warn")),
	}
}

func LoadCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		TaxRate:               getEnvOrDefault("TAX_RATE", "0.08"),
		FreeShippingThreshold: getEnvOrDefault("FREE_SHIPPING_THRESHOLD", "100.00"),
		ShippingFee:           getEnvOrDefault("SHIPPING_FEE", "9.99"),
		TxTimeout:             getDurationOrDefault("CHECKOUT_TX_TIMEOUT", 5*time.Second),
		OrderNumberAttempts:   getIntOrDefault("CHECKOUT_ORDER_NUMBER_ATTEMPTS", 3),
		IdempotencyTTL:        getDurationOrDefault("CHECKOUT_IDEMPOTENCY_TTL", 24*time.Hour),
		RestockOnCancel:       getBoolOrDefault("ORDERS_RESTOCK_ON_CANCEL", true),
		SettingsCacheTTL:      getDurationOrDefault("SETTINGS_CACHE_TTL", time.Minute),
	}
}

func LoadKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      os.Getenv("KAFKA_BROKERS"),
		OrderTopic:   getEnvOrDefault("KAFKA_ORDER_TOPIC", "checkout.orders"),
		PaymentTopic: getEnvOrDefault("KAFKA_PAYMENT_TOPIC", "checkout.payments"),
	}
}

func LoadOIDCConfig() OIDCConfig {
	return OIDCConfig{
		Issuer:       os.Getenv("OIDC_ISSUER"),
		ClientID:     os.Getenv("OIDC_CLIENT_ID"),
		ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
	}
}

func LoadAfricaTalkingConfig() AfricaTalkingConfig {
	return AfricaTalkingConfig{
		Username: os.Getenv("AT_USERNAME"),
		APIKey:   os.Getenv("AT_API_KEY"),
		SMSURL:   getEnvOrDefault("AT_SMS_URL", "https://api.sandbox.africastalking.com/version1/messaging"), // Sandbox URL
		SenderID: getEnvOrDefault("AT_SENDER_ID", "AFRICASTKNG"),
	}
}

func LoadEmailConfig() EmailConfig {
	return EmailConfig{
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSRegion:          getEnvOrDefault("AWS_REGION", "us-east-1"),
		SenderEmail:        os.Getenv("AWS_SENDER_ADDRESS"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(getEnvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

// getDurationOrDefault accepts Go duration strings ("5s") or plain milliseconds.
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw := getEnvOrDefault(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func splitList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
