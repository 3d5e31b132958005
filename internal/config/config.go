package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide settings resolved from the environment
type Config struct {
	Port        string
	GinMode     string
	Environment string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSAccountID       string
	S3BucketName       string
	LambdaFunctionName string
	RuleSetName        string

	ServiceAPIKey string
	JWTSecret     string

	StripeSecretKey     string
	StripeWebhookSecret string

	DNSResolver string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WebhookWorkers      int
	VerifyInterval      time.Duration
	MaxRequestSizeBytes int64
	CORSAllowedOrigins  []string
}

// GetEnv gets an environment variable or returns a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable or returns a default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// Load reads the configuration from the environment
func Load() *Config {
	cfg := &Config{
		Port:        GetEnv("PORT", "8080"),
		GinMode:     GetEnv("GIN_MODE", "debug"),
		Environment: strings.ToLower(GetEnv("ENVIRONMENT", "development")),

		AWSRegion:          GetEnv("AWS_REGION", "us-east-2"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSAccountID:       os.Getenv("AWS_ACCOUNT_ID"),
		S3BucketName:       os.Getenv("S3_BUCKET_NAME"),
		LambdaFunctionName: GetEnv("LAMBDA_FUNCTION_NAME", "email-processor"),
		RuleSetName:        GetEnv("SES_RULE_SET_NAME", "inbound-email-rules"),

		ServiceAPIKey: os.Getenv("SERVICE_API_KEY"),
		JWTSecret:     os.Getenv("JWT_SECRET"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		DNSResolver: GetEnv("DNS_RESOLVER", "1.1.1.1:53"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       GetEnvInt("REDIS_DB", 0),

		WebhookWorkers:      GetEnvInt("WEBHOOK_WORKERS", 4),
		VerifyInterval:      time.Duration(GetEnvInt("VERIFY_INTERVAL_SECONDS", 300)) * time.Second,
		MaxRequestSizeBytes: int64(GetEnvInt("MAX_REQUEST_SIZE_MB", 40)) << 20,
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}

	if cfg.WebhookWorkers <= 0 {
		cfg.WebhookWorkers = 1
	}

	return cfg
}

// AWSReady reports whether receipt rules can be provisioned. Identity
// verification only needs credentials; rules also need a bucket and account.
func (c *Config) AWSReady() bool {
	return c.S3BucketName != "" && c.AWSAccountID != ""
}

// IsProduction reports whether the process runs in a production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
