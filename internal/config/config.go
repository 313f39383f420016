/**
 * @description
 * This package handles the configuration management for the payment-service.
 * It uses the Viper library to read configuration from environment variables
 * (with an optional .env file), providing a centralized way to manage
 * application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort      string `mapstructure:"SERVER_PORT"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix  string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL     string `mapstructure:"RABBITMQ_URL"`
	StripeSecretKey string `mapstructure:"STRIPE_SECRET_KEY"`
	InternalAPIKey  string `mapstructure:"INTERNAL_API_KEY"`
	AdminJWKSURL    string `mapstructure:"ADMIN_JWKS_URL"`

	CheckoutSuccessURL string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string `mapstructure:"CHECKOUT_CANCEL_URL"`
	DefaultCurrency    string `mapstructure:"DEFAULT_CURRENCY"`

	CheckoutExpiryHours      int     `mapstructure:"CHECKOUT_EXPIRY_HOURS"`
	DefaultMinDepositPercent float64 `mapstructure:"DEFAULT_MIN_DEPOSIT_PERCENT"`
	StripeCallTimeoutSeconds int     `mapstructure:"STRIPE_CALL_TIMEOUT_SECONDS"`

	// Reconciliation scope and sizing. Region scopes the gateway sync to one
	// deployment region; empty means all users.
	Region               string `mapstructure:"RECONCILE_REGION"`
	GatewaySyncBatchSize int    `mapstructure:"GATEWAY_SYNC_BATCH_SIZE"`
	ExpirySweepBatchSize int    `mapstructure:"EXPIRY_SWEEP_BATCH_SIZE"`
	CollectorBatchSize   int    `mapstructure:"COLLECTOR_BATCH_SIZE"`

	// Cron schedules, configurable so the cadence is infrastructure-owned.
	TransactionSyncSchedule    string `mapstructure:"TRANSACTION_SYNC_SCHEDULE"`
	GatewaySyncSchedule        string `mapstructure:"GATEWAY_SYNC_SCHEDULE"`
	SubscriptionExpirySchedule string `mapstructure:"SUBSCRIPTION_EXPIRY_SCHEDULE"`
	AbandonedCheckoutSchedule  string `mapstructure:"ABANDONED_CHECKOUT_SCHEDULE"`

	WebhookDedupeTTLMinutes int `mapstructure:"WEBHOOK_DEDUPE_TTL_MINUTES"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_KEY_PREFIX", "daytradedak:payments")
	viper.SetDefault("DEFAULT_CURRENCY", "usd")
	viper.SetDefault("CHECKOUT_EXPIRY_HOURS", 2)
	viper.SetDefault("DEFAULT_MIN_DEPOSIT_PERCENT", 20.0)
	viper.SetDefault("STRIPE_CALL_TIMEOUT_SECONDS", 30)
	viper.SetDefault("GATEWAY_SYNC_BATCH_SIZE", 100)
	viper.SetDefault("EXPIRY_SWEEP_BATCH_SIZE", 200)
	viper.SetDefault("COLLECTOR_BATCH_SIZE", 200)
	viper.SetDefault("TRANSACTION_SYNC_SCHEDULE", "0 3 * * *")
	viper.SetDefault("GATEWAY_SYNC_SCHEDULE", "30 3 * * *")
	viper.SetDefault("SUBSCRIPTION_EXPIRY_SCHEDULE", "15 * * * *")
	viper.SetDefault("ABANDONED_CHECKOUT_SCHEDULE", "0 * * * *")
	viper.SetDefault("WEBHOOK_DEDUPE_TTL_MINUTES", 1440)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("ADMIN_JWKS_URL")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_CANCEL_URL")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("CHECKOUT_EXPIRY_HOURS")
	_ = viper.BindEnv("DEFAULT_MIN_DEPOSIT_PERCENT")
	_ = viper.BindEnv("STRIPE_CALL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("RECONCILE_REGION")
	_ = viper.BindEnv("GATEWAY_SYNC_BATCH_SIZE")
	_ = viper.BindEnv("EXPIRY_SWEEP_BATCH_SIZE")
	_ = viper.BindEnv("COLLECTOR_BATCH_SIZE")
	_ = viper.BindEnv("TRANSACTION_SYNC_SCHEDULE")
	_ = viper.BindEnv("GATEWAY_SYNC_SCHEDULE")
	_ = viper.BindEnv("SUBSCRIPTION_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("ABANDONED_CHECKOUT_SCHEDULE")
	_ = viper.BindEnv("WEBHOOK_DEDUPE_TTL_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.Region = strings.TrimSpace(config.Region)
	config.DefaultCurrency = strings.ToLower(strings.TrimSpace(config.DefaultCurrency))

	if strings.TrimSpace(config.DatabaseURL) == "" {
		return config, errors.New("DATABASE_URL must be configured")
	}
	if strings.TrimSpace(config.StripeSecretKey) == "" {
		return config, errors.New("STRIPE_SECRET_KEY must be configured")
	}

	if config.CheckoutExpiryHours <= 0 {
		config.CheckoutExpiryHours = 2
	}
	if config.DefaultMinDepositPercent <= 0 || config.DefaultMinDepositPercent > 100 {
		log.Printf("level=warn component=config msg=\"invalid minimum deposit percent; using default\" value=%f", config.DefaultMinDepositPercent)
		config.DefaultMinDepositPercent = 20.0
	}
	if config.GatewaySyncBatchSize <= 0 {
		config.GatewaySyncBatchSize = 100
	}
	if config.ExpirySweepBatchSize <= 0 {
		config.ExpirySweepBatchSize = 200
	}
	if config.CollectorBatchSize <= 0 {
		config.CollectorBatchSize = 200
	}
	if config.StripeCallTimeoutSeconds <= 0 {
		config.StripeCallTimeoutSeconds = 30
	}
	if config.WebhookDedupeTTLMinutes <= 0 {
		config.WebhookDedupeTTLMinutes = 1440
	}

	return
}
