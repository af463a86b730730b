/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the credit-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	AppBaseURL    string `mapstructure:"APP_BASE_URL"`
	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	SecureCookies bool   `mapstructure:"SECURE_COOKIES"`

	PaymentAPIBaseURL    string `mapstructure:"PAYMENT_API_BASE_URL"`
	PaymentAPIKey        string `mapstructure:"PAYMENT_API_KEY"`
	PaymentWebhookSecret string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	SubscriptionPriceID  string `mapstructure:"PAYMENT_PRICE_ID_SUB"`
	BookPriceID          string `mapstructure:"PAYMENT_PRICE_ID_BOOK"`
	BookShippingRateID   string `mapstructure:"PAYMENT_SHIPPING_RATE_ID"`

	ImageAPIBaseURL string `mapstructure:"IMAGE_API_BASE_URL"`
	ImageAPIKey     string `mapstructure:"IMAGE_API_KEY"`
	ImageModel      string `mapstructure:"IMAGE_MODEL"`

	InitialGrantCredits        int64  `mapstructure:"INITIAL_GRANT_CREDITS"`
	GenerationCostCredits      int64  `mapstructure:"GENERATION_COST_CREDITS"`
	CreditsPerPack             int64  `mapstructure:"CREDITS_PER_PACK"`
	PackPriceCents             int64  `mapstructure:"PACK_PRICE_CENTS"`
	PackCurrency               string `mapstructure:"PACK_CURRENCY"`
	GenerateRateLimitPerMinute int    `mapstructure:"GENERATE_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "creditsvc:rate_limit")
	viper.SetDefault("APP_BASE_URL", "http://localhost:3000")
	viper.SetDefault("SECURE_COOKIES", true)
	viper.SetDefault("IMAGE_MODEL", "gemini-2.5-flash-image-preview")
	viper.SetDefault("INITIAL_GRANT_CREDITS", 25)
	viper.SetDefault("GENERATION_COST_CREDITS", 1)
	viper.SetDefault("CREDITS_PER_PACK", 100)
	viper.SetDefault("PACK_PRICE_CENTS", 500)
	viper.SetDefault("PACK_CURRENCY", "aud")
	viper.SetDefault("GENERATE_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("APP_BASE_URL")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("SECURE_COOKIES")
	_ = viper.BindEnv("PAYMENT_API_BASE_URL")
	_ = viper.BindEnv("PAYMENT_API_KEY")
	_ = viper.BindEnv("PAYMENT_WEBHOOK_SECRET")
	_ = viper.BindEnv("PAYMENT_PRICE_ID_SUB")
	_ = viper.BindEnv("PAYMENT_PRICE_ID_BOOK")
	_ = viper.BindEnv("PAYMENT_SHIPPING_RATE_ID")
	_ = viper.BindEnv("IMAGE_API_BASE_URL")
	_ = viper.BindEnv("IMAGE_API_KEY")
	_ = viper.BindEnv("IMAGE_MODEL")
	_ = viper.BindEnv("INITIAL_GRANT_CREDITS")
	_ = viper.BindEnv("GENERATION_COST_CREDITS")
	_ = viper.BindEnv("CREDITS_PER_PACK")
	_ = viper.BindEnv("PACK_PRICE_CENTS")
	_ = viper.BindEnv("PACK_CURRENCY")
	_ = viper.BindEnv("GENERATE_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	// Platforms like Railway and Heroku inject PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "creditsvc:rate_limit"
	}
	config.AppBaseURL = strings.TrimRight(strings.TrimSpace(config.AppBaseURL), "/")

	if config.InitialGrantCredits < 0 {
		log.Printf("level=warn component=config msg=\"negative initial grant configured; coercing to zero\" credits=%d", config.InitialGrantCredits)
		config.InitialGrantCredits = 0
	}
	if config.GenerationCostCredits <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive generation cost configured; coercing to one\" credits=%d", config.GenerationCostCredits)
		config.GenerationCostCredits = 1
	}
	if config.CreditsPerPack <= 0 {
		config.CreditsPerPack = 100
	}
	if config.PackPriceCents <= 0 {
		config.PackPriceCents = 500
	}
	if config.PackCurrency == "" {
		config.PackCurrency = "aud"
	}
	if config.GenerateRateLimitPerMinute < 0 {
		config.GenerateRateLimitPerMinute = 0
	}

	return
}
