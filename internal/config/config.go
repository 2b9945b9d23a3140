package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port   string `mapstructure:"PORT"`
	Env    string `mapstructure:"ENV"`
	Policy string `mapstructure:"TRANSITION_POLICY"`

	// Journey state storage
	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	StorageKey    string `mapstructure:"STORAGE_KEY"`
	StateFile     string `mapstructure:"STATE_FILE"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	RedisChannel  string `mapstructure:"REDIS_CHANNEL"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`

	Timezone        string        `mapstructure:"TIMEZONE"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ProviderTimeout time.Duration `mapstructure:"PROVIDER_TIMEOUT"`

	// Commerce provider
	ShopifyStoreDomain     string `mapstructure:"SHOPIFY_STORE_DOMAIN"`
	ShopifyAccessToken     string `mapstructure:"SHOPIFY_ACCESS_TOKEN"`
	ShopifyStorefrontToken string `mapstructure:"SHOPIFY_STOREFRONT_TOKEN"`
	ShopifyAPIVersion      string `mapstructure:"SHOPIFY_API_VERSION"`
	ShopifyWebhookSecret   string `mapstructure:"SHOPIFY_WEBHOOK_SECRET"`
	SKUTestOnly            string `mapstructure:"SKU_TEST_ONLY"`
	SKUBundle              string `mapstructure:"SKU_BUNDLE"`
	SKUUpgrade             string `mapstructure:"SKU_UPGRADE"`
	SKUProbiotics          string `mapstructure:"SKU_PROBIOTICS"`

	// Language model provider
	GeminiAPIKey        string `mapstructure:"GEMINI_API_KEY"`
	GeminiInsightsModel string `mapstructure:"GEMINI_INSIGHTS_MODEL"`
	GeminiChatModel     string `mapstructure:"GEMINI_CHAT_MODEL"`

	// Outbound notification delivery
	NotifyDelivery     string `mapstructure:"NOTIFY_DELIVERY"`
	NotifyEmail        string `mapstructure:"NOTIFY_EMAIL"`
	NotifyPhone        string `mapstructure:"NOTIFY_PHONE"`
	NotifyChat         string `mapstructure:"NOTIFY_CHAT"`
	TwilioAccountSID   string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber   string `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioWhatsAppFrom string `mapstructure:"TWILIO_WHATSAPP_FROM"`
	SendGridAPIKey     string `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail  string `mapstructure:"SENDGRID_FROM_EMAIL"`
	SendGridFromName   string `mapstructure:"SENDGRID_FROM_NAME"`

	// Tracing
	OTelEnabled      bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint     string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSamplerRatio float64 `mapstructure:"OTEL_SAMPLER_RATIO"`
}

var envKeys = []string{
	"PORT", "ENV", "TRANSITION_POLICY",
	"STORAGE_DRIVER", "STORAGE_KEY", "STATE_FILE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "REDIS_CHANNEL", "SQLITE_PATH",
	"TIMEZONE", "CORS_ORIGINS", "REQUEST_TIMEOUT", "PROVIDER_TIMEOUT",
	"SHOPIFY_STORE_DOMAIN", "SHOPIFY_ACCESS_TOKEN", "SHOPIFY_STOREFRONT_TOKEN",
	"SHOPIFY_API_VERSION", "SHOPIFY_WEBHOOK_SECRET",
	"SKU_TEST_ONLY", "SKU_BUNDLE", "SKU_UPGRADE", "SKU_PROBIOTICS",
	"GEMINI_API_KEY", "GEMINI_INSIGHTS_MODEL", "GEMINI_CHAT_MODEL",
	"NOTIFY_DELIVERY", "NOTIFY_EMAIL", "NOTIFY_PHONE", "NOTIFY_CHAT",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_WHATSAPP_FROM",
	"SENDGRID_API_KEY", "SENDGRID_FROM_EMAIL", "SENDGRID_FROM_NAME",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SAMPLER_RATIO",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("TRANSITION_POLICY", "strict")
	v.SetDefault("STORAGE_DRIVER", "file")
	v.SetDefault("STORAGE_KEY", "gutHealthState")
	v.SetDefault("STATE_FILE", "./data/journey.json")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("REDIS_CHANNEL", "journey")
	v.SetDefault("SQLITE_PATH", "./data/journey.db")
	v.SetDefault("TIMEZONE", "Asia/Hong_Kong")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("PROVIDER_TIMEOUT", "5s")
	v.SetDefault("SHOPIFY_API_VERSION", "2024-01")
	v.SetDefault("SKU_TEST_ONLY", "GMTCC-TEST")
	v.SetDefault("SKU_BUNDLE", "GMTCC-BUNDLE")
	v.SetDefault("SKU_UPGRADE", "GMTCC-UPGRADE")
	v.SetDefault("SKU_PROBIOTICS", "GMTCC-PROBIOTICS")
	v.SetDefault("GEMINI_INSIGHTS_MODEL", "gemini-2.5-flash")
	v.SetDefault("GEMINI_CHAT_MODEL", "gemini-3-pro-preview")
	v.SetDefault("NOTIFY_DELIVERY", "log")
	v.SetDefault("OTEL_SAMPLER_RATIO", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves TIMEZONE. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ShopifyEnabled reports whether enough credentials are set to call the Admin
// API.
func (c *Config) ShopifyEnabled() bool {
	return c.ShopifyStoreDomain != "" && c.ShopifyAccessToken != ""
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "file":
		if c.StateFile == "" {
			return fmt.Errorf("STATE_FILE is required when STORAGE_DRIVER is \"file\"")
		}
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER is \"postgres\"")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORAGE_DRIVER is \"redis\"")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORAGE_DRIVER is \"sqlite\"")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of file, memory, postgres, redis, sqlite, got %q", c.StorageDriver)
	}
	if c.StorageKey == "" {
		return fmt.Errorf("STORAGE_KEY must not be empty")
	}

	if c.Policy != "strict" && c.Policy != "permissive" {
		return fmt.Errorf("TRANSITION_POLICY must be \"strict\" or \"permissive\", got %q", c.Policy)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}

	switch c.NotifyDelivery {
	case "log", "none":
	case "remote":
		if c.TwilioAccountSID == "" && c.SendGridAPIKey == "" {
			return fmt.Errorf("NOTIFY_DELIVERY=remote needs TWILIO_ACCOUNT_SID or SENDGRID_API_KEY")
		}
	default:
		return fmt.Errorf("NOTIFY_DELIVERY must be one of log, remote, none, got %q", c.NotifyDelivery)
	}

	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}
	if c.OTelSamplerRatio < 0 || c.OTelSamplerRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLER_RATIO must be between 0 and 1, got %v", c.OTelSamplerRatio)
	}
	return nil
}
