package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const defaultRedisURL = "redis://localhost:6379/0"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `default:"redis://localhost:6379/0" usage:"Redis URL for the carrier token and rate limits" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	JWTSecret    string `usage:"HS256 secret for customer bearer tokens" flag:"jwt-secret"`
	Pricing      PricingConfig
	Membership   MembershipConfig
	Stripe       StripeConfig
	Razorpay     RazorpayConfig
	Carrier      CarrierConfig
	Mail         MailConfig
	Kafka        KafkaConfig
	Timeouts     TimeoutsConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PricingConfig holds the pricing constants. Money values are decimal strings.
type PricingConfig struct {
	Currency              string `default:"INR"`
	CODSurcharge          string `default:"50" usage:"Cash-on-delivery surcharge"`
	ShippingCharge        string `default:"80" usage:"Flat shipping charge"`
	FreeShippingThreshold string `default:"999" usage:"Net amount above which shipping is free"`
	GSTRate               string `default:"18" usage:"Inclusive GST rate in percent"`
	GiftWrapPrice         string `default:"30" usage:"Gift wrap price"`
	ConvenienceFee        string `default:"25" usage:"Fee withheld from customer-fault refunds"`
}

// MembershipConfig configures the premium membership plan.
type MembershipConfig struct {
	Price    string        `default:"499"`
	Duration time.Duration `default:"8760h"`
}

// StripeConfig configures the redirect checkout gateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string        `default:"http://localhost:8080/api/payments/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL     string        `default:"http://localhost:8080/api/payments/checkout/cancel?session_id={CHECKOUT_SESSION_ID}"`
	SessionTTL    time.Duration `default:"30m"`
}

// RazorpayConfig configures the intent gateway.
type RazorpayConfig struct {
	BaseURL   string `default:"https://api.razorpay.com"`
	KeyID     string
	KeySecret string
}

// CarrierConfig configures the shipping carrier client.
type CarrierConfig struct {
	BaseURL        string `default:"https://apiv2.shiprocket.in"`
	Email          string
	Password       string
	PickupLocation string        `default:"Primary"`
	TokenTTL       time.Duration `default:"216h" usage:"Carrier token lifetime"`
	TokenKey       string        `default:"checkout:carrier:token"`
}

// MailConfig configures the SMTP notifier. An empty host disables e-mail.
type MailConfig struct {
	Host     string
	Port     int `default:"587"`
	Username string
	Password string
	From     string `default:"orders@localhost"`
	Insecure bool
}

// KafkaConfig configures the event publisher. No brokers disables events.
type KafkaConfig struct {
	Brokers    []string
	Topic      string        `default:"checkout.orders"`
	AlertTopic string        `default:"checkout.alerts"`
	Timeout    time.Duration `default:"5s"`
}

// TimeoutsConfig bounds calls to external collaborators.
type TimeoutsConfig struct {
	Gateway time.Duration `default:"10s"`
	Carrier time.Duration `default:"10s"`
	Refund  time.Duration `default:"15s"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Money holds the parsed monetary settings.
type Money struct {
	Rules           pricing.Rules
	GiftWrapPrice   decimal.Decimal
	ConvenienceFee  decimal.Decimal
	MembershipPrice decimal.Decimal
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and that money values parse.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if c.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if _, err := c.Money(); err != nil {
		return err
	}
	return nil
}

// Money parses the decimal settings.
func (c *Config) Money() (Money, error) {
	var (
		m        Money
		firstErr error
	)
	parse := func(name, raw string) decimal.Decimal {
		d, err := decimal.NewFromString(raw)
		switch {
		case firstErr != nil:
		case err != nil:
			firstErr = errors.Wrapf(err, "parse %s", name)
		case d.IsNegative():
			firstErr = errors.Errorf("%s must not be negative", name)
		}
		return d
	}
	m.Rules = pricing.Rules{
		CODSurcharge:          parse("pricing.cod_surcharge", c.Pricing.CODSurcharge),
		ShippingCharge:        parse("pricing.shipping_charge", c.Pricing.ShippingCharge),
		FreeShippingThreshold: parse("pricing.free_shipping_threshold", c.Pricing.FreeShippingThreshold),
		GSTRate:               parse("pricing.gst_rate", c.Pricing.GSTRate),
	}
	m.GiftWrapPrice = parse("pricing.gift_wrap_price", c.Pricing.GiftWrapPrice)
	m.ConvenienceFee = parse("pricing.convenience_fee", c.Pricing.ConvenienceFee)
	m.MembershipPrice = parse("membership.price", c.Membership.Price)
	if firstErr != nil {
		return Money{}, firstErr
	}
	return m, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL, REDIS_URL and PORT
// to the application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && c.RedisURL == defaultRedisURL {
		c.RedisURL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
