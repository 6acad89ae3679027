package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Redis    RedisConfig
	Razorpay RazorpayConfig
	Brevo    BrevoConfig
	Pricing  PricingConfig
	Payment  PaymentConfig
	Drafts   DraftsConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type StoreConfig struct {
	// Driver is postgres or memory.
	Driver   string
	Postgres PostgresConfig
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	MaxConns int32
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Name, p.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RazorpayConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
}

type BrevoConfig struct {
	BaseURL     string
	APIKey      string
	SenderEmail string
	SenderName  string
	MaxRetries  int
}

type PricingConfig struct {
	EarlyBirdAmount int
	EarlyBirdLead   time.Duration
}

type PaymentConfig struct {
	CaptureTimeout    time.Duration
	PendingTTL        time.Duration
	ExpiryInterval    time.Duration
	CheckoutRateLimit int
	CheckoutRateWin   time.Duration
}

type DraftsConfig struct {
	DraftTTL   time.Duration
	ProfileTTL time.Duration
}

type AdminConfig struct {
	Token string
}

// New loads .env when present and reads the configuration from the
// environment. Unset variables take their defaults; malformed ones are an
// error naming the variable.
func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var r reader

	cfg := &Config{
		Server: ServerConfig{
			Host:         r.str("SERVER_HOST", "localhost"),
			Port:         r.num("SERVER_PORT", 8080),
			ReadTimeout:  r.duration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: r.duration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Driver: r.str("STORE_DRIVER", DriverPostgres),
			Postgres: PostgresConfig{
				User:     os.Getenv("POSTGRES_USER"),
				Password: os.Getenv("POSTGRES_PASSWORD"),
				Name:     os.Getenv("POSTGRES_DB"),
				Host:     r.str("POSTGRES_HOST", "localhost"),
				Port:     r.num("POSTGRES_PORT", 5432),
				SSLMode:  r.str("POSTGRES_SSLMODE", "disable"),
				MaxConns: int32(r.num("POSTGRES_MAX_CONNS", 10)),
			},
		},
		Redis: RedisConfig{
			Addr:     r.str("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       r.num("REDIS_DB", 0),
		},
		Razorpay: RazorpayConfig{
			BaseURL:   r.str("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
			KeyID:     os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
		},
		Brevo: BrevoConfig{
			BaseURL:     r.str("BREVO_BASE_URL", "https://api.brevo.com"),
			APIKey:      os.Getenv("BREVO_API_KEY"),
			SenderEmail: r.str("SENDER_EMAIL", "hello@joynous.in"),
			SenderName:  r.str("SENDER_NAME", "Joynous"),
			MaxRetries:  r.num("EMAIL_MAX_RETRIES", 3),
		},
		Pricing: PricingConfig{
			EarlyBirdAmount: r.num("PRICING_EARLY_BIRD_AMOUNT", 150),
			EarlyBirdLead:   r.duration("PRICING_EARLY_BIRD_LEAD", 14*24*time.Hour),
		},
		Payment: PaymentConfig{
			CaptureTimeout:    r.duration("PAYMENT_CAPTURE_TIMEOUT", 8*time.Second),
			PendingTTL:        r.duration("PAYMENT_PENDING_TTL", 30*time.Minute),
			ExpiryInterval:    r.duration("PAYMENT_EXPIRY_INTERVAL", time.Minute),
			CheckoutRateLimit: r.num("CHECKOUT_RATE_LIMIT", 10),
			CheckoutRateWin:   r.duration("CHECKOUT_RATE_WINDOW", time.Minute),
		},
		Drafts: DraftsConfig{
			DraftTTL:   r.duration("DRAFT_TTL", 2*time.Hour),
			ProfileTTL: r.duration("PROFILE_TTL", 180*24*time.Hour),
		},
		Admin: AdminConfig{
			Token: os.Getenv("ADMIN_TOKEN"),
		},
	}

	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", op, r.err)
	}

	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		pg := cfg.Store.Postgres
		if pg.User == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
		}
		if pg.Password == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
		}
		if pg.Name == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
		}
	default:
		return nil, fmt.Errorf("%s: invalid STORE_DRIVER %q", op, cfg.Store.Driver)
	}

	return cfg, nil
}

// reader keeps the first parse error so New can read every variable before
// checking.
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *reader) num(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	d, err := time.ParseDuration(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return d
}
