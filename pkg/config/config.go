package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Session      SessionConfig
	Ledger       LedgerConfig
	Stripe       StripeConfig
	Generator    GeneratorConfig
	Webhook      WebhookConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"THUMBGEN_APP_ENV" required:"true"`
	Port         string `envconfig:"THUMBGEN_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"THUMBGEN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"THUMBGEN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"THUMBGEN_DB_DSN"`
	Driver string `envconfig:"THUMBGEN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"THUMBGEN_DB_HOST"`
	LegacyPort     int    `envconfig:"THUMBGEN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"THUMBGEN_DB_USER"`
	LegacyPassword string `envconfig:"THUMBGEN_DB_PASSWORD"`
	LegacyName     string `envconfig:"THUMBGEN_DB_NAME"`
	LegacySSLMode  string `envconfig:"THUMBGEN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"THUMBGEN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"THUMBGEN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"THUMBGEN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"THUMBGEN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"THUMBGEN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"THUMBGEN_REDIS_ADDR"`
	Password     string        `envconfig:"THUMBGEN_REDIS_PASSWORD"`
	DB           int           `envconfig:"THUMBGEN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"THUMBGEN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"THUMBGEN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"THUMBGEN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"THUMBGEN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"THUMBGEN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// SessionConfig drives session token minting and verification.
type SessionConfig struct {
	Secret   string `envconfig:"THUMBGEN_SESSION_SECRET" required:"true"`
	Issuer   string `envconfig:"THUMBGEN_SESSION_ISSUER" default:"thumbgen"`
	TTLHours int    `envconfig:"THUMBGEN_SESSION_TTL_HOURS" default:"24"`
}

// TTL returns the configured session token lifetime.
func (s SessionConfig) TTL() time.Duration {
	if s.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.TTLHours) * time.Hour
}

// LedgerConfig holds tunables for the credit ledger and subscription cycle.
type LedgerConfig struct {
	StarterCredits    int           `envconfig:"THUMBGEN_LEDGER_STARTER_CREDITS" default:"10"`
	RenewalInterval   time.Duration `envconfig:"THUMBGEN_LEDGER_RENEWAL_INTERVAL" default:"720h"`
	BillingHistoryCap int           `envconfig:"THUMBGEN_LEDGER_BILLING_HISTORY_CAP" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"THUMBGEN_STRIPE_API_KEY"`
	Secret string `envconfig:"THUMBGEN_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"THUMBGEN_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// GeneratorConfig points at the external generation service.
type GeneratorConfig struct {
	BaseURL string        `envconfig:"THUMBGEN_GENERATOR_BASE_URL"`
	APIKey  string        `envconfig:"THUMBGEN_GENERATOR_API_KEY"`
	Timeout time.Duration `envconfig:"THUMBGEN_GENERATOR_TIMEOUT" default:"5m"`
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"THUMBGEN_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
}

// RateLimitConfig throttles account creation per client IP. A zero window
// or limit disables the throttle.
type RateLimitConfig struct {
	SessionWindow time.Duration `envconfig:"THUMBGEN_RATE_LIMIT_SESSION_WINDOW" default:"1m"`
	SessionLimit  int           `envconfig:"THUMBGEN_RATE_LIMIT_SESSION_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"THUMBGEN_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
