package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix scopes every environment variable read by envconfig.
const EnvPrefix = "CARTFUL"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	Cart          CartConfig
	Checkout      CheckoutConfig
	Gateway       GatewayConfig
	Collaborators CollaboratorConfig
	Engagement    EngagementConfig
	ServiceAuth   ServiceAuthConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	FeatureFlags  FeatureFlagsConfig
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
	Env          string `envconfig:"CARTFUL_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTFUL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CARTFUL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARTFUL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CARTFUL_DB_DSN"`
	Driver string `envconfig:"CARTFUL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CARTFUL_DB_HOST"`
	LegacyPort     int    `envconfig:"CARTFUL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CARTFUL_DB_USER"`
	LegacyPassword string `envconfig:"CARTFUL_DB_PASSWORD"`
	LegacyName     string `envconfig:"CARTFUL_DB_NAME"`
	LegacySSLMode  string `envconfig:"CARTFUL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARTFUL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARTFUL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARTFUL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARTFUL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTFUL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CARTFUL_REDIS_ADDR"`
	Password     string        `envconfig:"CARTFUL_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTFUL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTFUL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTFUL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTFUL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTFUL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTFUL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type CartConfig struct {
	MaxItems        int           `envconfig:"CARTFUL_CART_MAX_ITEMS" default:"50"`
	RecalcAttempts  int           `envconfig:"CARTFUL_CART_RECALC_ATTEMPTS" default:"3"`
	RecalcBaseDelay time.Duration `envconfig:"CARTFUL_CART_RECALC_BASE_DELAY" default:"25ms"`
}

type CheckoutConfig struct {
	SessionTTL        time.Duration `envconfig:"CARTFUL_CHECKOUT_SESSION_TTL" default:"30m"`
	ReservationTTL    time.Duration `envconfig:"CARTFUL_CHECKOUT_RESERVATION_TTL" default:"30m"`
	DefaultTaxRateBps int           `envconfig:"CARTFUL_CHECKOUT_DEFAULT_TAX_RATE_BPS" default:"1800"`
}

// GatewayConfig drives the payment gateway REST client. BypassSignature
// short-circuits client signature verification for environments without a
// live gateway; it must stay off anywhere money is real.
type GatewayConfig struct {
	BaseURL         string        `envconfig:"CARTFUL_GATEWAY_BASE_URL" default:"https://api.gateway.test"`
	KeyID           string        `envconfig:"CARTFUL_GATEWAY_KEY_ID" required:"true"`
	KeySecret       string        `envconfig:"CARTFUL_GATEWAY_KEY_SECRET" required:"true"`
	WebhookSecret   string        `envconfig:"CARTFUL_GATEWAY_WEBHOOK_SECRET" required:"true"`
	Timeout         time.Duration `envconfig:"CARTFUL_GATEWAY_TIMEOUT" default:"10s"`
	BypassSignature bool          `envconfig:"CARTFUL_GATEWAY_BYPASS_SIGNATURE" default:"false"`
}

type CollaboratorConfig struct {
	InventoryURL  string        `envconfig:"CARTFUL_INVENTORY_URL" required:"true"`
	PricingURL    string        `envconfig:"CARTFUL_PRICING_URL" required:"true"`
	CatalogURL    string        `envconfig:"CARTFUL_CATALOG_URL" required:"true"`
	EngagementURL string        `envconfig:"CARTFUL_ENGAGEMENT_URL"`
	Timeout       time.Duration `envconfig:"CARTFUL_COLLABORATOR_TIMEOUT" default:"5s"`

	BreakerFailureThreshold int           `envconfig:"CARTFUL_BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerCooldown         time.Duration `envconfig:"CARTFUL_BREAKER_COOLDOWN" default:"30s"`
}

// EngagementConfig controls the notification collaborator. DegradeGracefully
// keeps notification failures out of the money path.
type EngagementConfig struct {
	DegradeGracefully bool `envconfig:"CARTFUL_ENGAGEMENT_DEGRADE_GRACEFULLY" default:"true"`
}

type ServiceAuthConfig struct {
	Secret   string        `envconfig:"CARTFUL_SERVICE_AUTH_SECRET" required:"true"`
	Issuer   string        `envconfig:"CARTFUL_SERVICE_AUTH_ISSUER" default:"cartful-core"`
	TokenTTL time.Duration `envconfig:"CARTFUL_SERVICE_AUTH_TOKEN_TTL" default:"5m"`
}

type PubSubConfig struct {
	ProjectID   string `envconfig:"CARTFUL_GCP_PROJECT_ID"`
	OrdersTopic string `envconfig:"CARTFUL_PUBSUB_ORDERS_TOPIC" default:"cartful-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CARTFUL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CARTFUL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CARTFUL_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CARTFUL_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		"CARTFUL_DB_HOST": db.LegacyHost,
		"CARTFUL_DB_USER": db.LegacyUser,
		"CARTFUL_DB_NAME": db.LegacyName,
	}
	for _, env := range []string{"CARTFUL_DB_HOST", "CARTFUL_DB_USER", "CARTFUL_DB_NAME"} {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either CARTFUL_DB_DSN or %s are required", strings.Join(missing, ", "))
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
