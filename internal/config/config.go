package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	InstanceID  int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	RateLimit RateLimitConfig

	Stripe   StripeConfig
	Alipay   AlipayConfig
	Lago     LagoConfig
	LiteLLM  LiteLLMConfig
	Outbox   OutboxConfig
	Runtime  RuntimeConfig
	Social   SocialLoginConfig
	Auth     AuthConfig
	Metrics  MetricsPushConfig
	QuotaCfg QuotaFileConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RateLimitConfig bounds quota API calls per account. It needs redis.
type RateLimitConfig struct {
	Enabled      bool
	AccountRate  float64
	AccountBurst int
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	APIBase       string
	Tolerance     time.Duration
}

type AlipayConfig struct {
	AppID         string
	AppPrivateKey string
	PublicKey     string
	Gateway       string
	NotifyURL     string
}

type LagoConfig struct {
	APIURL           string
	APIKey           string
	EventsEnabled    bool
	CreditEndpoint   string
	PaymentsEndpoint string
	UsageEndpoint    string
}

type LiteLLMConfig struct {
	BaseURL        string
	MasterKey      string
	BudgetDuration string
	SyncEnabled    bool
	SyncInterval   time.Duration
	SyncCurrency   string
}

func (c LiteLLMConfig) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.MasterKey) != ""
}

type OutboxConfig struct {
	MaxAttempts  int
	BackoffCap   time.Duration
	BatchSize    int
	Interval     time.Duration
	HTTPTimeout  time.Duration
	ClaimLease   time.Duration
	DrainEnabled bool
}

type RuntimeConfig struct {
	TTL        time.Duration
	StrictDB   bool
	StateTTL   time.Duration
	StateStore string
}

// SocialLoginConfig holds the OIDC client used for social sign-in. Each
// field can be overridden at runtime through the settings table.
type SocialLoginConfig struct {
	Endpoint        string
	ClientID        string
	RedirectURI     string
	PostLoginURL    string
	GoogleConnector string
	GithubConnector string
}

type AuthConfig struct {
	DevAPIKey  string
	APIKeyHash string
}

type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

// QuotaFileConfig points at the hot-reloaded quota policy file.
type QuotaFileConfig struct {
	ConfigName string
	ConfigDirs []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	syncInterval := time.Duration(getenvInt("LITELLM_SYNC_INTERVAL_SEC", 900)) * time.Second
	if syncInterval < time.Minute {
		syncInterval = time.Minute
	}

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "meterguard"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		InstanceID:   getenvInt64("INSTANCE_ID", 1),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "meterguard"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "meterguard.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME_SEC", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME_SEC", 300),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getenvBool("RATE_LIMIT_ENABLED", false),
			AccountRate:  getenvFloat("RATE_LIMIT_ACCOUNT_RATE", 50),
			AccountBurst: getenvInt("RATE_LIMIT_ACCOUNT_BURST", 100),
		},
		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			APIBase:       getenv("STRIPE_API_BASE", "https://api.stripe.com"),
			Tolerance:     getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		Alipay: AlipayConfig{
			AppID:         strings.TrimSpace(getenv("ALIPAY_APP_ID", "")),
			AppPrivateKey: strings.TrimSpace(getenv("ALIPAY_APP_PRIVATE_KEY", "")),
			PublicKey:     strings.TrimSpace(getenv("ALIPAY_PUBLIC_KEY", "")),
			Gateway:       getenv("ALIPAY_GATEWAY", "https://openapi.alipay.com/gateway.do"),
			NotifyURL:     strings.TrimSpace(getenv("ALIPAY_NOTIFY_URL", "")),
		},
		Lago: LagoConfig{
			APIURL:           strings.TrimRight(strings.TrimSpace(getenv("LAGO_API_URL", "")), "/"),
			APIKey:           strings.TrimSpace(getenv("LAGO_API_KEY", "")),
			EventsEnabled:    getenvBool("LAGO_EVENTS_ENABLED", false),
			CreditEndpoint:   getenv("LAGO_CREDIT_ENDPOINT", "/credits"),
			PaymentsEndpoint: getenv("LAGO_PAYMENTS_ENDPOINT", "/events/payment"),
			UsageEndpoint:    getenv("LAGO_USAGE_ENDPOINT", "/events/usage"),
		},
		LiteLLM: LiteLLMConfig{
			BaseURL:        strings.TrimRight(strings.TrimSpace(getenv("LITELLM_BASE_URL", "")), "/"),
			MasterKey:      strings.TrimSpace(getenv("LITELLM_MASTER_KEY", "")),
			BudgetDuration: getenv("LITELLM_BUDGET_DURATION", "30d"),
			SyncEnabled:    getenvBool("LITELLM_SYNC_ENABLED", true),
			SyncInterval:   syncInterval,
			SyncCurrency:   strings.ToUpper(getenv("LITELLM_SYNC_CURRENCY", "USD")),
		},
		Outbox: OutboxConfig{
			MaxAttempts:  getenvInt("OUTBOX_MAX_ATTEMPTS", 5),
			BackoffCap:   time.Duration(getenvInt("OUTBOX_BACKOFF_CAP_SEC", 3600)) * time.Second,
			BatchSize:    getenvInt("OUTBOX_BATCH_SIZE", 10),
			Interval:     time.Duration(getenvInt("OUTBOX_INTERVAL_SEC", 5)) * time.Second,
			HTTPTimeout:  time.Duration(getenvInt("OUTBOX_HTTP_TIMEOUT_SEC", 5)) * time.Second,
			ClaimLease:   time.Duration(getenvInt("OUTBOX_CLAIM_LEASE_SEC", 60)) * time.Second,
			DrainEnabled: getenvBool("OUTBOX_DRAIN_ENABLED", true),
		},
		Runtime: RuntimeConfig{
			TTL:        time.Duration(getenvInt("RUNTIME_CONFIG_TTL_SEC", 60)) * time.Second,
			StrictDB:   getenvBool("STRICT_DB_MODE", false),
			StateTTL:   time.Duration(getenvInt("LOGIN_STATE_TTL_SEC", 600)) * time.Second,
			StateStore: strings.ToLower(getenv("LOGIN_STATE_STORE", "memory")),
		},
		Social: SocialLoginConfig{
			Endpoint:        strings.TrimRight(strings.TrimSpace(getenv("LOGTO_ENDPOINT", "")), "/"),
			ClientID:        strings.TrimSpace(getenv("LOGTO_CLIENT_ID", "")),
			RedirectURI:     strings.TrimSpace(getenv("LOGTO_REDIRECT_URI", "")),
			PostLoginURL:    getenv("SOCIAL_POST_LOGIN_URL", "/"),
			GoogleConnector: strings.TrimSpace(getenv("CONNECTOR_GOOGLE_ID", "")),
			GithubConnector: strings.TrimSpace(getenv("CONNECTOR_GITHUB_ID", "")),
		},
		Auth: AuthConfig{
			DevAPIKey:  strings.TrimSpace(getenv("DEV_API_KEY", "")),
			APIKeyHash: strings.TrimSpace(getenv("ADMIN_API_KEY_HASH", "")),
		},
		Metrics: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", time.Minute),
		},
		QuotaCfg: QuotaFileConfig{
			ConfigName: getenv("QUOTA_CONFIG_NAME", "quota"),
			ConfigDirs: splitList(getenv("QUOTA_CONFIG_DIRS", "/etc/meterguard,.")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
