package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvDevelopment relaxes secret checks and enables the colour console logger.
	EnvDevelopment = "development"
	// EnvProduction selects the JSON production logger and strict validation.
	EnvProduction = "production"

	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	RateLimitStoreRedis  = "redis"
	RateLimitStoreMemory = "memory"

	LinkPolicyTrustEmail = "trust_email"
	LinkPolicyStrict     = "strict"

	developmentSessionSecret = "development-only-session-secret-change-me"
	minSessionSecretLength   = 32
)

type AppConfig struct {
	App            AppSettings            `mapstructure:"app"`
	Postgres       PostgresSettings       `mapstructure:"postgres"`
	Redis          RedisSettings          `mapstructure:"redis"`
	Kafka          KafkaSettings          `mapstructure:"kafka"`
	Session        SessionSettings        `mapstructure:"session"`
	Tokens         TokenSettings          `mapstructure:"tokens"`
	RateLimit      RateLimitSettings      `mapstructure:"rate_limit"`
	Argon2         Argon2Settings         `mapstructure:"argon2"`
	PasswordPolicy PasswordPolicySettings `mapstructure:"password_policy"`
	Federated      FederatedSettings      `mapstructure:"federated"`
	Links          LinkSettings           `mapstructure:"links"`
	Storage        StorageSettings        `mapstructure:"storage"`
	Telemetry      TelemetrySettings      `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// AllowedOrigins lists browser origins admitted by CORS. Empty disables CORS headers.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the event producer. Disabled falls back to a logging publisher.
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// SessionSettings configures the signed session credential.
type SessionSettings struct {
	SigningSecret string        `mapstructure:"signing_secret"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	ExtendedTTL   time.Duration `mapstructure:"extended_ttl"`
}

// TokenSettings configures single-use token lifetimes.
type TokenSettings struct {
	VerificationTTL  time.Duration `mapstructure:"verification_ttl"`
	PasswordResetTTL time.Duration `mapstructure:"password_reset_ttl"`
}

// RateLimitRule is an attempt budget within a sliding window.
type RateLimitRule struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

// RateLimitSettings configures per-endpoint attempt budgets and the backing store.
type RateLimitSettings struct {
	Store              string        `mapstructure:"store"`
	Login              RateLimitRule `mapstructure:"login"`
	AdminLogin         RateLimitRule `mapstructure:"admin_login"`
	PasswordReset      RateLimitRule `mapstructure:"password_reset"`
	VerificationResend RateLimitRule `mapstructure:"verification_resend"`
	Register           RateLimitRule `mapstructure:"register"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// PasswordPolicySettings configures password complexity rules.
type PasswordPolicySettings struct {
	MinLength           int `mapstructure:"min_length"`
	MaxLength           int `mapstructure:"max_length"`
	MinCharacterClasses int `mapstructure:"min_character_classes"`
	MinStrengthScore    int `mapstructure:"min_strength_score"`
}

// FederatedSettings configures federated login.
type FederatedSettings struct {
	LinkPolicy        string         `mapstructure:"link_policy"`
	StateCookieSecure bool           `mapstructure:"state_cookie_secure"`
	StateCookieMaxAge time.Duration  `mapstructure:"state_cookie_max_age"`
	Google            GoogleSettings `mapstructure:"google"`
}

// GoogleSettings configures the Google OpenID Connect client.
type GoogleSettings struct {
	Enabled      bool   `mapstructure:"enabled"`
	IssuerURL    string `mapstructure:"issuer_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// LinkSettings configures links embedded in outgoing emails and redirects.
type LinkSettings struct {
	BaseURL string `mapstructure:"base_url"`
}

// StorageSettings selects the account and token persistence backend.
type StorageSettings struct {
	Driver string `mapstructure:"driver"`
}

// TelemetrySettings configures tracing export. Metrics are always exposed on /metrics.
type TelemetrySettings struct {
	ServiceName    string  `mapstructure:"service_name"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.App.Env), EnvDevelopment)
}

// Validate rejects configurations that would start an insecure or broken service.
func (c *AppConfig) Validate() error {
	var errs []error

	secret := c.Session.SigningSecret
	if len(secret) < minSessionSecretLength {
		errs = append(errs, fmt.Errorf("session.signing_secret must be at least %d bytes", minSessionSecretLength))
	}
	if !c.IsDevelopment() && secret == developmentSessionSecret {
		errs = append(errs, errors.New("session.signing_secret must be overridden outside development"))
	}
	if c.Session.DefaultTTL <= 0 || c.Session.ExtendedTTL < c.Session.DefaultTTL {
		errs = append(errs, errors.New("session ttls must be positive and extended_ttl >= default_ttl"))
	}
	if c.Tokens.VerificationTTL <= 0 || c.Tokens.PasswordResetTTL <= 0 {
		errs = append(errs, errors.New("token ttls must be positive"))
	}

	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	switch c.RateLimit.Store {
	case RateLimitStoreRedis, RateLimitStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("rate_limit.store %q is not supported", c.RateLimit.Store))
	}
	switch c.Federated.LinkPolicy {
	case LinkPolicyTrustEmail, LinkPolicyStrict:
	default:
		errs = append(errs, fmt.Errorf("federated.link_policy %q is not supported", c.Federated.LinkPolicy))
	}

	if c.Federated.Google.Enabled {
		g := c.Federated.Google
		if g.ClientID == "" || g.ClientSecret == "" || g.RedirectURL == "" {
			errs = append(errs, errors.New("federated.google requires client_id, client_secret and redirect_url"))
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers must be set when kafka is enabled"))
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, errors.New("telemetry.sampling_rate must be within [0, 1]"))
	}
	if strings.TrimSpace(c.Links.BaseURL) == "" {
		errs = append(errs, errors.New("links.base_url is required"))
	}

	return errors.Join(errs...)
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IAM")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.auto_migrate",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.rate_limit_prefix",
		"kafka.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"session.signing_secret",
		"session.issuer",
		"session.audience",
		"session.default_ttl",
		"session.extended_ttl",
		"tokens.verification_ttl",
		"tokens.password_reset_ttl",
		"rate_limit.store",
		"rate_limit.login.max_attempts",
		"rate_limit.login.window",
		"rate_limit.admin_login.max_attempts",
		"rate_limit.admin_login.window",
		"rate_limit.password_reset.max_attempts",
		"rate_limit.password_reset.window",
		"rate_limit.verification_resend.max_attempts",
		"rate_limit.verification_resend.window",
		"rate_limit.register.max_attempts",
		"rate_limit.register.window",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"password_policy.min_length",
		"password_policy.max_length",
		"password_policy.min_character_classes",
		"password_policy.min_strength_score",
		"federated.link_policy",
		"federated.state_cookie_secure",
		"federated.state_cookie_max_age",
		"federated.google.enabled",
		"federated.google.issuer_url",
		"federated.google.client_id",
		"federated.google.client_secret",
		"federated.google.redirect_url",
		"links.base_url",
		"storage.driver",
		"telemetry.service_name",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Federated.LinkPolicy = strings.ToLower(strings.TrimSpace(cfg.Federated.LinkPolicy))
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.RateLimit.Store = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Store))
	cfg.Links.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Links.BaseURL), "/")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "community-identity")
	v.SetDefault("app.env", EnvDevelopment)
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "iam")
	v.SetDefault("postgres.password", "iam_password")
	v.SetDefault("postgres.database", "iam")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.rate_limit_prefix", "iam:ratelimit")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "iam")

	v.SetDefault("session.signing_secret", developmentSessionSecret)
	v.SetDefault("session.issuer", "community-identity")
	v.SetDefault("session.audience", "community-web")
	v.SetDefault("session.default_ttl", "2h")
	v.SetDefault("session.extended_ttl", "720h")

	v.SetDefault("tokens.verification_ttl", "24h")
	v.SetDefault("tokens.password_reset_ttl", "1h")

	v.SetDefault("rate_limit.store", RateLimitStoreRedis)
	v.SetDefault("rate_limit.login.max_attempts", 5)
	v.SetDefault("rate_limit.login.window", "15m")
	v.SetDefault("rate_limit.admin_login.max_attempts", 5)
	v.SetDefault("rate_limit.admin_login.window", "15m")
	v.SetDefault("rate_limit.password_reset.max_attempts", 3)
	v.SetDefault("rate_limit.password_reset.window", "1h")
	v.SetDefault("rate_limit.verification_resend.max_attempts", 3)
	v.SetDefault("rate_limit.verification_resend.window", "1h")
	v.SetDefault("rate_limit.register.max_attempts", 10)
	v.SetDefault("rate_limit.register.window", "1h")

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("password_policy.min_length", 8)
	v.SetDefault("password_policy.max_length", 128)
	v.SetDefault("password_policy.min_character_classes", 3)
	v.SetDefault("password_policy.min_strength_score", 0)

	v.SetDefault("federated.link_policy", LinkPolicyTrustEmail)
	v.SetDefault("federated.state_cookie_secure", true)
	v.SetDefault("federated.state_cookie_max_age", "10m")
	v.SetDefault("federated.google.enabled", false)
	v.SetDefault("federated.google.issuer_url", "https://accounts.google.com")

	v.SetDefault("links.base_url", "http://localhost:3000")
	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("telemetry.service_name", "community-identity")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.sampling_rate", 0.1)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IAM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
