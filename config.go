package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. LEARNAUTH_TOKEN_SIGNING_KEY
const EnvPrefix = "LEARNAUTH"

const (
	AuditBackendMemory = "memory"
	AuditBackendRedis  = "redis"
)

// Config is the service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Token     TokenOptions    `mapstructure:"token"`
	Session   SessionOptions  `mapstructure:"session"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	MagicLink MagicLinkConfig `mapstructure:"magic_link"`
	Tiers     TierRules       `mapstructure:"tiers"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WebhookRate     float64       `mapstructure:"webhook_rate"`
	WebhookBurst    int           `mapstructure:"webhook_burst"`
	Debug           bool          `mapstructure:"debug"`
}

type TokenOptions struct {
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type SessionOptions struct {
	CookieSecure bool   `mapstructure:"cookie_secure"`
	CookieDomain string `mapstructure:"cookie_domain"`
	// LegacyUntil is an RFC3339 timestamp. Empty means legacy cookies never expire.
	LegacyUntil string `mapstructure:"legacy_until"`
	// LegacyUpgrade lets a legacy identity cookie be exchanged for a signed session
	LegacyUpgrade bool     `mapstructure:"legacy_upgrade"`
	ExtraCookies  []string `mapstructure:"extra_cookies"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AuditConfig struct {
	Backend  string `mapstructure:"backend"`
	Capacity int    `mapstructure:"capacity"`
	Key      string `mapstructure:"key"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
	Source string `mapstructure:"source"`
}

type MagicLinkConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	SingleUse    bool          `mapstructure:"single_use"`
	BaseURL      string        `mapstructure:"base_url"`
	Redirect     string        `mapstructure:"redirect"`
	FailRedirect string        `mapstructure:"fail_redirect"`
	// LogLinks writes live magic link tokens to the log. Local development only.
	LogLinks bool `mapstructure:"log_links"`
}

type AdminConfig struct {
	Emails []string `mapstructure:"emails"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// LoadConfig reads .env, then the optional yaml file at path, then
// LEARNAUTH_ environment variables, and validates the result.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setConfigDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Admin.Emails = splitList(cfg.Admin.Emails)
	cfg.Session.ExtraCookies = splitList(cfg.Session.ExtraCookies)

	if len(cfg.Tiers.Rules) == 0 {
		def := cfg.Tiers.Default
		cfg.Tiers = DefaultTierRules()
		if def != "" {
			cfg.Tiers.Default = def
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.webhook_rate", 5.0)
	v.SetDefault("server.webhook_burst", 20)
	v.SetDefault("server.debug", false)

	v.SetDefault("token.signing_key", "")
	v.SetDefault("token.issuer", "learnauth")
	v.SetDefault("token.ttl", DefaultTokenTTL)

	v.SetDefault("session.cookie_secure", true)
	v.SetDefault("session.cookie_domain", "")
	v.SetDefault("session.legacy_until", "")
	v.SetDefault("session.legacy_upgrade", false)
	v.SetDefault("session.extra_cookies", []string{})

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "file:learnauth.db?cache=shared")

	v.SetDefault("redis.url", "")

	v.SetDefault("audit.backend", AuditBackendMemory)
	v.SetDefault("audit.capacity", DefaultAuditCapacity)
	v.SetDefault("audit.key", DefaultAuditKey)

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.source", SourceWebhook)

	v.SetDefault("magic_link.ttl", DefaultMagicLinkTTL)
	v.SetDefault("magic_link.single_use", true)
	v.SetDefault("magic_link.base_url", "http://localhost:8080")
	v.SetDefault("magic_link.redirect", "/")
	v.SetDefault("magic_link.fail_redirect", "/login?error=magic_link")
	v.SetDefault("magic_link.log_links", false)

	v.SetDefault("tiers.default", DefaultTier)

	v.SetDefault("admin.emails", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// splitList accepts both yaml lists and comma separated env values
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate implements validation.Validatable
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Token),
		validation.Field(&c.Session),
		validation.Field(&c.Database),
		validation.Field(&c.Audit),
		validation.Field(&c.MagicLink),
		validation.Field(&c.Tiers),
		validation.Field(&c.Admin),
		validation.Field(&c.Redis, validation.By(func(any) error {
			if c.Audit.Backend == AuditBackendRedis && c.Redis.URL == "" {
				return errors.New("url is required for the redis audit backend")
			}
			return nil
		})),
	)
}

func (t TokenOptions) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.SigningKey, validation.Required, validation.Length(MinSigningKeyLength, 0)),
		validation.Field(&t.Issuer, validation.Required),
		validation.Field(&t.TTL, validation.Required, validation.Min(time.Minute)),
	)
}

func (s SessionOptions) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.LegacyUntil, validation.Date(time.RFC3339)),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&d.DSN, validation.Required),
	)
}

func (a AuditConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Backend, validation.Required, validation.In(AuditBackendMemory, AuditBackendRedis)),
		validation.Field(&a.Capacity, validation.Required, validation.Min(1)),
	)
}

func (m MagicLinkConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&m.BaseURL, validation.Required, is.URL),
	)
}

func (a AdminConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Emails, validation.Each(is.Email)),
	)
}

// GetSigningKey implements TokenConfig
func (c *Config) GetSigningKey() string { return c.Token.SigningKey }

// GetIssuer implements TokenConfig
func (c *Config) GetIssuer() string { return c.Token.Issuer }

// GetTokenTTL implements TokenConfig
func (c *Config) GetTokenTTL() time.Duration { return c.Token.TTL }

// GetCookieSecure implements SessionConfig
func (c *Config) GetCookieSecure() bool { return c.Session.CookieSecure }

// GetCookieDomain implements SessionConfig
func (c *Config) GetCookieDomain() string { return c.Session.CookieDomain }

// GetLegacyUntil implements SessionConfig. Zero means no deadline.
func (c *Config) GetLegacyUntil() time.Time {
	if c.Session.LegacyUntil == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.Session.LegacyUntil)
	if err != nil {
		return time.Time{}
	}
	return t
}
