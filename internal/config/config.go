package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Webhook   WebhookConfig
	Initiator InitiatorConfig
	Queue     QueueConfig
	Settings  SettingsConfig
	Ops       OpsConfig
	Sentry    SentryConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// WebhookConfig guards POST /webhooks/voice. An empty Secret disables the check
// outside production.
type WebhookConfig struct {
	Secret       string
	MaxBodyBytes int64

	// ReportLeaseTTL is how long one end-of-call report holds its per-job lease.
	ReportLeaseTTL time.Duration
}

// InitiatorConfig points at the service that dials a queued call job.
type InitiatorConfig struct {
	URL     string
	Timeout time.Duration
}

type QueueConfig struct {
	// MaxPromotionsPerRelease bounds how many queued jobs one freed slot may start.
	MaxPromotionsPerRelease int
}

type SettingsConfig struct {
	CacheTTL time.Duration
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string
	Environment string
}

// OpsConfig throttles the authenticated ops API per user.
type OpsConfig struct {
	RateLimitPerMinute int
	RateLimitBurst     int
}

const maxPromotionsGuard = 25

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")
	{
		n, err := optionalInt("WEBHOOK_MAX_BODY_BYTES")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Webhook.MaxBodyBytes = int64(n)
	}

	c.Webhook.ReportLeaseTTL = mustDuration("WEBHOOK_REPORT_LEASE_TTL")

	c.Initiator.URL = strings.TrimSpace(os.Getenv("INITIATOR_URL"))
	c.Initiator.Timeout = mustDuration("INITIATOR_TIMEOUT")

	{
		n, err := optionalInt("QUEUE_MAX_PROMOTIONS_PER_RELEASE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Queue.MaxPromotionsPerRelease = n
	}

	c.Settings.CacheTTL = mustDuration("SETTINGS_CACHE_TTL")

	c.Sentry.DSN = strings.TrimSpace(os.Getenv("SENTRY_DSN"))
	c.Sentry.Environment = strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT"))

	{
		n, err := optionalInt("OPS_RATE_LIMIT_PER_MINUTE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Ops.RateLimitPerMinute = n
	}
	{
		n, err := optionalInt("OPS_RATE_LIMIT_BURST")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Ops.RateLimitBurst = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills env-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			// Allowed values are enforced below.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Webhook.Secret == "" && c.IsProduction() {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required in production"))
	}
	if c.Webhook.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_MAX_BODY_BYTES must not be negative, got %d", c.Webhook.MaxBodyBytes))
	} else if c.Webhook.MaxBodyBytes == 0 {
		c.Webhook.MaxBodyBytes = 8 << 20
	}

	if c.Webhook.ReportLeaseTTL <= 0 {
		c.Webhook.ReportLeaseTTL = 15 * time.Minute
	}

	if c.Initiator.URL == "" {
		errs = append(errs, errors.New("INITIATOR_URL is required"))
	} else if u, err := url.Parse(c.Initiator.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("INITIATOR_URL must be an absolute URL, got %q", c.Initiator.URL))
	}
	if c.Initiator.Timeout <= 0 {
		c.Initiator.Timeout = 10 * time.Second
	}

	switch {
	case c.Queue.MaxPromotionsPerRelease < 0 || c.Queue.MaxPromotionsPerRelease > maxPromotionsGuard:
		errs = append(errs, fmt.Errorf("QUEUE_MAX_PROMOTIONS_PER_RELEASE must be between 1 and %d, got %d", maxPromotionsGuard, c.Queue.MaxPromotionsPerRelease))
	case c.Queue.MaxPromotionsPerRelease == 0:
		c.Queue.MaxPromotionsPerRelease = 1
	}

	if c.Settings.CacheTTL <= 0 {
		c.Settings.CacheTTL = time.Minute
	}

	if c.Sentry.Environment == "" {
		c.Sentry.Environment = c.App.Env
	}

	if c.Ops.RateLimitPerMinute < 0 || c.Ops.RateLimitBurst < 0 {
		errs = append(errs, errors.New("OPS_RATE_LIMIT_PER_MINUTE and OPS_RATE_LIMIT_BURST must not be negative"))
	}
	if c.Ops.RateLimitPerMinute == 0 {
		c.Ops.RateLimitPerMinute = 60
	}
	if c.Ops.RateLimitBurst == 0 {
		c.Ops.RateLimitBurst = 10
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
