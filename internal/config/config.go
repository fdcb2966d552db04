package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Dialer DialerConfig
	SIP    SIPConfig
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
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// DialerConfig carries every scheduling knob of the engine.
// Intervals are optional in env; Validate() applies defaults.
type DialerConfig struct {
	// TickInterval is the dispatch loop cadence.
	TickInterval time.Duration
	// WatcherInterval is the campaign cache refresh cadence.
	WatcherInterval time.Duration
	// ProbeInterval is the health probe cadence.
	ProbeInterval time.Duration
	// DialDelay is the pause between campaigns inside one tick,
	// to avoid bursting the transport.
	DialDelay time.Duration

	// MaxRetries bounds per-contact dial attempts before the contact
	// is permanently failed.
	MaxRetries int

	// StalenessWindow is how long the probe tolerates no completed tick
	// while campaigns are active.
	StalenessWindow time.Duration

	// RetryBudget bounds supervisor restart attempts before emergency mode.
	RetryBudget int
	// BackoffBase is the first restart delay; attempt N waits N*BackoffBase
	// capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// EmergencyTickInterval is the slower cadence of the degraded dispatcher.
	EmergencyTickInterval time.Duration

	// DisallowDigit is the DTMF digit that puts a contact on the DNC list.
	DisallowDigit string

	// CapTTL is the TTL on the cross-instance redis concurrency cap.
	CapTTL time.Duration
}

type SIPConfig struct {
	// GatewayAddr is the SIP gateway the provider adapter originates through.
	GatewayAddr string
	// CallerDomain forms the From URI together with a campaign's routing identity.
	CallerDomain string
}

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

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Dialer.TickInterval = mustDuration("DIALER_TICK_INTERVAL")
	c.Dialer.WatcherInterval = mustDuration("DIALER_WATCHER_INTERVAL")
	c.Dialer.ProbeInterval = mustDuration("DIALER_PROBE_INTERVAL")
	c.Dialer.DialDelay = mustDuration("DIALER_DIAL_DELAY")
	c.Dialer.MaxRetries = optionalInt("DIALER_MAX_RETRIES")
	c.Dialer.StalenessWindow = mustDuration("DIALER_STALENESS_WINDOW")
	c.Dialer.RetryBudget = optionalInt("DIALER_RETRY_BUDGET")
	c.Dialer.BackoffBase = mustDuration("DIALER_BACKOFF_BASE")
	c.Dialer.BackoffCap = mustDuration("DIALER_BACKOFF_CAP")
	c.Dialer.EmergencyTickInterval = mustDuration("DIALER_EMERGENCY_TICK_INTERVAL")
	c.Dialer.DisallowDigit = strings.TrimSpace(os.Getenv("DIALER_DISALLOW_DIGIT"))
	c.Dialer.CapTTL = mustDuration("DIALER_CAP_TTL")

	c.SIP.GatewayAddr = strings.TrimSpace(os.Getenv("SIP_GATEWAY_ADDR"))
	c.SIP.CallerDomain = strings.TrimSpace(os.Getenv("SIP_CALLER_DOMAIN"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	c.Dialer = c.Dialer.withDefaults()
	if c.Dialer.TickInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("DIALER_TICK_INTERVAL too small: %s", c.Dialer.TickInterval))
	}
	if len(c.Dialer.DisallowDigit) != 1 || c.Dialer.DisallowDigit[0] < '0' || c.Dialer.DisallowDigit[0] > '9' {
		errs = append(errs, fmt.Errorf("DIALER_DISALLOW_DIGIT must be a single digit, got %q", c.Dialer.DisallowDigit))
	}

	if c.IsProduction() && c.SIP.GatewayAddr == "" {
		errs = append(errs, errors.New("SIP_GATEWAY_ADDR is required in production"))
	}

	return joinErrors(errs)
}

func (d DialerConfig) withDefaults() DialerConfig {
	out := d
	if out.TickInterval <= 0 {
		out.TickInterval = 5 * time.Second
	}
	if out.WatcherInterval <= 0 {
		out.WatcherInterval = 30 * time.Second
	}
	if out.ProbeInterval <= 0 {
		out.ProbeInterval = time.Minute
	}
	if out.DialDelay <= 0 {
		out.DialDelay = 200 * time.Millisecond
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.StalenessWindow <= 0 {
		out.StalenessWindow = 5 * time.Minute
	}
	if out.RetryBudget <= 0 {
		out.RetryBudget = 5
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 10 * time.Second
	}
	if out.BackoffCap <= 0 {
		out.BackoffCap = 2 * time.Minute
	}
	if out.EmergencyTickInterval <= 0 {
		out.EmergencyTickInterval = 30 * time.Second
	}
	if out.DisallowDigit == "" {
		out.DisallowDigit = "9"
	}
	if out.CapTTL <= 0 {
		out.CapTTL = 10 * time.Minute
	}
	return out
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

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
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
