package app

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/service"
	"github.com/spf13/viper"
)

const (
	RevocationBackendSQLite = "sqlite"
	RevocationBackendRedis  = "redis"

	MailerLog  = "log"
	MailerSMTP = "smtp"
)

type Config struct {
	AccessSecret      string        `mapstructure:"auth_access_secret"`       // Required unless AccessSecretFile is set
	AccessSecretFile  string        `mapstructure:"auth_access_secret_file"`  // Optional: file holding the access secret
	RefreshSecret     string        `mapstructure:"auth_refresh_secret"`      // Required unless RefreshSecretFile is set
	RefreshSecretFile string        `mapstructure:"auth_refresh_secret_file"` // Optional: file holding the refresh secret
	AccessTTL         time.Duration `mapstructure:"auth_access_ttl"`          // default: 15m
	RefreshTTL        time.Duration `mapstructure:"auth_refresh_ttl"`         // default: 168h
	VerificationTTL   time.Duration `mapstructure:"auth_verification_ttl"`    // default: 24h
	ResetTTL          time.Duration `mapstructure:"auth_reset_ttl"`           // default: 10m
	Issuer            string        `mapstructure:"auth_issuer"`              // default: uis-auth
	Audience          []string      `mapstructure:"auth_audience"`            // comma separated, default: uis-portal
	IssueInterval     time.Duration `mapstructure:"auth_issue_interval"`      // emailed token throttle, default: 30s
	IssueBurst        int           `mapstructure:"auth_issue_burst"`         // default: 3

	DatabaseFile      string `mapstructure:"database_file"`      // default: auth.db
	RevocationBackend string `mapstructure:"revocation_backend"` // sqlite or redis, default: sqlite
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password"`
	RedisDB           int    `mapstructure:"redis_db"`
	RedisPrefix       string `mapstructure:"redis_prefix"`

	Mailer            string        `mapstructure:"mailer"` // log or smtp, default: log
	SMTPAddr          string        `mapstructure:"smtp_addr"`
	SMTPUser          string        `mapstructure:"smtp_user"`
	SMTPPassword      string        `mapstructure:"smtp_password"`
	SMTPFrom          string        `mapstructure:"smtp_from"`
	SMTPUseTLS        bool          `mapstructure:"smtp_use_tls"`
	SMTPTimeout       time.Duration `mapstructure:"smtp_timeout"`
	SMTPSubjectPrefix string        `mapstructure:"smtp_subject_prefix"`
	PublicBaseURL     string        `mapstructure:"public_base_url"`

	PepperFile           string        `mapstructure:"pepper_file"`           // default: pepper
	Env                  string        `mapstructure:"env"`                   // dev, staging, prod (default: dev)
	LogLevel             string        `mapstructure:"log_level"`             // debug, info, warn, error (default: info)
	LogFormat            string        `mapstructure:"log_format"`            // json, text (default: json)
	MetricsAddr          string        `mapstructure:"metrics_addr"`          // empty disables the listener
	ShutdownGracePeriod  time.Duration `mapstructure:"shutdown_grace_period"` // default: 10s
	HousekeepingInterval time.Duration `mapstructure:"housekeeping_interval"` // default: 5m
}

// LoadConfig reads the optional config file at path and then the
// environment, which wins. Keys are the upper-cased mapstructure names,
// e.g. AUTH_ACCESS_SECRET.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %w", service.ErrConfiguration, path, err)
		}
	}

	v.SetDefault("auth_access_secret", "")
	v.SetDefault("auth_access_secret_file", "")
	v.SetDefault("auth_refresh_secret", "")
	v.SetDefault("auth_refresh_secret_file", "")
	v.SetDefault("auth_access_ttl", "15m")
	v.SetDefault("auth_refresh_ttl", "168h")
	v.SetDefault("auth_verification_ttl", "24h")
	v.SetDefault("auth_reset_ttl", "10m")
	v.SetDefault("auth_issuer", "uis-auth")
	v.SetDefault("auth_audience", "uis-portal")
	v.SetDefault("auth_issue_interval", "30s")
	v.SetDefault("auth_issue_burst", 3)

	v.SetDefault("database_file", "auth.db")
	v.SetDefault("revocation_backend", RevocationBackendSQLite)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_prefix", "uis:revoked:")

	v.SetDefault("mailer", MailerLog)
	v.SetDefault("smtp_addr", "localhost:1025")
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "noreply@uis.local")
	v.SetDefault("smtp_use_tls", false)
	v.SetDefault("smtp_timeout", "5s")
	v.SetDefault("smtp_subject_prefix", "[UIS]")
	v.SetDefault("public_base_url", "http://localhost:3000")

	v.SetDefault("pepper_file", "pepper")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("shutdown_grace_period", "10s")
	v.SetDefault("housekeeping_interval", "5m")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", service.ErrConfiguration, err)
	}
	cfg.Audience = splitList(cfg.Audience)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks everything that can be checked without touching the
// filesystem or network. Secrets are checked once loaded, see LoadSecrets.
func (c Config) Validate() error {
	var problems []string

	ttls := []struct {
		name string
		d    time.Duration
	}{
		{"AUTH_ACCESS_TTL", c.AccessTTL},
		{"AUTH_REFRESH_TTL", c.RefreshTTL},
		{"AUTH_VERIFICATION_TTL", c.VerificationTTL},
		{"AUTH_RESET_TTL", c.ResetTTL},
	}
	for _, ttl := range ttls {
		if ttl.d <= 0 {
			problems = append(problems, ttl.name+" must be positive")
		}
	}
	if c.AccessTTL >= c.RefreshTTL {
		problems = append(problems, "AUTH_ACCESS_TTL must be shorter than AUTH_REFRESH_TTL")
	}
	if c.Issuer == "" {
		problems = append(problems, "AUTH_ISSUER is required")
	}

	switch c.RevocationBackend {
	case RevocationBackendSQLite:
	case RevocationBackendRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "REDIS_ADDR is required for the redis revocation backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown REVOCATION_BACKEND %q", c.RevocationBackend))
	}

	switch c.Mailer {
	case MailerLog:
	case MailerSMTP:
		if c.SMTPAddr == "" || c.SMTPFrom == "" {
			problems = append(problems, "SMTP_ADDR and SMTP_FROM are required for the smtp mailer")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown MAILER %q", c.Mailer))
	}

	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, "PUBLIC_BASE_URL must be an absolute URL")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", service.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
