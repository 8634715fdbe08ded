package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	LabAdvanceAll = "all"
	LabAdvanceAny = "any"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSigningKey        string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer            string        `mapstructure:"JWT_ISSUER"`
	TokenTTL             time.Duration `mapstructure:"TOKEN_TTL"`
	PrivilegedAdminEmail string        `mapstructure:"PRIVILEGED_ADMIN_EMAIL"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	ClinicTimezone       string        `mapstructure:"CLINIC_TIMEZONE"`
	ConsultationFee      int64         `mapstructure:"CONSULTATION_FEE"`
	LabTestPrice         int64         `mapstructure:"LAB_TEST_PRICE"`
	LabAdvancePolicy     string        `mapstructure:"LAB_ADVANCE_POLICY"`
	StrictTransitions    bool          `mapstructure:"STRICT_TRANSITIONS"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	ChangeStream         string        `mapstructure:"CHANGE_STREAM"`
	KafkaBrokers         []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic           string        `mapstructure:"KAFKA_TOPIC"`
	WebhookURL           string        `mapstructure:"WEBHOOK_URL"`
	WebhookSecret        string        `mapstructure:"WEBHOOK_SECRET"`
	OutboxPollInterval   time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	MailRelayURL         string        `mapstructure:"MAIL_RELAY_URL"`
	MailRelayToken       string        `mapstructure:"MAIL_RELAY_TOKEN"`
	MailFrom             string        `mapstructure:"MAIL_FROM"`
	PublicBaseURL        string        `mapstructure:"PUBLIC_BASE_URL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "TOKEN_TTL", "PRIVILEGED_ADMIN_EMAIL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"CLINIC_TIMEZONE", "CONSULTATION_FEE", "LAB_TEST_PRICE", "LAB_ADVANCE_POLICY", "STRICT_TRANSITIONS",
	"REDIS_URL", "CHANGE_STREAM", "KAFKA_BROKERS", "KAFKA_TOPIC", "WEBHOOK_URL", "WEBHOOK_SECRET", "OUTBOX_POLL_INTERVAL",
	"MAIL_RELAY_URL", "MAIL_RELAY_TOKEN", "MAIL_FROM", "PUBLIC_BASE_URL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "clinic")
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("CLINIC_TIMEZONE", "Africa/Kampala")
	v.SetDefault("CONSULTATION_FEE", 20000)
	v.SetDefault("LAB_TEST_PRICE", 15000)
	v.SetDefault("LAB_ADVANCE_POLICY", LabAdvanceAll)
	v.SetDefault("STRICT_TRANSITIONS", false)
	v.SetDefault("CHANGE_STREAM", "clinic:changes")
	v.SetDefault("KAFKA_TOPIC", "clinic.changes")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "1s")
	v.SetDefault("MAIL_FROM", "no-reply@clinic.local")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	cfg.PrivilegedAdminEmail = strings.ToLower(strings.TrimSpace(cfg.PrivilegedAdminEmail))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSigningKey == "" {
		log.Println("WARNING: JWT_SIGNING_KEY is unset; using the development signing key.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		cfg.JWTSigningKey = "development-signing-key"
	}

	return cfg, nil
}

// splitList normalises comma separated env values, trimming whitespace
// around each element.
func splitList(parsed []string, raw string) []string {
	if raw == "" {
		raw = strings.Join(parsed, ",")
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. Calendar-day reporting depends on it.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.ClinicTimezone)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV is %q", c.Env)
	}
	if c.IsProduction() && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters in production")
	}
	if c.LabAdvancePolicy != LabAdvanceAll && c.LabAdvancePolicy != LabAdvanceAny {
		return fmt.Errorf("LAB_ADVANCE_POLICY must be %q or %q, got %q", LabAdvanceAll, LabAdvanceAny, c.LabAdvancePolicy)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	if c.ConsultationFee < 0 || c.LabTestPrice < 0 {
		return fmt.Errorf("CONSULTATION_FEE and LAB_TEST_PRICE must not be negative")
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	return nil
}
