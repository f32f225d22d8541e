package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	AfyalinkBaseURL   string        `mapstructure:"AFYALINK_BASE_URL"`
	AfyalinkAPIKey    string        `mapstructure:"AFYALINK_API_KEY"`
	AfyalinkAPISecret string        `mapstructure:"AFYALINK_API_SECRET"`
	AfyalinkFacility  string        `mapstructure:"AFYALINK_FACILITY_CODE"`
	AfyalinkTimeout   time.Duration `mapstructure:"AFYALINK_TIMEOUT"`
	AfyalinkMock      bool          `mapstructure:"AFYALINK_MOCK"`
	SubmissionLockTTL time.Duration `mapstructure:"SUBMISSION_LOCK_TTL"`
	DocumentBucket    string        `mapstructure:"DOCUMENT_BUCKET"`
	AWSRegion         string        `mapstructure:"AWS_REGION"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AFYALINK_BASE_URL", "AFYALINK_API_KEY", "AFYALINK_API_SECRET",
	"AFYALINK_FACILITY_CODE", "AFYALINK_TIMEOUT", "AFYALINK_MOCK",
	"SUBMISSION_LOCK_TTL", "DOCUMENT_BUCKET", "AWS_REGION",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("AFYALINK_TIMEOUT", "30s")
	v.SetDefault("AFYALINK_MOCK", false)
	v.SetDefault("SUBMISSION_LOCK_TTL", "45s")
	v.SetDefault("AWS_REGION", "af-south-1")

	// Unmarshal only sees keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil || (len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",")) {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); every request is treated as an admin user.")
	}
	if cfg.AfyalinkMock {
		log.Println("WARNING: AFYALINK_MOCK=true; insurer calls return synthetic responses.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Insurer credentials
// are only required when the real gateway is in use; the facility code is
// always required because it is part of every eligibility payload.
func (c *Config) Validate() error {
	if c.AfyalinkFacility == "" {
		return fmt.Errorf("AFYALINK_FACILITY_CODE is required")
	}
	if !c.AfyalinkMock {
		if c.AfyalinkBaseURL == "" {
			return fmt.Errorf("AFYALINK_BASE_URL is required unless AFYALINK_MOCK is true")
		}
		if c.AfyalinkAPIKey == "" || c.AfyalinkAPISecret == "" {
			return fmt.Errorf("AFYALINK_API_KEY and AFYALINK_API_SECRET are required unless AFYALINK_MOCK is true")
		}
	}
	if c.IsProduction() && c.AfyalinkMock {
		return fmt.Errorf("AFYALINK_MOCK cannot be enabled in production")
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development")
	}
	if c.AfyalinkTimeout <= 0 {
		return fmt.Errorf("AFYALINK_TIMEOUT must be positive, got %s", c.AfyalinkTimeout)
	}
	// The submission lock has to outlive the slowest insurer call it guards.
	if c.SubmissionLockTTL <= c.AfyalinkTimeout {
		return fmt.Errorf("SUBMISSION_LOCK_TTL (%s) must be greater than AFYALINK_TIMEOUT (%s)",
			c.SubmissionLockTTL, c.AfyalinkTimeout)
	}
	return nil
}
