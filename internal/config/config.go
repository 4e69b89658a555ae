package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/serenity/billing/internal/platform/clearinghouse"
	"github.com/serenity/billing/internal/platform/x12"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// Interchange envelope identities.
	X12SenderID          string `mapstructure:"X12_SENDER_ID"`
	X12ReceiverID        string `mapstructure:"X12_RECEIVER_ID"`
	X12SenderQualifier   string `mapstructure:"X12_SENDER_QUALIFIER"`
	X12ReceiverQualifier string `mapstructure:"X12_RECEIVER_QUALIFIER"`
	X12Usage             string `mapstructure:"X12_USAGE"`
	X12SubmitterName     string `mapstructure:"X12_SUBMITTER_NAME"`
	X12SubmitterContact  string `mapstructure:"X12_SUBMITTER_CONTACT"`
	X12SubmitterPhone    string `mapstructure:"X12_SUBMITTER_PHONE"`
	X12ReceiverName      string `mapstructure:"X12_RECEIVER_NAME"`

	ClearinghouseURL            string        `mapstructure:"CLEARINGHOUSE_URL"`
	ClearinghouseAPIKey         string        `mapstructure:"CLEARINGHOUSE_API_KEY"`
	ClearinghouseSubmitterID    string        `mapstructure:"CLEARINGHOUSE_SUBMITTER_ID"`
	ClearinghouseTimeout        time.Duration `mapstructure:"CLEARINGHOUSE_TIMEOUT"`
	ClearinghouseRateLimitRPS   float64       `mapstructure:"CLEARINGHOUSE_RATE_LIMIT_RPS"`
	ClearinghouseRateLimitBurst int           `mapstructure:"CLEARINGHOUSE_RATE_LIMIT_BURST"`
	RemittanceCacheTTL          time.Duration `mapstructure:"REMITTANCE_CACHE_TTL"`

	// AckPollSchedule is a cron spec; empty disables the poller.
	AckPollSchedule string        `mapstructure:"ACK_POLL_SCHEDULE"`
	AckPollTimeout  time.Duration `mapstructure:"ACK_POLL_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"X12_SENDER_ID", "X12_RECEIVER_ID", "X12_SENDER_QUALIFIER", "X12_RECEIVER_QUALIFIER",
	"X12_USAGE", "X12_SUBMITTER_NAME", "X12_SUBMITTER_CONTACT", "X12_SUBMITTER_PHONE",
	"X12_RECEIVER_NAME",
	"CLEARINGHOUSE_URL", "CLEARINGHOUSE_API_KEY", "CLEARINGHOUSE_SUBMITTER_ID",
	"CLEARINGHOUSE_TIMEOUT", "CLEARINGHOUSE_RATE_LIMIT_RPS", "CLEARINGHOUSE_RATE_LIMIT_BURST",
	"REMITTANCE_CACHE_TTL", "ACK_POLL_SCHEDULE", "ACK_POLL_TIMEOUT",
}

// Load reads the configuration and requires a database.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// Read loads .env and the environment over the defaults. Offline tools use
// it directly since they never open a database.
func Read() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("X12_SENDER_QUALIFIER", "ZZ")
	v.SetDefault("X12_RECEIVER_QUALIFIER", "ZZ")
	v.SetDefault("X12_USAGE", "T")
	v.SetDefault("CLEARINGHOUSE_TIMEOUT", "60s")
	v.SetDefault("CLEARINGHOUSE_RATE_LIMIT_RPS", 5)
	v.SetDefault("CLEARINGHOUSE_RATE_LIMIT_BURST", 10)
	v.SetDefault("REMITTANCE_CACHE_TTL", "15m")
	v.SetDefault("ACK_POLL_SCHEDULE", "@every 15m")
	v.SetDefault("ACK_POLL_TIMEOUT", "5m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
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

// Clearinghouse returns the clearinghouse client settings.
func (c *Config) Clearinghouse() clearinghouse.Config {
	return clearinghouse.Config{
		BaseURL:        c.ClearinghouseURL,
		APIKey:         c.ClearinghouseAPIKey,
		SubmitterID:    c.ClearinghouseSubmitterID,
		Timeout:        c.ClearinghouseTimeout,
		RateLimitRPS:   c.ClearinghouseRateLimitRPS,
		RateLimitBurst: c.ClearinghouseRateLimitBurst,
	}
}

// Envelope returns the interchange identities used for every generated 837P.
// The control number is assigned per file.
func (c *Config) Envelope() x12.GeneratorConfig {
	return x12.GeneratorConfig{
		SenderID:          c.X12SenderID,
		ReceiverID:        c.X12ReceiverID,
		IsTest:            c.X12Usage != "P",
		SenderQualifier:   c.X12SenderQualifier,
		ReceiverQualifier: c.X12ReceiverQualifier,
		SubmitterName:     c.X12SubmitterName,
		SubmitterContact:  c.X12SubmitterContact,
		SubmitterPhone:    c.X12SubmitterPhone,
		ReceiverName:      c.X12ReceiverName,
	}
}

// Validate checks that the configuration is safe to run. Production
// interchanges must be addressed and flagged for production use.
func (c *Config) Validate() error {
	if c.X12Usage != "T" && c.X12Usage != "P" {
		return fmt.Errorf("X12_USAGE must be \"T\" or \"P\", got %q", c.X12Usage)
	}
	if len(c.X12SenderID) > 15 {
		return fmt.Errorf("X12_SENDER_ID must be at most 15 characters, got %d", len(c.X12SenderID))
	}
	if len(c.X12ReceiverID) > 15 {
		return fmt.Errorf("X12_RECEIVER_ID must be at most 15 characters, got %d", len(c.X12ReceiverID))
	}
	if len(c.X12SenderQualifier) != 2 || len(c.X12ReceiverQualifier) != 2 {
		return fmt.Errorf("X12 sender and receiver qualifiers must be 2 characters")
	}

	if c.IsProduction() {
		if c.X12Usage != "P" {
			return fmt.Errorf("X12_USAGE must be \"P\" in production")
		}
		if c.X12ReceiverID == "" {
			return fmt.Errorf("X12_RECEIVER_ID is required in production")
		}
		if c.X12SenderID == "" && c.ClearinghouseSubmitterID == "" {
			return fmt.Errorf("X12_SENDER_ID or CLEARINGHOUSE_SUBMITTER_ID is required in production")
		}
	}

	if c.ClearinghouseURL != "" && c.ClearinghouseAPIKey == "" {
		return fmt.Errorf("CLEARINGHOUSE_API_KEY is required when CLEARINGHOUSE_URL is set")
	}
	if c.ClearinghouseTimeout < 0 {
		return fmt.Errorf("CLEARINGHOUSE_TIMEOUT must not be negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
