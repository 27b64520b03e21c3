// Package config defines the configuration of the marketplace node and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NFTMARKET_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Genesis  GenesisConfig  `toml:"genesis"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig holds the engine identity and the initial fee configuration.
type MarketConfig struct {
	Address      string `toml:"address"`
	Owner        string `toml:"owner"`
	FeeRateBps   int    `toml:"fee_rate_bps"`
	FeeRecipient string `toml:"fee_recipient"`
}

// GenesisConfig seeds the in-process ledger and collections at startup.
type GenesisConfig struct {
	// Balances maps an account address to a decimal amount of base units.
	Balances    map[string]string   `toml:"balances"`
	Collections []GenesisCollection `toml:"collections"`
}

// GenesisCollection describes one asset contract and its initial tokens.
type GenesisCollection struct {
	Address         string            `toml:"address"`
	Name            string            `toml:"name"`
	RoyaltyReceiver string            `toml:"royalty_receiver"`
	RoyaltyBps      int               `toml:"royalty_bps"`
	Tokens          []GenesisToken    `toml:"tokens"`
	Operators       []GenesisOperator `toml:"operators"`
}

// GenesisToken mints ID to Owner.
type GenesisToken struct {
	ID    string `toml:"id"`
	Owner string `toml:"owner"`
}

// GenesisOperator approves Operator for every token of Owner.
type GenesisOperator struct {
	Owner    string `toml:"owner"`
	Operator string `toml:"operator"`
}

// PostgresConfig holds the event log and read model database parameters.
type PostgresConfig struct {
	Enabled         bool     `toml:"enabled"`
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks, rate
// limits and the replay guard fall back to in-process implementations.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls export of old events to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool       `toml:"enabled"`
	Port        int        `toml:"port"`
	CORSOrigins []string   `toml:"cors_origins"`
	Auth        AuthConfig `toml:"auth"`
	// RateLimit is the number of requests per RateWindow allowed per client.
	// Zero disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// AuthConfig controls signed-request authentication of mutating endpoints.
type AuthConfig struct {
	Enabled bool     `toml:"enabled"`
	MaxSkew duration `toml:"max_skew"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			FeeRateBps: 250,
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "nftmarket",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{time.Hour},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "nftmarket",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftmarket-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Auth: AuthConfig{
				Enabled: true,
				MaxSkew: duration{5 * time.Minute},
			},
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.KindItemBought), string(domain.KindOfferAccepted)},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	errs = checkAddress(errs, "market: address", c.Market.Address)
	errs = checkAddress(errs, "market: owner", c.Market.Owner)
	errs = checkAddress(errs, "market: fee_recipient", c.Market.FeeRecipient)
	if c.Market.FeeRateBps < 0 || c.Market.FeeRateBps > domain.MaxFeeRateBps {
		errs = append(errs, fmt.Sprintf("market: fee_rate_bps must be 0-%d, got %d", domain.MaxFeeRateBps, c.Market.FeeRateBps))
	}

	errs = append(errs, c.Genesis.validate()...)

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Archive
	archiving := c.Archive.Enabled || strings.EqualFold(c.Mode, "archive")
	if archiving {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %q", c.Archive.Cron))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.Auth.Enabled && c.Server.Auth.MaxSkew.Duration <= 0 {
			errs = append(errs, "server: auth.max_skew must be > 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required with telegram_token")
	}
	if c.Notify.WebhookURL != "" && c.Notify.WebhookSecret == "" {
		errs = append(errs, "notify: webhook_secret is required with webhook_url")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (g GenesisConfig) validate() []string {
	var errs []string
	for addr, amount := range g.Balances {
		errs = checkAddress(errs, "genesis: balance account", addr)
		if _, err := uint256.FromDecimal(amount); err != nil {
			errs = append(errs, fmt.Sprintf("genesis: balance for %s is not a decimal amount: %q", addr, amount))
		}
	}
	for i, coll := range g.Collections {
		label := fmt.Sprintf("genesis: collections[%d]", i)
		errs = checkAddress(errs, label+".address", coll.Address)
		if coll.RoyaltyBps < 0 || coll.RoyaltyBps > domain.BasisPoints {
			errs = append(errs, fmt.Sprintf("%s.royalty_bps must be 0-%d, got %d", label, domain.BasisPoints, coll.RoyaltyBps))
		}
		if coll.RoyaltyBps > 0 {
			errs = checkAddress(errs, label+".royalty_receiver", coll.RoyaltyReceiver)
		}
		for j, tok := range coll.Tokens {
			if _, err := uint256.FromDecimal(tok.ID); err != nil {
				errs = append(errs, fmt.Sprintf("%s.tokens[%d].id is not a decimal token id: %q", label, j, tok.ID))
			}
			errs = checkAddress(errs, fmt.Sprintf("%s.tokens[%d].owner", label, j), tok.Owner)
		}
		for j, op := range coll.Operators {
			errs = checkAddress(errs, fmt.Sprintf("%s.operators[%d].owner", label, j), op.Owner)
			errs = checkAddress(errs, fmt.Sprintf("%s.operators[%d].operator", label, j), op.Operator)
		}
	}
	return errs
}

// checkAddress appends a problem when s is not a non-zero hex address.
func checkAddress(errs []string, field, s string) []string {
	if !common.IsHexAddress(s) {
		return append(errs, fmt.Sprintf("%s must be a hex address, got %q", field, s))
	}
	if common.HexToAddress(s) == (common.Address{}) {
		return append(errs, field+" must not be the zero address")
	}
	return errs
}
