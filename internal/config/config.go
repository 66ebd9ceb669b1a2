package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBPath   string `envconfig:"RAILPAY_DB_PATH" default:"./data/railpay.sqlite"`
	Port     int    `envconfig:"RAILPAY_PORT" default:"8080"`
	LogLevel string `envconfig:"RAILPAY_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"RAILPAY_LOG_DIR" default:"./logs"`
	Network  string `envconfig:"RAILPAY_NETWORK" default:"testnet"`

	// WalletID identifies the wallet this engine serves. Settlement is
	// serialized per wallet identity.
	WalletID string `envconfig:"RAILPAY_WALLET_ID" default:"default"`

	// OwnIdentities lists the wallet's own receiving identities (node key,
	// on-chain address, lightning address). A decoded target matching one of
	// these is rejected as a self payment.
	OwnIdentities []string `envconfig:"RAILPAY_OWN_IDENTITIES"`

	// SupportFeeBrackets configures the progressive operator fee as
	// comma-separated "thresholdSats:ppm" pairs, e.g. "0:4000,100000:2500,1000000:1000".
	// Each ppm applies to the slice of the amount above its threshold.
	// Empty disables the support fee entirely.
	SupportFeeBrackets string `envconfig:"RAILPAY_SUPPORT_FEE_BRACKETS" default:"0:4000,100000:2500,1000000:1000"`

	// SupportFeeAddress is the destination of the asynchronous support-fee
	// side payment. Empty disables the side payment (the fee is still quoted).
	SupportFeeAddress string `envconfig:"RAILPAY_SUPPORT_FEE_ADDRESS"`

	AssetRailEnabled  bool `envconfig:"RAILPAY_ASSET_RAIL_ENABLED" default:"true"`
	LedgerRailEnabled bool `envconfig:"RAILPAY_LEDGER_RAIL_ENABLED" default:"true"`
}

// FeeBracket is one parsed slice of the progressive support fee.
type FeeBracket struct {
	ThresholdSats int64
	PPM           int64
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars, so real environment
	// variables take precedence over .env values.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		} else {
			slog.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("%w: network must be \"mainnet\" or \"testnet\", got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.WalletID == "" {
		return fmt.Errorf("%w: wallet id must not be empty", ErrInvalidConfig)
	}
	if _, err := c.ParseFeeBrackets(); err != nil {
		return err
	}
	return nil
}

// ParseFeeBrackets parses SupportFeeBrackets into ordered brackets.
// Thresholds must be strictly ascending starting at 0 and ppm values
// non-negative, so the resulting fee function is monotone non-decreasing
// in amount.
func (c *Config) ParseFeeBrackets() ([]FeeBracket, error) {
	if strings.TrimSpace(c.SupportFeeBrackets) == "" {
		return nil, nil
	}

	parts := strings.Split(c.SupportFeeBrackets, ",")
	brackets := make([]FeeBracket, 0, len(parts))

	for _, part := range parts {
		pair := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: fee bracket %q must be threshold:ppm", ErrInvalidConfig, part)
		}
		threshold, err := strconv.ParseInt(pair[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: fee bracket threshold %q: %v", ErrInvalidConfig, pair[0], err)
		}
		ppm, err := strconv.ParseInt(pair[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: fee bracket ppm %q: %v", ErrInvalidConfig, pair[1], err)
		}
		if threshold < 0 || ppm < 0 {
			return nil, fmt.Errorf("%w: fee bracket %q must be non-negative", ErrInvalidConfig, part)
		}
		if len(brackets) > 0 && threshold <= brackets[len(brackets)-1].ThresholdSats {
			return nil, fmt.Errorf("%w: fee bracket thresholds must be strictly ascending", ErrInvalidConfig)
		}
		brackets = append(brackets, FeeBracket{ThresholdSats: threshold, PPM: ppm})
	}

	if brackets[0].ThresholdSats != 0 {
		return nil, fmt.Errorf("%w: first fee bracket threshold must be 0", ErrInvalidConfig)
	}

	return brackets, nil
}
