// Package config loads engine configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds everything the server needs to run.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache layer

	// TransferRate is the fraction of the loser's market cap transferred to
	// the winner on settlement.
	TransferRate decimal.Decimal

	// MinMarketCap is the floor (in cents) below which a team's cap never
	// drops, even when a loss would otherwise take it lower.
	MinMarketCap int64

	// BuyCloseOffset is how long before kickoff the buy window closes.
	BuyCloseOffset time.Duration

	// DefaultSharePrice (cents) is used when a team has zero total shares
	// and no launch price.
	DefaultSharePrice int64

	CacheTTL time.Duration
}

// Load reads configuration from the environment. A .env file is loaded
// first if present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              envOr("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		TransferRate:      decimal.NewFromFloat(0.10),
		MinMarketCap:      1000,
		BuyCloseOffset:    time.Hour,
		DefaultSharePrice: 100,
		CacheTTL:          30 * time.Second,
	}

	if v := os.Getenv("TRANSFER_RATE"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid TRANSFER_RATE %q: %w", v, err)
		}
		if rate.LessThanOrEqual(decimal.Zero) || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("config: TRANSFER_RATE must be in (0, 1), got %s", rate)
		}
		cfg.TransferRate = rate
	}

	var err error
	if cfg.MinMarketCap, err = envInt64("MIN_MARKET_CAP_CENTS", cfg.MinMarketCap); err != nil {
		return nil, err
	}
	if cfg.DefaultSharePrice, err = envInt64("DEFAULT_SHARE_PRICE_CENTS", cfg.DefaultSharePrice); err != nil {
		return nil, err
	}
	if cfg.BuyCloseOffset, err = envDuration("BUY_CLOSE_OFFSET", cfg.BuyCloseOffset); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", cfg.CacheTTL); err != nil {
		return nil, err
	}

	if cfg.MinMarketCap <= 0 {
		return nil, fmt.Errorf("config: MIN_MARKET_CAP_CENTS must be positive, got %d", cfg.MinMarketCap)
	}
	if cfg.BuyCloseOffset <= 0 {
		return nil, fmt.Errorf("config: BUY_CLOSE_OFFSET must be positive, got %s", cfg.BuyCloseOffset)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
