package settlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/paywatch/internal/config"
)

// Config controls the settlement loop.
type Config struct {
	PollInterval    time.Duration
	ReserveLamports int64
	// MaxSweepAttempts caps failed sweeps per job; 0 retries forever.
	MaxSweepAttempts int
	TickTimeout      time.Duration
	LockTTL          time.Duration
	// SignatureTTL is how long an unknown sweep signature may still land.
	SignatureTTL time.Duration
	AdminWallet  string
}

func DefaultConfig() Config {
	return Config{
		PollInterval:     5 * time.Second,
		ReserveLamports:  5000,
		MaxSweepAttempts: 0,
		TickTimeout:      90 * time.Second,
		LockTTL:          2 * time.Minute,
		SignatureTTL:     2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.PollInterval < time.Second {
		c.PollInterval = time.Second
	}
	if c.ReserveLamports <= 0 {
		c.ReserveLamports = defaults.ReserveLamports
	}
	if c.MaxSweepAttempts < 0 {
		c.MaxSweepAttempts = 0
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = defaults.TickTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.SignatureTTL <= 0 {
		c.SignatureTTL = defaults.SignatureTTL
	}
	c.AdminWallet = strings.TrimSpace(c.AdminWallet)
	return c
}

func (c Config) validate() error {
	if c.AdminWallet == "" {
		return fmt.Errorf("%w: admin wallet is required", ErrInvalidConfig)
	}
	return nil
}

func ProvideConfig(cfg config.Config) (Config, error) {
	out := Config{
		PollInterval:     cfg.Settlement.PollInterval,
		ReserveLamports:  cfg.Settlement.ReserveLamports,
		MaxSweepAttempts: cfg.Settlement.MaxSweepAttempts,
		TickTimeout:      cfg.Settlement.TickTimeout,
		LockTTL:          cfg.Settlement.LockTTL,
		AdminWallet:      cfg.Ledger.AdminWallet,
	}.withDefaults()
	if err := out.validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}
