package config_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonflip/flip-engine/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if !cfg.MinBet.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("expected min_bet 0.1, got %s", cfg.MinBet)
	}
	if !cfg.MaxBet.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected max_bet 10, got %s", cfg.MaxBet)
	}
	if cfg.GameDuration != time.Minute {
		t.Errorf("expected game_duration 60s, got %s", cfg.GameDuration)
	}
	if !cfg.PayoutMultiplier.Equal(decimal.NewFromFloat(1.9)) {
		t.Errorf("expected payout_multiplier 1.9, got %s", cfg.PayoutMultiplier)
	}
	if !cfg.HouseFeeRate.Equal(decimal.NewFromFloat(0.04)) {
		t.Errorf("expected house_fee_rate 0.04, got %s", cfg.HouseFeeRate)
	}
	if !cfg.ReferralFeeRate.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("expected referral_fee_rate 0.01, got %s", cfg.ReferralFeeRate)
	}
	if cfg.MaxBetsPerMinute != 5 || cfg.MaxBetsPerHour != 50 {
		t.Errorf("unexpected rate limits: %d/min %d/hr", cfg.MaxBetsPerMinute, cfg.MaxBetsPerHour)
	}
	if !cfg.InitialBankroll.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected initial_bankroll 1000, got %s", cfg.InitialBankroll)
	}
	if !cfg.MinimumBankroll.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected minimum_bankroll 100, got %s", cfg.MinimumBankroll)
	}
	if cfg.OracleBaseURL == "" {
		t.Error("expected a default oracle base URL")
	}
	if cfg.PriceCacheTTL != 2*time.Second {
		t.Errorf("expected price_cache_ttl 2s, got %s", cfg.PriceCacheTTL)
	}
	if cfg.FeedDownAfter != 30*time.Second {
		t.Errorf("expected feed_down_after 30s, got %s", cfg.FeedDownAfter)
	}
	if len(cfg.TokenWhitelist) != 0 {
		t.Errorf("expected empty whitelist, got %v", cfg.TokenWhitelist)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FLIP_MIN_BET", "0.5")
	t.Setenv("FLIP_GAME_DURATION", "30s")
	t.Setenv("FLIP_MAX_BETS_PER_MINUTE", "3")

	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.MinBet.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected min_bet 0.5, got %s", cfg.MinBet)
	}
	if cfg.GameDuration != 30*time.Second {
		t.Errorf("expected game_duration 30s, got %s", cfg.GameDuration)
	}
	if cfg.MaxBetsPerMinute != 3 {
		t.Errorf("expected max_bets_per_minute 3, got %d", cfg.MaxBetsPerMinute)
	}
}

func TestLoad_RejectsInvalidEnv(t *testing.T) {
	t.Setenv("FLIP_MAX_BET", "0.01") // below default min_bet

	if _, err := config.Load(t.TempDir()); err == nil {
		t.Error("expected validation failure for max_bet < min_bet")
	}
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			MinBet:           decimal.NewFromFloat(0.1),
			MaxBet:           decimal.NewFromInt(10),
			GameDuration:     time.Minute,
			PayoutMultiplier: decimal.NewFromFloat(1.9),
			HouseFeeRate:     decimal.NewFromFloat(0.04),
			ReferralFeeRate:  decimal.NewFromFloat(0.01),
			MaxBetsPerMinute: 5,
			MaxBetsPerHour:   50,
			InitialBankroll:  decimal.NewFromInt(1000),
			MinimumBankroll:  decimal.NewFromInt(100),
			OracleBaseURL:    "https://price.jup.ag/v6",
			OracleTimeout:    5 * time.Second,
			PriceCacheTTL:    2 * time.Second,
			FeedDownAfter:    30 * time.Second,
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("expected base config to validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero min_bet", func(c *config.Config) { c.MinBet = decimal.Zero }},
		{"max below min", func(c *config.Config) { c.MaxBet = decimal.NewFromFloat(0.05) }},
		{"multiplier at 1", func(c *config.Config) { c.PayoutMultiplier = decimal.NewFromInt(1) }},
		{"negative fee", func(c *config.Config) { c.HouseFeeRate = decimal.NewFromFloat(-0.01) }},
		{"fees at 100%", func(c *config.Config) {
			c.HouseFeeRate = decimal.NewFromFloat(0.6)
			c.ReferralFeeRate = decimal.NewFromFloat(0.4)
		}},
		{"zero duration", func(c *config.Config) { c.GameDuration = 0 }},
		{"zero minute limit", func(c *config.Config) { c.MaxBetsPerMinute = 0 }},
		{"hour below minute", func(c *config.Config) { c.MaxBetsPerHour = 2 }},
		{"negative bankroll", func(c *config.Config) { c.InitialBankroll = decimal.NewFromInt(-1) }},
		{"missing oracle URL", func(c *config.Config) { c.OracleBaseURL = "" }},
		{"zero oracle timeout", func(c *config.Config) { c.OracleTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}
