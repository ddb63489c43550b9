// Package config loads the engine configuration once at startup into a
// fixed, validated structure. Values come from an optional flip.yaml plus
// FLIP_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds every tunable of the engine. Loaded once; never mutated
// after Validate passes.
type Config struct {
	Port string `mapstructure:"port"`

	// Game settings.
	MinBet           decimal.Decimal `mapstructure:"min_bet"`
	MaxBet           decimal.Decimal `mapstructure:"max_bet"`
	GameDuration     time.Duration   `mapstructure:"game_duration"`
	PayoutMultiplier decimal.Decimal `mapstructure:"payout_multiplier"`
	HouseFeeRate     decimal.Decimal `mapstructure:"house_fee_rate"`    // share of profit
	ReferralFeeRate  decimal.Decimal `mapstructure:"referral_fee_rate"` // share of profit
	HouseWallet      string          `mapstructure:"house_wallet"`

	// Per-wallet rate limits.
	MaxBetsPerMinute int `mapstructure:"max_bets_per_minute"`
	MaxBetsPerHour   int `mapstructure:"max_bets_per_hour"`

	// Bankroll.
	InitialBankroll decimal.Decimal `mapstructure:"initial_bankroll"`
	MinimumBankroll decimal.Decimal `mapstructure:"minimum_bankroll"`

	// Price oracle.
	OracleBaseURL string        `mapstructure:"oracle_base_url"`
	OracleTimeout time.Duration `mapstructure:"oracle_timeout"`
	PriceCacheTTL time.Duration `mapstructure:"price_cache_ttl"`
	FeedDownAfter time.Duration `mapstructure:"feed_down_after"`

	// Optional token whitelist; empty means any well-formed mint is allowed.
	TokenWhitelist []string `mapstructure:"token_whitelist"`
}

// Load reads configuration from path (directory containing flip.yaml, may
// not exist) and the environment, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("flip")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading file: %w", err)
		}
		// No file is fine; defaults plus env apply.
	}

	hook := mapstructure.ComposeDecodeHookFunc(
		decimalDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("min_bet", "0.1")
	v.SetDefault("max_bet", "10")
	v.SetDefault("game_duration", "60s")
	v.SetDefault("payout_multiplier", "1.9")
	v.SetDefault("house_fee_rate", "0.04")
	v.SetDefault("referral_fee_rate", "0.01")
	v.SetDefault("house_wallet", "")
	v.SetDefault("max_bets_per_minute", 5)
	v.SetDefault("max_bets_per_hour", 50)
	v.SetDefault("initial_bankroll", "1000")
	v.SetDefault("minimum_bankroll", "100")
	v.SetDefault("oracle_base_url", "https://price.jup.ag/v6")
	v.SetDefault("oracle_timeout", "5s")
	v.SetDefault("price_cache_ttl", "2s")
	v.SetDefault("feed_down_after", "30s")
}

// Validate rejects internally inconsistent configurations.
func (c *Config) Validate() error {
	switch {
	case c.MinBet.LessThanOrEqual(decimal.Zero):
		return errors.New("config: min_bet must be positive")
	case c.MaxBet.LessThan(c.MinBet):
		return errors.New("config: max_bet must be >= min_bet")
	case c.PayoutMultiplier.LessThanOrEqual(decimal.NewFromInt(1)):
		return errors.New("config: payout_multiplier must exceed 1")
	case c.HouseFeeRate.IsNegative() || c.ReferralFeeRate.IsNegative():
		return errors.New("config: fee rates must be non-negative")
	case c.HouseFeeRate.Add(c.ReferralFeeRate).GreaterThanOrEqual(decimal.NewFromInt(1)):
		return errors.New("config: combined fee rates must be below 1")
	case c.GameDuration <= 0:
		return errors.New("config: game_duration must be positive")
	case c.MaxBetsPerMinute <= 0 || c.MaxBetsPerHour <= 0:
		return errors.New("config: rate limits must be positive")
	case c.MaxBetsPerHour < c.MaxBetsPerMinute:
		return errors.New("config: max_bets_per_hour must be >= max_bets_per_minute")
	case c.InitialBankroll.IsNegative():
		return errors.New("config: initial_bankroll must not be negative")
	case c.MinimumBankroll.IsNegative():
		return errors.New("config: minimum_bankroll must not be negative")
	case c.OracleBaseURL == "":
		return errors.New("config: oracle_base_url is required")
	case c.OracleTimeout <= 0 || c.PriceCacheTTL <= 0 || c.FeedDownAfter <= 0:
		return errors.New("config: oracle durations must be positive")
	}
	return nil
}

// decimalDecodeHook lets viper unmarshal string/number values into
// decimal.Decimal fields.
func decimalDecodeHook() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(_, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		default:
			return data, nil
		}
	}
}
