// Package model defines the core domain types shared across the flip engine.
// All monetary values and prices use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a wager: up or down over the game window.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Status is the lifecycle state of a bet. PENDING transitions exactly once
// to one of the terminal states; terminal states are absorbing.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusWon     Status = "WON"
	StatusLost    Status = "LOST"
	// StatusCancelled is the admin/error path terminal state.
	StatusCancelled Status = "CANCELLED"
	// StatusFailed marks a won bet whose payout could not be funded.
	// Distinguishable from CANCELLED so operators can intervene.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Bet is a single wager on a token's price direction over a fixed window.
// Once settled it is never mutated again: archived, not deleted.
type Bet struct {
	ID             string          `json:"id" db:"id"`
	UserWallet     string          `json:"user_wallet" db:"user_wallet"`
	TokenAddress   string          `json:"token_address" db:"token_address"`
	TokenSymbol    string          `json:"token_symbol" db:"token_symbol"`
	Stake          decimal.Decimal `json:"stake" db:"stake"`
	Direction      Direction       `json:"direction" db:"direction"`
	StartPrice     decimal.Decimal `json:"start_price" db:"start_price"`
	StartTime      time.Time       `json:"start_time" db:"start_time"`
	EndPrice       decimal.Decimal `json:"end_price,omitempty" db:"end_price"`
	EndTime        time.Time       `json:"end_time,omitempty" db:"end_time"`
	Status         Status          `json:"status" db:"status"`
	ReferralWallet string          `json:"referral_wallet,omitempty" db:"referral_wallet"`
	Payout         decimal.Decimal `json:"payout" db:"payout"` // net payout, zero unless WON
	OwnerFee       decimal.Decimal `json:"owner_fee" db:"owner_fee"`
	ReferralFee    decimal.Decimal `json:"referral_fee" db:"referral_fee"`
}

// GameResult is the outcome of a single settlement.
type GameResult struct {
	Bet         Bet             `json:"bet"`
	Won         bool            `json:"won"`
	PriceChange decimal.Decimal `json:"price_change"` // (end - start) / start
	Profit      decimal.Decimal `json:"profit"`       // net payout - stake, or -stake on loss
	Payout      decimal.Decimal `json:"payout"`       // net amount owed to the winner
	OwnerFee    decimal.Decimal `json:"owner_fee"`
	ReferralFee decimal.Decimal `json:"referral_fee,omitempty"`
}

// PriceSample is a single observation from the price feed. Confidence is
// advisory only and never affects settlement.
type PriceSample struct {
	Price      decimal.Decimal `json:"price"`
	Timestamp  time.Time       `json:"timestamp"`
	Confidence decimal.Decimal `json:"confidence"`
}

// UserStats aggregates a wallet's betting history.
type UserStats struct {
	WalletAddress string          `json:"wallet_address" db:"wallet_address"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	TotalBets     int             `json:"total_bets" db:"total_bets"`
	TotalWagered  decimal.Decimal `json:"total_wagered" db:"total_wagered"`
	TotalWon      decimal.Decimal `json:"total_won" db:"total_won"`
	TotalLost     decimal.Decimal `json:"total_lost" db:"total_lost"`
	WinRate       decimal.Decimal `json:"win_rate" db:"win_rate"` // percentage, 0-100
	BiggestWin    decimal.Decimal `json:"biggest_win" db:"biggest_win"`
	CurrentStreak int             `json:"current_streak" db:"current_streak"`
	BestStreak    int             `json:"best_streak" db:"best_streak"`
}

// ApplySettlement folds one settled bet into the stats. Win rate is the
// running average over all settled bets; a loss resets the streak.
// TotalBets must already include the bet being settled (it is incremented
// at placement time).
func (s *UserStats) ApplySettlement(won bool, stake, netPayout decimal.Decimal) {
	if won {
		s.TotalWon = s.TotalWon.Add(netPayout)
		if netPayout.GreaterThan(s.BiggestWin) {
			s.BiggestWin = netPayout
		}
		s.CurrentStreak++
		if s.CurrentStreak > s.BestStreak {
			s.BestStreak = s.CurrentStreak
		}
	} else {
		s.TotalLost = s.TotalLost.Add(stake)
		s.CurrentStreak = 0
	}

	if s.TotalBets > 0 {
		prev := s.WinRate.Mul(decimal.NewFromInt(int64(s.TotalBets - 1)))
		if won {
			prev = prev.Add(decimal.NewFromInt(100))
		}
		s.WinRate = prev.Div(decimal.NewFromInt(int64(s.TotalBets)))
	}
}

// LeaderboardEntry is one row of the winnings leaderboard.
type LeaderboardEntry struct {
	Rank          int             `json:"rank"`
	WalletAddress string          `json:"wallet_address"`
	TotalBets     int             `json:"total_bets"`
	TotalWagered  decimal.Decimal `json:"total_wagered"`
	TotalWon      decimal.Decimal `json:"total_won"`
	TotalLost     decimal.Decimal `json:"total_lost"`
	WinRate       decimal.Decimal `json:"win_rate"`
	BiggestWin    decimal.Decimal `json:"biggest_win"`
	BestStreak    int             `json:"best_streak"`
	Profit        decimal.Decimal `json:"profit"` // total_won - total_lost
}
