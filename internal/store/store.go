// Package store defines the persistence interface for bets and user stats.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
//
// The engine treats the store as a durability hook: the live bet lifecycle
// runs in memory and the store is what survives a restart.
package store

import (
	"context"
	"errors"

	"github.com/moonflip/flip-engine/internal/model"
)

// ErrBetNotFound is returned when a bet id has no record.
var ErrBetNotFound = errors.New("store: bet not found")

// Store is the persistence interface.
type Store interface {
	// CreateBet persists a new PENDING bet and bumps the wallet's
	// total-bets and total-wagered counters.
	CreateBet(ctx context.Context, bet *model.Bet) error

	// ResolveBet records a settlement: the bet's terminal state, end
	// price/time and payout breakdown, plus the wallet's updated stats.
	ResolveBet(ctx context.Context, result *model.GameResult) error

	// GetBet retrieves a bet by id.
	GetBet(ctx context.Context, id string) (*model.Bet, error)

	// ListPendingBets returns every bet still in PENDING, used at startup
	// to re-derive resolution deadlines after a crash.
	ListPendingBets(ctx context.Context) ([]model.Bet, error)

	// BetHistory returns the wallet's settled bets, most recent first.
	BetHistory(ctx context.Context, wallet string, limit int) ([]model.Bet, error)

	// GetOrCreateUserStats fetches the wallet's stats row, creating a
	// zeroed one on first sight.
	GetOrCreateUserStats(ctx context.Context, wallet string) (*model.UserStats, error)

	// Leaderboard returns the top wallets by total winnings.
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}
