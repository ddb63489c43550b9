package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonflip/flip-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	bets  map[string]*model.Bet
	stats map[string]*model.UserStats
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bets:  make(map[string]*model.Bet),
		stats: make(map[string]*model.UserStats),
	}
}

func (s *MemoryStore) CreateBet(_ context.Context, bet *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bets[bet.ID]; exists {
		return fmt.Errorf("bet %s already exists", bet.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *bet
	s.bets[bet.ID] = &copy

	st := s.statsLocked(bet.UserWallet)
	st.TotalBets++
	st.TotalWagered = st.TotalWagered.Add(bet.Stake)
	return nil
}

func (s *MemoryStore) ResolveBet(_ context.Context, result *model.GameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.bets[result.Bet.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBetNotFound, result.Bet.ID)
	}

	stored.EndPrice = result.Bet.EndPrice
	stored.EndTime = result.Bet.EndTime
	stored.Status = result.Bet.Status
	stored.Payout = result.Payout
	stored.OwnerFee = result.OwnerFee
	stored.ReferralFee = result.ReferralFee

	st := s.statsLocked(stored.UserWallet)
	st.ApplySettlement(result.Won, stored.Stake, result.Payout)
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, id string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	copy := *b
	return &copy, nil
}

func (s *MemoryStore) ListPendingBets(_ context.Context) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []model.Bet
	for _, b := range s.bets {
		if b.Status == model.StatusPending {
			pending = append(pending, *b)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartTime.Before(pending[j].StartTime)
	})
	return pending, nil
}

func (s *MemoryStore) BetHistory(_ context.Context, wallet string, limit int) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var history []model.Bet
	for _, b := range s.bets {
		if b.UserWallet == wallet && b.Status.Terminal() {
			history = append(history, *b)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].EndTime.After(history[j].EndTime)
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (s *MemoryStore) GetOrCreateUserStats(_ context.Context, wallet string) (*model.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statsLocked(wallet)
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.LeaderboardEntry, 0, len(s.stats))
	for _, st := range s.stats {
		entries = append(entries, model.LeaderboardEntry{
			WalletAddress: st.WalletAddress,
			TotalBets:     st.TotalBets,
			TotalWagered:  st.TotalWagered,
			TotalWon:      st.TotalWon,
			TotalLost:     st.TotalLost,
			WinRate:       st.WinRate,
			BiggestWin:    st.BiggestWin,
			BestStreak:    st.BestStreak,
			Profit:        st.TotalWon.Sub(st.TotalLost),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TotalWon.GreaterThan(entries[j].TotalWon)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// statsLocked fetches or creates the wallet's stats. Caller holds the lock.
func (s *MemoryStore) statsLocked(wallet string) *model.UserStats {
	st, ok := s.stats[wallet]
	if !ok {
		st = &model.UserStats{
			WalletAddress: wallet,
			CreatedAt:     time.Now().UTC(),
			TotalWagered:  decimal.Zero,
			TotalWon:      decimal.Zero,
			TotalLost:     decimal.Zero,
			WinRate:       decimal.Zero,
			BiggestWin:    decimal.Zero,
		}
		s.stats[wallet] = st
	}
	return st
}
