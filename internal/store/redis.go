package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moonflip/flip-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for bet lookups and user stats. Writes go to the primary store and
// invalidate the affected keys; reads check Redis first then fall back.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateBet(ctx context.Context, bet *model.Bet) error {
	if err := s.primary.CreateBet(ctx, bet); err != nil {
		return err
	}
	s.cacheBet(ctx, bet)
	s.rdb.Del(ctx, statsKey(bet.UserWallet))
	return nil
}

func (s *CachedStore) ResolveBet(ctx context.Context, result *model.GameResult) error {
	if err := s.primary.ResolveBet(ctx, result); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the settled row.
	s.rdb.Del(ctx, betKey(result.Bet.ID), statsKey(result.Bet.UserWallet))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	data, err := s.rdb.Get(ctx, betKey(id)).Bytes()
	if err == nil {
		var b model.Bet
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	b, err := s.primary.GetBet(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheBet(ctx, b)
	return b, nil
}

func (s *CachedStore) GetOrCreateUserStats(ctx context.Context, wallet string) (*model.UserStats, error) {
	data, err := s.rdb.Get(ctx, statsKey(wallet)).Bytes()
	if err == nil {
		var st model.UserStats
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetOrCreateUserStats(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, statsKey(wallet), data, s.ttl)
	}
	return st, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPendingBets(ctx context.Context) ([]model.Bet, error) {
	return s.primary.ListPendingBets(ctx)
}

func (s *CachedStore) BetHistory(ctx context.Context, wallet string, limit int) ([]model.Bet, error) {
	return s.primary.BetHistory(ctx, wallet, limit)
}

func (s *CachedStore) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	return s.primary.Leaderboard(ctx, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheBet(ctx context.Context, b *model.Bet) {
	if data, err := json.Marshal(b); err == nil {
		s.rdb.Set(ctx, betKey(b.ID), data, s.ttl)
	}
}

func betKey(id string) string       { return fmt.Sprintf("bet:%s", id) }
func statsKey(wallet string) string { return fmt.Sprintf("stats:%s", wallet) }
