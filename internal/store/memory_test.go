package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moonflip/flip-engine/internal/model"
	"github.com/moonflip/flip-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newBet(wallet string, status model.Status) *model.Bet {
	now := time.Now().UTC()
	return &model.Bet{
		ID:           uuid.New().String(),
		UserWallet:   wallet,
		TokenAddress: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
		TokenSymbol:  "BONK",
		Stake:        d(1.0),
		Direction:    model.DirectionUp,
		StartPrice:   d(0.0000234),
		StartTime:    now,
		Status:       status,
	}
}

func TestCreateBet_RoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	bet := newBet("wallet1", model.StatusPending)
	if err := s.CreateBet(ctx, bet); err != nil {
		t.Fatalf("CreateBet failed: %v", err)
	}

	got, err := s.GetBet(ctx, bet.ID)
	if err != nil {
		t.Fatalf("GetBet failed: %v", err)
	}
	if got.UserWallet != "wallet1" || got.Status != model.StatusPending {
		t.Errorf("unexpected bet: %+v", got)
	}
	if !got.Stake.Equal(d(1.0)) {
		t.Errorf("expected stake 1.0, got %s", got.Stake)
	}
}

func TestCreateBet_RejectsDuplicateID(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	bet := newBet("wallet1", model.StatusPending)
	if err := s.CreateBet(ctx, bet); err != nil {
		t.Fatalf("CreateBet failed: %v", err)
	}
	if err := s.CreateBet(ctx, bet); err == nil {
		t.Error("expected duplicate id to be rejected")
	}
}

func TestCreateBet_BumpsUserStats(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.CreateBet(ctx, newBet("wallet1", model.StatusPending)); err != nil {
			t.Fatalf("CreateBet failed: %v", err)
		}
	}

	stats, err := s.GetOrCreateUserStats(ctx, "wallet1")
	if err != nil {
		t.Fatalf("GetOrCreateUserStats failed: %v", err)
	}
	if stats.TotalBets != 3 {
		t.Errorf("expected 3 total bets, got %d", stats.TotalBets)
	}
	if !stats.TotalWagered.Equal(d(3.0)) {
		t.Errorf("expected total wagered 3.0, got %s", stats.TotalWagered)
	}
}

func TestGetBet_NotFound(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := s.GetBet(context.Background(), uuid.New().String())
	if !errors.Is(err, store.ErrBetNotFound) {
		t.Errorf("expected ErrBetNotFound, got %v", err)
	}
}

func TestResolveBet_UpdatesBetAndStats(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	bet := newBet("wallet1", model.StatusPending)
	if err := s.CreateBet(ctx, bet); err != nil {
		t.Fatalf("CreateBet failed: %v", err)
	}

	settled := *bet
	settled.Status = model.StatusWon
	settled.EndPrice = d(0.0000250)
	settled.EndTime = bet.StartTime.Add(time.Minute)
	result := &model.GameResult{
		Bet:      settled,
		Won:      true,
		Payout:   d(1.855),
		OwnerFee: d(0.036),
	}
	if err := s.ResolveBet(ctx, result); err != nil {
		t.Fatalf("ResolveBet failed: %v", err)
	}

	got, err := s.GetBet(ctx, bet.ID)
	if err != nil {
		t.Fatalf("GetBet failed: %v", err)
	}
	if got.Status != model.StatusWon {
		t.Errorf("expected status WON, got %s", got.Status)
	}
	if !got.Payout.Equal(d(1.855)) {
		t.Errorf("expected payout 1.855, got %s", got.Payout)
	}

	stats, err := s.GetOrCreateUserStats(ctx, "wallet1")
	if err != nil {
		t.Fatalf("GetOrCreateUserStats failed: %v", err)
	}
	if !stats.TotalWon.Equal(d(1.855)) {
		t.Errorf("expected total won 1.855, got %s", stats.TotalWon)
	}
	if !stats.WinRate.Equal(d(100)) {
		t.Errorf("expected win rate 100, got %s", stats.WinRate)
	}
	if stats.CurrentStreak != 1 || stats.BestStreak != 1 {
		t.Errorf("unexpected streaks: current=%d best=%d", stats.CurrentStreak, stats.BestStreak)
	}
}

func TestResolveBet_UnknownBet(t *testing.T) {
	s := store.NewMemoryStore()

	result := &model.GameResult{Bet: *newBet("wallet1", model.StatusLost)}
	if err := s.ResolveBet(context.Background(), result); !errors.Is(err, store.ErrBetNotFound) {
		t.Errorf("expected ErrBetNotFound, got %v", err)
	}
}

func TestListPendingBets(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	first := newBet("wallet1", model.StatusPending)
	first.StartTime = time.Now().UTC().Add(-2 * time.Minute)
	second := newBet("wallet1", model.StatusPending)
	second.StartTime = time.Now().UTC().Add(-time.Minute)
	settled := newBet("wallet2", model.StatusPending)

	for _, b := range []*model.Bet{second, first, settled} {
		if err := s.CreateBet(ctx, b); err != nil {
			t.Fatalf("CreateBet failed: %v", err)
		}
	}
	if err := s.ResolveBet(ctx, &model.GameResult{Bet: func() model.Bet {
		b := *settled
		b.Status = model.StatusLost
		b.EndTime = time.Now().UTC()
		return b
	}()}); err != nil {
		t.Fatalf("ResolveBet failed: %v", err)
	}

	pending, err := s.ListPendingBets(ctx)
	if err != nil {
		t.Fatalf("ListPendingBets failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending bets, got %d", len(pending))
	}
	// Oldest first.
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Errorf("expected oldest-first ordering, got %s, %s", pending[0].ID, pending[1].ID)
	}
}

func TestBetHistory_TerminalOnlyNewestFirst(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		b := newBet("wallet1", model.StatusPending)
		if err := s.CreateBet(ctx, b); err != nil {
			t.Fatalf("CreateBet failed: %v", err)
		}
		settled := *b
		settled.Status = model.StatusLost
		settled.EndTime = now.Add(time.Duration(i) * time.Minute)
		if err := s.ResolveBet(ctx, &model.GameResult{Bet: settled}); err != nil {
			t.Fatalf("ResolveBet failed: %v", err)
		}
		ids = append(ids, b.ID)
	}
	// One still pending: must not appear.
	if err := s.CreateBet(ctx, newBet("wallet1", model.StatusPending)); err != nil {
		t.Fatalf("CreateBet failed: %v", err)
	}

	history, err := s.BetHistory(ctx, "wallet1", 2)
	if err != nil {
		t.Fatalf("BetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(history))
	}
	if history[0].ID != ids[2] || history[1].ID != ids[1] {
		t.Errorf("expected newest-first ordering, got %s, %s", history[0].ID, history[1].ID)
	}
}

func TestLeaderboard_RanksByTotalWon(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	settle := func(wallet string, payout decimal.Decimal) {
		t.Helper()
		b := newBet(wallet, model.StatusPending)
		if err := s.CreateBet(ctx, b); err != nil {
			t.Fatalf("CreateBet failed: %v", err)
		}
		settled := *b
		settled.Status = model.StatusWon
		settled.EndTime = time.Now().UTC()
		if err := s.ResolveBet(ctx, &model.GameResult{Bet: settled, Won: true, Payout: payout}); err != nil {
			t.Fatalf("ResolveBet failed: %v", err)
		}
	}

	settle("small", d(1.855))
	settle("big", d(9.5))
	settle("mid", d(3.71))

	entries, err := s.Leaderboard(ctx, 2)
	if err != nil {
		t.Fatalf("Leaderboard failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].WalletAddress != "big" || entries[0].Rank != 1 {
		t.Errorf("expected 'big' at rank 1, got %+v", entries[0])
	}
	if entries[1].WalletAddress != "mid" || entries[1].Rank != 2 {
		t.Errorf("expected 'mid' at rank 2, got %+v", entries[1])
	}
	if !entries[0].Profit.Equal(d(9.5)) {
		t.Errorf("expected profit 9.5, got %s", entries[0].Profit)
	}
}

func TestGetOrCreateUserStats_ZeroValues(t *testing.T) {
	s := store.NewMemoryStore()

	stats, err := s.GetOrCreateUserStats(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("GetOrCreateUserStats failed: %v", err)
	}
	if stats.TotalBets != 0 || !stats.TotalWagered.IsZero() || !stats.WinRate.IsZero() {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
	if stats.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}
