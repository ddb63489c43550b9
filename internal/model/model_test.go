package model_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/moonflip/flip-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestDirection_Valid(t *testing.T) {
	if !model.DirectionUp.Valid() || !model.DirectionDown.Valid() {
		t.Error("expected UP and DOWN to be valid")
	}
	if model.Direction("SIDEWAYS").Valid() || model.Direction("").Valid() {
		t.Error("expected unknown directions to be invalid")
	}
}

func TestStatus_Terminal(t *testing.T) {
	if model.StatusPending.Terminal() {
		t.Error("PENDING must not be terminal")
	}
	for _, s := range []model.Status{model.StatusWon, model.StatusLost, model.StatusCancelled, model.StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestApplySettlement_WinLossSequence(t *testing.T) {
	stats := &model.UserStats{WalletAddress: "w1"}

	// win, win, loss, win: TotalBets is bumped at placement time.
	outcomes := []struct {
		won    bool
		stake  float64
		payout float64
	}{
		{true, 1.0, 1.855},
		{true, 2.0, 3.71},
		{false, 1.0, 0},
		{true, 1.0, 1.855},
	}
	for _, o := range outcomes {
		stats.TotalBets++
		stats.ApplySettlement(o.won, d(o.stake), d(o.payout))
	}

	if !stats.TotalWon.Equal(d(7.42)) {
		t.Errorf("expected total won 7.42, got %s", stats.TotalWon)
	}
	if !stats.TotalLost.Equal(d(1.0)) {
		t.Errorf("expected total lost 1.0, got %s", stats.TotalLost)
	}
	if !stats.BiggestWin.Equal(d(3.71)) {
		t.Errorf("expected biggest win 3.71, got %s", stats.BiggestWin)
	}
	if !stats.WinRate.Equal(d(75)) {
		t.Errorf("expected win rate 75, got %s", stats.WinRate)
	}
	if stats.CurrentStreak != 1 {
		t.Errorf("expected current streak 1 after loss reset, got %d", stats.CurrentStreak)
	}
	if stats.BestStreak != 2 {
		t.Errorf("expected best streak 2, got %d", stats.BestStreak)
	}
}

func TestApplySettlement_LossResetsStreakOnly(t *testing.T) {
	stats := &model.UserStats{WalletAddress: "w1", CurrentStreak: 3, BestStreak: 3, TotalBets: 4}

	stats.ApplySettlement(false, d(1.0), decimal.Zero)

	if stats.CurrentStreak != 0 {
		t.Errorf("expected streak reset, got %d", stats.CurrentStreak)
	}
	if stats.BestStreak != 3 {
		t.Errorf("expected best streak preserved, got %d", stats.BestStreak)
	}
}
