package ratelimit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/moonflip/flip-engine/internal/model"
	"github.com/moonflip/flip-engine/internal/ratelimit"
)

func betAt(status model.Status, age time.Duration, now time.Time) model.Bet {
	return model.Bet{Status: status, StartTime: now.Add(-age)}
}

func TestCheck_AllowsUnderLimits(t *testing.T) {
	l := ratelimit.New(5, 50)
	now := time.Now()

	bets := []model.Bet{
		betAt(model.StatusPending, 10*time.Second, now),
		betAt(model.StatusPending, 30*time.Second, now),
		betAt(model.StatusWon, 5*time.Second, now),
		betAt(model.StatusLost, 20*time.Minute, now),
	}

	if err := l.Check(bets, now); err != nil {
		t.Errorf("expected check to pass, got %v", err)
	}
}

func TestCheck_MinuteLimit(t *testing.T) {
	l := ratelimit.New(5, 50)
	now := time.Now()

	var bets []model.Bet
	for i := 0; i < 5; i++ {
		bets = append(bets, betAt(model.StatusPending, time.Duration(i)*time.Second, now))
	}

	err := l.Check(bets, now)
	if !errors.Is(err, ratelimit.ErrMinuteLimitExceeded) {
		t.Errorf("expected minute limit error, got %v", err)
	}
}

func TestCheck_MinuteLimitIgnoresSettled(t *testing.T) {
	l := ratelimit.New(5, 50)
	now := time.Now()

	// Five recent bets, but only two still pending.
	bets := []model.Bet{
		betAt(model.StatusPending, 5*time.Second, now),
		betAt(model.StatusPending, 10*time.Second, now),
		betAt(model.StatusWon, 15*time.Second, now),
		betAt(model.StatusLost, 20*time.Second, now),
		betAt(model.StatusCancelled, 25*time.Second, now),
	}

	if err := l.Check(bets, now); err != nil {
		t.Errorf("expected settled bets to not count toward minute window, got %v", err)
	}
}

func TestCheck_MinuteWindowSlides(t *testing.T) {
	l := ratelimit.New(5, 50)
	now := time.Now()

	var bets []model.Bet
	for i := 0; i < 5; i++ {
		bets = append(bets, betAt(model.StatusPending, 61*time.Second, now))
	}

	if err := l.Check(bets, now); err != nil {
		t.Errorf("expected bets older than a minute to fall out of the window, got %v", err)
	}
}

func TestCheck_HourLimit(t *testing.T) {
	l := ratelimit.New(5, 10)
	now := time.Now()

	// Settled bets count toward the hourly cap.
	var bets []model.Bet
	for i := 0; i < 10; i++ {
		bets = append(bets, betAt(model.StatusLost, time.Duration(i+2)*time.Minute, now))
	}

	err := l.Check(bets, now)
	if !errors.Is(err, ratelimit.ErrHourLimitExceeded) {
		t.Errorf("expected hour limit error, got %v", err)
	}
}

func TestCheck_HourWindowSlides(t *testing.T) {
	l := ratelimit.New(5, 10)
	now := time.Now()

	var bets []model.Bet
	for i := 0; i < 10; i++ {
		bets = append(bets, betAt(model.StatusLost, 61*time.Minute, now))
	}

	if err := l.Check(bets, now); err != nil {
		t.Errorf("expected bets older than an hour to fall out of the window, got %v", err)
	}
}

func TestCheck_EmptyHistory(t *testing.T) {
	l := ratelimit.New(5, 50)

	if err := l.Check(nil, time.Now()); err != nil {
		t.Errorf("expected empty history to pass, got %v", err)
	}
}
