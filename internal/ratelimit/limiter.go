// Package ratelimit enforces per-wallet rolling-window bet limits.
//
// The limiter is a pure check over caller-supplied state: the settlement
// engine hands it a snapshot of the wallet's bets and the limiter counts
// how many fall inside each window. It holds no state of its own, so the
// check and the subsequent bet creation can happen under one lock.
package ratelimit

import (
	"errors"
	"time"

	"github.com/moonflip/flip-engine/internal/model"
)

var (
	// ErrMinuteLimitExceeded is returned when the wallet already has the
	// maximum number of still-pending bets started in the last minute.
	ErrMinuteLimitExceeded = errors.New("ratelimit: per-minute bet limit exceeded")

	// ErrHourLimitExceeded is returned when the wallet has reached the
	// hourly bet cap, regardless of bet status.
	ErrHourLimitExceeded = errors.New("ratelimit: per-hour bet limit exceeded")
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Limiter holds the per-wallet limits.
//
// The minute window counts only PENDING bets: a wallet whose recent bets
// have all settled may bet again immediately. The hour window counts every
// bet started in the last hour whatever its outcome.
type Limiter struct {
	PerMinute int
	PerHour   int
}

// New creates a limiter with the given per-minute and per-hour caps.
func New(perMinute, perHour int) *Limiter {
	return &Limiter{PerMinute: perMinute, PerHour: perHour}
}

// Check validates whether the wallet may place another bet right now,
// given a snapshot of all its known bets. Returns nil if allowed.
func (l *Limiter) Check(bets []model.Bet, now time.Time) error {
	minuteCutoff := now.Add(-minuteWindow)
	hourCutoff := now.Add(-hourWindow)

	var pendingLastMinute, lastHour int
	for _, b := range bets {
		if b.StartTime.After(hourCutoff) {
			lastHour++
		}
		if b.Status == model.StatusPending && b.StartTime.After(minuteCutoff) {
			pendingLastMinute++
		}
	}

	if pendingLastMinute >= l.PerMinute {
		return ErrMinuteLimitExceeded
	}
	if lastHour >= l.PerHour {
		return ErrHourLimitExceeded
	}
	return nil
}
