// Package payment defines the contract with the external payment rail that
// executes fund movement. The engine computes amounts; the rail moves them.
package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Instruction is a settlement request handed to the rail after a payout is
// computed. The engine never constructs or signs transfers itself.
type Instruction struct {
	BetID          string          `json:"bet_id"`
	ToWallet       string          `json:"to_wallet"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	OwnerFee       decimal.Decimal `json:"owner_fee"`
	OwnerWallet    string          `json:"owner_wallet"`
	ReferralFee    decimal.Decimal `json:"referral_fee"`
	ReferralWallet string          `json:"referral_wallet,omitempty"`
}

// Receipt acknowledges an executed settlement.
type Receipt struct {
	Reference string    `json:"reference"`
	Timestamp time.Time `json:"timestamp"`
}

// Rail executes fund movement for settled bets.
type Rail interface {
	Settle(ctx context.Context, inst Instruction) (Receipt, error)
}

// LogRail is a Rail that only records instructions. Used until a real
// payment integration is wired in deployment.
type LogRail struct{}

func (LogRail) Settle(_ context.Context, inst Instruction) (Receipt, error) {
	ref := uuid.New().String()
	slog.Info("payment instruction issued",
		"ref", ref,
		"bet_id", inst.BetID,
		"to", inst.ToWallet,
		"net", inst.NetAmount.String(),
		"owner_fee", inst.OwnerFee.String(),
		"referral_fee", inst.ReferralFee.String(),
	)
	return Receipt{Reference: ref, Timestamp: time.Now().UTC()}, nil
}
